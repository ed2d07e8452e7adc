// Package client is a Go SDK for the feedback server. A shared Client
// carries the transport and session; feedback, version and training
// stores are built on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the server
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// envelope is the response shape of every non-auth route
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Count   *int            `json:"count"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Client is the HTTP transport shared by the stores
type Client struct {
	baseURL string
	http    *http.Client
	session *Session
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client for the server at baseURL. A nil session starts
// an in-memory one.
func New(baseURL string, session *Session, opts ...Option) *Client {
	if session == nil {
		session = &Session{}
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		session: session,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session attached to the client
func (c *Client) Session() *Session {
	return c.session
}

type authResponse struct {
	Message string `json:"message"`
	User    struct {
		*User
		Token string `json:"token"`
	} `json:"user"`
}

// Signup registers a new account and stores its token in the session
func (c *Client) Signup(ctx context.Context, fullname, email, password string) (*User, error) {
	body := map[string]string{"fullname": fullname, "email": email, "password": password}
	return c.authenticate(ctx, "/api/auth/signup", body)
}

// Login exchanges credentials for a token and stores it in the session
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	body := map[string]string{"email": email, "password": password}
	return c.authenticate(ctx, "/api/auth/login", body)
}

func (c *Client) authenticate(ctx context.Context, path string, body interface{}) (*User, error) {
	resp, err := c.send(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out authResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if out.User.User == nil || out.User.Token == "" {
		return nil, fmt.Errorf("auth response carried no token")
	}
	if err := c.session.Set(out.User.Token, out.User.User); err != nil {
		return nil, err
	}
	return out.User.User, nil
}

// Logout clears the session
func (c *Client) Logout() error {
	return c.session.Clear()
}

// do sends a request and decodes the envelope's data into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (*envelope, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return &env, nil
}

// send performs the request and turns non-2xx responses into *APIError
func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	return nil, decodeError(resp)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&env); err == nil {
		if env.Message != "" {
			apiErr.Message = env.Message
		}
		apiErr.Detail = env.Error
	}
	return apiErr
}
