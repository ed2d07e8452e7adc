// Package mlclient talks to the external inference service that serves
// predictions, lab report extraction and model retraining.
package mlclient

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

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	endpointPredict = "predict"
	endpointExtract = "extract"
	endpointTrain   = "train"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics
const maxErrorBody = 4096

// StatusError is returned when the service answers with a non-2xx status
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Client calls the inference service. Every call passes through a shared
// rate limiter and a per-endpoint circuit breaker and is never retried.
type Client struct {
	baseURL   string
	http      *http.Client
	trainHTTP *http.Client
	limiter   *rate.Limiter
	cache     *expirable.LRU[string, domain.ModelOutput]

	predictBreaker *gobreaker.CircuitBreaker
	extractBreaker *gobreaker.CircuitBreaker
	trainBreaker   *gobreaker.CircuitBreaker

	metrics *metrics.ExternalMetrics
	log     *logrus.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every endpoint
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.trainHTTP = hc
	}
}

// NewClient creates a client for the service at cfg.BaseURL
func NewClient(cfg domain.MLConfig, m *metrics.ExternalMetrics, logger *logrus.Logger, opts ...Option) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = cfg.RateLimit
	}

	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		http:           &http.Client{Timeout: cfg.Timeout},
		trainHTTP:      &http.Client{Timeout: cfg.TrainTimeout},
		limiter:        rate.NewLimiter(limit, burst),
		predictBreaker: newBreaker("ml-predict", logger),
		extractBreaker: newBreaker("ml-extract", logger),
		trainBreaker:   newBreaker("ml-train", logger),
		metrics:        m,
		log:            logger,
	}
	if cfg.PredictCacheSize > 0 {
		c.cache = expirable.NewLRU[string, domain.ModelOutput](cfg.PredictCacheSize, nil, cfg.PredictCacheTTL)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call runs fn behind the rate limiter and the endpoint breaker and records its latency
func (c *Client) call(ctx context.Context, endpoint, service string, breaker *gobreaker.CircuitBreaker, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		c.metrics.ObserveCall(endpoint, err, time.Since(start))
		return nil, domain.NetworkError(service, err)
	}

	result, err := breaker.Execute(fn)
	c.metrics.ObserveCall(endpoint, err, time.Since(start))
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.log.WithField("endpoint", endpoint).Warn("Inference service circuit open, rejecting call")
		} else {
			c.log.WithError(err).WithField("endpoint", endpoint).Error("Inference service call failed")
		}
		return nil, domain.NetworkError(service, err)
	}
	return result, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", endpoint, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// checkStatus turns a non-2xx response into a StatusError
func checkStatus(endpoint string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// Health pings the service health endpoint
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus("health", resp)
}
