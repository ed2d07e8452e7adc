package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// Session holds the bearer token and profile of the signed-in user. A
// session with a path is persisted there on every change.
type Session struct {
	mu    sync.RWMutex
	path  string
	token string
	user  *User
}

type sessionFile struct {
	Token string       `json:"token"`
	User  *User `json:"user"`
}

// LoadSession reads the session persisted at path. A missing file yields
// an empty session bound to path.
func LoadSession(path string) (*Session, error) {
	s := &Session{path: path}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var f sessionFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse session %s: %w", path, err)
	}
	s.token, s.user = f.Token, f.User
	return s, nil
}

// Token returns the bearer token, or "" when signed out
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the signed-in user, or nil
func (s *Session) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Set replaces the token and user and persists them
func (s *Session) Set(token string, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.user = token, user
	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(sessionFile{Token: token, User: user}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// Clear signs out and removes the persisted file
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token, s.user = "", nil
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
