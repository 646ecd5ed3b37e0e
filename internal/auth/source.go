package auth

import (
	"context"
	"fmt"
	"sync"
)

// TokenSource supplies the bearer token of outgoing requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// SessionRefresher is invoked when the backend rejects the session (HTTP 401).
type SessionRefresher interface {
	Refresh(ctx context.Context) error
}

// StaticToken is a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Session is a token source whose token is replaced by Refresh.
// It satisfies both TokenSource and SessionRefresher.
type Session struct {
	mu      sync.RWMutex
	token   string
	refresh func(ctx context.Context) (string, error)
}

// NewSession returns a session starting with token. fetch obtains a
// replacement token; a nil fetch makes Refresh fail.
func NewSession(token string, fetch func(ctx context.Context) (string, error)) *Session {
	return &Session{token: token, refresh: fetch}
}

// Token returns the token carried by ctx, falling back to the session token.
func (s *Session) Token(ctx context.Context) (string, error) {
	if t := FromContext(ctx); t != "" {
		return t, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

// Refresh fetches and stores a new token.
func (s *Session) Refresh(ctx context.Context) error {
	if s.refresh == nil {
		return fmt.Errorf("session refresh not configured")
	}
	token, err := s.refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	if token == "" {
		return fmt.Errorf("refresh session: empty token")
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

type contextKey int

const tokenKey contextKey = iota

// WithToken returns a context whose outgoing requests use token instead of
// the session token. The dashboard forwards the caller's bearer token this way.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// FromContext returns the token attached by WithToken, or "".
func FromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}
