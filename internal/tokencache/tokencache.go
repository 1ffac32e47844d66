// Package tokencache stores short-lived bearer tokens for outbound APIs so
// that every replica shares one login.
package tokencache

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// ErrMiss is returned by Load when no valid token is stored.
var ErrMiss = errors.New("token not cached")

// Token is a bearer token with its expiry.
type Token struct {
	Value      string
	ValidUntil time.Time
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time) bool {
	return t.Value != "" && now.Before(t.ValidUntil)
}

// Store persists tokens by key.
type Store interface {
	Load(ctx context.Context, key string) (Token, error)
	Save(ctx context.Context, key string, t Token) error
	Delete(ctx context.Context, key string) error
}

// Memory is a process-local Store.
type Memory struct {
	mu     sync.Mutex
	tokens map[string]Token
	now    func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{tokens: make(map[string]Token), now: time.Now}
}

// Load returns the token stored under key. Expired entries are evicted and
// reported as ErrMiss.
func (m *Memory) Load(_ context.Context, key string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[key]
	if !ok || !t.Valid(m.now()) {
		delete(m.tokens, key)
		return Token{}, ErrMiss
	}
	return t, nil
}

// Save stores t under key, replacing any previous token.
func (m *Memory) Save(_ context.Context, key string, t Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = t
	return nil
}

// Delete removes the token stored under key. Deleting a missing key is not
// an error.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

// LoginFunc obtains a fresh token.
type LoginFunc func(ctx context.Context) (Token, error)

// Source hands out a cached token and logs in again when it expires or is
// invalidated. Concurrent callers share one login.
type Source struct {
	store Store
	key   string
	login LoginFunc
	now   func() time.Time

	mu sync.Mutex
}

// NewSource creates a Source caching under key.
func NewSource(store Store, key string, login LoginFunc) *Source {
	return &Source{store: store, key: key, login: login, now: time.Now}
}

// Token returns a valid token, logging in when the store has none.
func (s *Source) Token(ctx context.Context) (string, error) {
	if t, err := s.store.Load(ctx, s.key); err == nil && t.Valid(s.now()) {
		return t.Value, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if t, err := s.store.Load(ctx, s.key); err == nil && t.Valid(s.now()) {
		return t.Value, nil
	}

	t, err := s.login(ctx)
	if err != nil {
		return "", errors.Wrap(err, "login")
	}
	if !t.Valid(s.now()) {
		return "", errors.New("login returned an expired token")
	}
	if err := s.store.Save(ctx, s.key, t); err != nil {
		return "", errors.Wrap(err, "save token")
	}
	return t.Value, nil
}

// Invalidate drops the cached token if it still equals value.
func (s *Source) Invalidate(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.Load(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil
		}
		return err
	}
	if t.Value != value {
		return nil
	}
	return s.store.Delete(ctx, s.key)
}
