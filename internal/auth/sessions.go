package auth

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const tokenLength = 32

// Session is one authenticated login, identified by an opaque bearer token.
type Session struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store persists sessions across restarts.
type Store interface {
	PutSession(ctx context.Context, sess Session) error
	GetSession(ctx context.Context, token string, now time.Time) (Session, bool, error)
	DeleteSession(ctx context.Context, token string) error
}

// Manager issues, validates and revokes session tokens.
type Manager struct {
	store Store
	ttl   time.Duration
}

// NewManager builds a session manager. ttl <= 0 falls back to 24 hours.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, ttl: ttl}
}

// CreateSession issues a fresh token valid for the configured TTL.
func (m *Manager) CreateSession(ctx context.Context) (Session, error) {
	token, err := gonanoid.New(tokenLength)
	if err != nil {
		return Session{}, fmt.Errorf("generate session token: %w", err)
	}
	now := time.Now().UTC()
	sess := Session{
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.PutSession(ctx, sess); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}
	return sess, nil
}

// Validate reports whether the token belongs to a live session.
func (m *Manager) Validate(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	_, ok, err := m.store.GetSession(ctx, token, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Destroy revokes a session. Revoking an unknown token is not an error.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.DeleteSession(ctx, token)
}
