// Package session manages the disclosure session table: opaque ids, TTL
// expiry observed lazily, and explicit revocation. Sessions are never
// deleted; they move to a terminal state so late audit queries and repeated
// revocations stay well-defined.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the session id was never issued.
	ErrNotFound = errors.New("session not found")

	// ErrExpired indicates the session passed its expiry.
	ErrExpired = errors.New("session expired")

	// ErrRevoked indicates the session was explicitly revoked.
	ErrRevoked = errors.New("session revoked")
)

// State is the lifecycle state of a session.
type State string

const (
	StateActive  State = "active"
	StateExpired State = "expired"
	StateRevoked State = "revoked"
)

// Session is one granted disclosure window.
type Session struct {
	ID        string
	ProfileID string
	CreatedAt time.Time
	ExpiresAt time.Time
	State     State
}

// Terminal reports whether the session can never become active again.
func (s *Session) Terminal() bool {
	return s.State == StateExpired || s.State == StateRevoked
}

// Manager owns the session table. All state transitions happen under the
// table lock; expired and revoked are mutually exclusive terminal states
// and the first writer wins.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewManager creates an empty session table.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// NewManagerWithClock creates a manager with an injected clock for tests.
func NewManagerWithClock(now func() time.Time) *Manager {
	m := NewManager()
	m.now = now
	return m
}

// Create mints a new active session for the profile with the given TTL.
// Profile existence is the caller's concern; the manager only issues ids.
func (m *Manager) Create(ctx context.Context, profileID string, ttl time.Duration) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		ProfileID: profileID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		State:     StateActive,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	return copySession(s), nil
}

// Validate returns the session if it is active.
//
// Expiry is evaluated lazily: the first validator to observe the deadline
// performs the active→expired transition. Terminal sessions return
// ErrExpired or ErrRevoked accordingly.
func (m *Manager) Validate(ctx context.Context, id string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}

	switch s.State {
	case StateRevoked:
		return nil, ErrRevoked
	case StateExpired:
		return nil, ErrExpired
	}

	if !m.now().Before(s.ExpiresAt) {
		s.State = StateExpired
		return nil, ErrExpired
	}

	return copySession(s), nil
}

// Revoke moves the session to revoked.
//
// Idempotent: revoking an already-revoked or already-expired session is a
// successful no-op. Only an id that was never issued returns ErrNotFound.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}

	if s.Terminal() {
		return nil
	}

	// Lazy expiry may beat the revocation; expired stays expired.
	if !m.now().Before(s.ExpiresAt) {
		s.State = StateExpired
		return nil
	}

	s.State = StateRevoked
	return nil
}

// Get returns the session regardless of state, for audit queries.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return copySession(s), true
}

// Len returns the total number of sessions ever issued and retained.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func copySession(s *Session) *Session {
	c := *s
	return &c
}
