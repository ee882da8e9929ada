package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_CreateAndValidate(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	s, err := m.Create(ctx, "work", 20*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "work", s.ProfileID)
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, s.CreatedAt.Add(20*time.Minute), s.ExpiresAt)

	got, err := m.Validate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestManager_ValidateUnknownID(t *testing.T) {
	m := NewManager()

	_, err := m.Validate(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_LazyExpiry(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	m := NewManagerWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})
	ctx := context.Background()

	s, err := m.Create(ctx, "work", 10*time.Minute)
	require.NoError(t, err)

	_, err = m.Validate(ctx, s.ID)
	require.NoError(t, err)

	mu.Lock()
	clock = now.Add(11 * time.Minute)
	mu.Unlock()

	_, err = m.Validate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrExpired)

	// The transition is terminal even if the clock were to rewind.
	mu.Lock()
	clock = now
	mu.Unlock()

	_, err = m.Validate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestManager_Revoke(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	s, err := m.Create(ctx, "work", 10*time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, s.ID))

	_, err = m.Validate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrRevoked)

	// Idempotent.
	require.NoError(t, m.Revoke(ctx, s.ID))

	assert.ErrorIs(t, m.Revoke(ctx, "never-issued"), ErrNotFound)
}

func TestManager_RevokeAfterExpiryIsNoOp(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	m := NewManagerWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})
	ctx := context.Background()

	s, err := m.Create(ctx, "work", time.Minute)
	require.NoError(t, err)

	mu.Lock()
	clock = now.Add(2 * time.Minute)
	mu.Unlock()

	// Revoking an expired session succeeds but leaves it expired.
	require.NoError(t, m.Revoke(ctx, s.ID))

	_, err = m.Validate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestManager_TerminalStatesAreExclusive(t *testing.T) {
	now := time.Now()
	clock := now
	var mu sync.Mutex
	m := NewManagerWithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	})
	ctx := context.Background()

	s, err := m.Create(ctx, "work", time.Minute)
	require.NoError(t, err)

	mu.Lock()
	clock = now.Add(2 * time.Minute)
	mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(revoke bool) {
			defer wg.Done()
			if revoke {
				_ = m.Revoke(ctx, s.ID)
			} else {
				_, _ = m.Validate(ctx, s.ID)
			}
		}(i%2 == 0)
	}
	wg.Wait()

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.True(t, got.Terminal())

	// First writer won; every later observation agrees.
	_, err1 := m.Validate(ctx, s.ID)
	_, err2 := m.Validate(ctx, s.ID)
	assert.ErrorIs(t, err1, err2)
}

func TestManager_SessionsNeverDeleted(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	s, err := m.Create(ctx, "work", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, s.ID))

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, StateRevoked, got.State)
	assert.Equal(t, 1, m.Len())
}

func TestManager_ConcurrentCreates(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Create(ctx, "work", time.Minute)
			if err != nil {
				t.Error(err)
				return
			}
			ids <- s.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate session id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 64)
}

func TestManager_ReturnedSessionIsACopy(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	s, err := m.Create(ctx, "work", time.Minute)
	require.NoError(t, err)

	s.State = StateRevoked

	got, err := m.Validate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, got.State)
}
