package checkout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/rental-checkout/internal/domain/auth"
)

func TestRegistry_OwnerAndLookup(t *testing.T) {
	r := NewRegistry(time.Hour)
	r.Add(&Session{ID: "s1", User: auth.User{ID: "u1"}})

	require.NoError(t, r.Do("s1", "u1", func(s *Session) error {
		s.Step = StepCustomer
		return nil
	}))
	require.ErrorIs(t, r.Do("s1", "u2", func(*Session) error { return nil }), ErrForbidden)
	require.ErrorIs(t, r.Do("nope", "u1", func(*Session) error { return nil }), ErrSessionNotFound)

	require.ErrorIs(t, r.Remove("s1", "u2"), ErrForbidden)
	require.NoError(t, r.Remove("s1", "u1"))
	require.ErrorIs(t, r.Remove("s1", "u1"), ErrSessionNotFound)
	assert.Zero(t, r.Len())
}

func TestRegistry_IdleExpiry(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	r := NewRegistry(30 * time.Minute)
	r.now = func() time.Time { return now }

	r.Add(&Session{ID: "active", User: auth.User{ID: "u1"}})
	r.Add(&Session{ID: "idle", User: auth.User{ID: "u1"}})

	now = now.Add(20 * time.Minute)
	require.NoError(t, r.Do("active", "u1", func(*Session) error { return nil }))

	now = now.Add(20 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 1, r.Len())
	require.ErrorIs(t, r.Do("idle", "u1", func(*Session) error { return nil }), ErrSessionNotFound)

	now = now.Add(time.Hour)
	require.ErrorIs(t, r.Do("active", "u1", func(*Session) error { return nil }), ErrSessionNotFound)
	assert.Zero(t, r.Len())
}

func TestRegistry_SerializesSession(t *testing.T) {
	r := NewRegistry(0)
	r.Add(&Session{ID: "s1", User: auth.User{ID: "u1"}})

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Do("s1", "u1", func(s *Session) error {
				s.Step++
				return nil
			})
		}()
	}
	wg.Wait()

	require.NoError(t, r.Do("s1", "u1", func(s *Session) error {
		assert.Equal(t, Step(100), s.Step)
		return nil
	}))
}
