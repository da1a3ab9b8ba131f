package checkout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type entry struct {
	mu       sync.Mutex
	session  *Session
	owner    string
	lastSeen time.Time
}

// Registry keeps checkout sessions in memory. Operations on one session are
// serialized; sessions idle for longer than the configured timeout are
// dropped without a trace.
type Registry struct {
	idle time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a Registry expiring sessions after idle. A zero idle
// disables expiry.
func NewRegistry(idle time.Duration) *Registry {
	return &Registry{
		idle:    idle,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Add registers a new session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[s.ID] = &entry{session: s, owner: s.User.ID, lastSeen: r.now()}
}

// Do runs fn with exclusive access to the session id owned by userID.
func (r *Registry) Do(id, userID string, fn func(s *Session) error) error {
	e, err := r.lookup(id, userID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.session)
}

// Remove drops the session id owned by userID.
func (r *Registry) Remove(id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrSessionNotFound
	}
	if e.owner != userID {
		return ErrForbidden
	}
	delete(r.entries, id)
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops idle sessions and returns how many were dropped.
func (r *Registry) Sweep() int {
	if r.idle <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var n int
	for id, e := range r.entries {
		if r.expired(e, now) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, lg *zap.Logger) {
	if r.idle <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				lg.Debug("Expired idle checkout sessions", zap.Int("count", n))
			}
		}
	}
}

func (r *Registry) lookup(id, userID string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := r.now()
	if r.expired(e, now) {
		delete(r.entries, id)
		return nil, ErrSessionNotFound
	}
	if e.owner != userID {
		return nil, ErrForbidden
	}
	e.lastSeen = now
	return e, nil
}

func (r *Registry) expired(e *entry, now time.Time) bool {
	return r.idle > 0 && now.Sub(e.lastSeen) > r.idle
}
