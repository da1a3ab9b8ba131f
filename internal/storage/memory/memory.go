// Package memory provides in-process order storage for development and
// tests. Nothing survives a restart.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/sequence"
)

var (
	_ sequence.CounterStore = (*Store)(nil)
	_ order.Repository      = (*Store)(nil)
)

// Store holds counters and orders in maps guarded by one mutex.
type Store struct {
	mu       sync.Mutex
	counters map[string]int64
	orders   map[string]order.Order
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		counters: make(map[string]int64),
		orders:   make(map[string]order.Order),
	}
}

// Increment adds one to the named counter and returns the new value.
func (s *Store) Increment(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

// Create stores a copy of o.
func (s *Store) Create(ctx context.Context, o *order.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return order.ErrDuplicateID
	}
	c := *o
	c.Items = slices.Clone(o.Items)
	s.orders[o.ID] = c
	return nil
}

// Get returns the order with id.
func (s *Store) Get(ctx context.Context, id string) (*order.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}
