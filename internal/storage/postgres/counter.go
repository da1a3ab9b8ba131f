package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/rental-checkout/internal/domain/sequence"
)

var _ sequence.CounterStore = (*CounterRepository)(nil)

const (
	ensureCounterSQL = `INSERT INTO order_counters (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`
	lockCounterSQL   = `SELECT last_number FROM order_counters WHERE name = $1 FOR UPDATE`
	bumpCounterSQL   = `UPDATE order_counters SET last_number = $2, updated_at = now() WHERE name = $1`
	seedCounterSQL   = `
		INSERT INTO order_counters (name, last_number) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE
		SET last_number = GREATEST(order_counters.last_number, EXCLUDED.last_number), updated_at = now()
		RETURNING last_number`
)

// CounterRepository implements sequence.CounterStore with a row lock on the
// counter record.
type CounterRepository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewCounterRepository returns a CounterRepository that uses the given pool.
// Waiting longer than lockTimeout for the counter row is reported as
// contention.
func NewCounterRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *CounterRepository {
	if lockTimeout <= 0 {
		lockTimeout = 2 * time.Second
	}
	return &CounterRepository{pool: pool, lockTimeout: lockTimeout}
}

// Increment reads, bumps and writes the counter in one transaction.
func (r *CounterRepository) Increment(ctx context.Context, name string) (int64, error) {
	var next int64
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", r.lockTimeout.Milliseconds())); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, ensureCounterSQL, name); err != nil {
			return err
		}

		var last int64
		if err := tx.QueryRow(ctx, lockCounterSQL, name).Scan(&last); err != nil {
			return err
		}
		next = last + 1

		_, err := tx.Exec(ctx, bumpCounterSQL, name, next)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("incrementing counter %q: %w", name, contention(err))
	}
	return next, nil
}

// Seed raises the counter to at least value so that numbering continues
// after ids issued elsewhere. It never lowers the counter and returns the
// resulting value.
func (r *CounterRepository) Seed(ctx context.Context, name string, value int64) (int64, error) {
	var last int64
	if err := r.pool.QueryRow(ctx, seedCounterSQL, name, value).Scan(&last); err != nil {
		return 0, fmt.Errorf("seeding counter %q: %w", name, err)
	}
	return last, nil
}
