// Package sequence mints human-readable order identifiers from a durable
// counter.
//
// The counter is the only state shared between checkout sessions. Every
// number is taken in a single read-modify-write transaction of the backing
// store, so concurrent callers observe a linear, gap-tolerant sequence and a
// number is never handed out twice, even across restarts. When the store
// cannot complete the transaction the generator degrades to a
// timestamp-derived identifier instead of failing the checkout.
package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// ErrContention is returned (wrapped) by a CounterStore when the transaction
// lost a race with another writer and may succeed if retried.
var ErrContention = errors.New("counter contention")

// CounterStore performs the transactional increment of a named counter. The
// returned value is the new lastNumber; the write of that value and the read
// that produced it must be one atomic unit.
type CounterStore interface {
	Increment(ctx context.Context, name string) (int64, error)
}

// ID is an issued order identifier.
type ID struct {
	Value string
	// Number is the counter value behind Value. Zero for fallback ids.
	Number int64
	// Fallback is set when the counter could not be used.
	Fallback bool
}

func (id ID) String() string {
	return id.Value
}

// Config configures a Generator.
type Config struct {
	// Prefix is prepended to every identifier, e.g. "RAC".
	Prefix string
	// Counter is the name of the counter record.
	Counter string
	// MaxAttempts bounds the transaction attempts on contention.
	MaxAttempts int
	// Backoff is the base delay between attempts; attempt n waits n×Backoff.
	Backoff time.Duration
}

const (
	numberWidth    = 4
	fallbackDigits = 8
	fallbackMod    = 100_000_000
)

// Generator issues order identifiers.
type Generator struct {
	store CounterStore
	cfg   Config
	lg    *zap.Logger
	now   func() time.Time

	mu     sync.Mutex
	issued *bloom.BloomFilter
}

// NewGenerator creates a Generator on top of store.
func NewGenerator(store CounterStore, cfg Config, lg *zap.Logger) *Generator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Generator{
		store:  store,
		cfg:    cfg,
		lg:     lg,
		now:    time.Now,
		issued: bloom.NewWithEstimates(100_000, 0.0001),
	}
}

// Next returns the next order identifier. It only fails when ctx is done;
// store failures degrade to a fallback identifier, which is logged.
func (g *Generator) Next(ctx context.Context) (ID, error) {
	n, err := g.increment(ctx)
	if err == nil {
		return ID{Value: g.format(n), Number: n}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ID{}, errors.Wrap(ctxErr, "next order id")
	}

	id := g.fallback()
	g.lg.Warn("Order sequence unavailable, issued fallback order id",
		zap.String("order_id", id.Value),
		zap.String("counter", g.cfg.Counter),
		zap.Error(err),
	)
	return id, nil
}

func (g *Generator) increment(ctx context.Context) (int64, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		n, err := g.store.Increment(ctx, g.cfg.Counter)
		if err == nil {
			return n, nil
		}
		lastErr = err
		if !errors.Is(err, ErrContention) || attempt == g.cfg.MaxAttempts {
			break
		}

		g.lg.Debug("Order counter contended, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt) * g.cfg.Backoff):
		}
	}
	return 0, errors.Wrapf(lastErr, "increment counter %q", g.cfg.Counter)
}

func (g *Generator) format(n int64) string {
	return fmt.Sprintf("%s%s%0*d", g.cfg.Prefix, g.year(), numberWidth, n)
}

// fallback derives an id from the low-order digits of the current time in
// milliseconds. The eight-digit suffix cannot collide with counter ids below
// one hundred million; ids already issued by this process are skipped.
func (g *Generator) fallback() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	suffix := g.now().UnixMilli() % fallbackMod
	for {
		value := fmt.Sprintf("%s%s%0*d", g.cfg.Prefix, g.year(), fallbackDigits, suffix)
		if !g.issued.TestAndAddString(value) {
			return ID{Value: value, Fallback: true}
		}
		suffix = (suffix + 1) % fallbackMod
	}
}

func (g *Generator) year() string {
	return fmt.Sprintf("%02d", g.now().UTC().Year()%100)
}
