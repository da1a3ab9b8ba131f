package app

import (
	"context"

	"github.com/go-faster/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/xenking/rental-checkout/internal/domain/checkout"
	"github.com/xenking/rental-checkout/internal/domain/order"
	"github.com/xenking/rental-checkout/internal/domain/sequence"
	"github.com/xenking/rental-checkout/internal/notify"
	"github.com/xenking/rental-checkout/internal/storage/memory"
	mongostore "github.com/xenking/rental-checkout/internal/storage/mongo"
	"github.com/xenking/rental-checkout/internal/storage/postgres"
	"github.com/xenking/rental-checkout/pkg/health"
)

// store is the selected order store.
type store struct {
	counters sequence.CounterStore
	orders   order.Repository
	pinger   health.Pinger
	close    func()
}

func openStore(ctx context.Context, cfg StoreConfig, lg *zap.Logger) (*store, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &store{
			counters: postgres.NewCounterRepository(pool, cfg.LockTimeout),
			orders:   postgres.NewOrderRepository(pool),
			pinger:   pool,
			close:    pool.Close,
		}, nil

	case "mongo":
		db, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, errors.Wrap(err, "connect mongo")
		}
		client := db.Client()
		disconnect := func() {
			if err := client.Disconnect(context.Background()); err != nil {
				lg.Warn("Disconnect mongo", zap.Error(err))
			}
		}
		if err := mongostore.EnsureIndexes(ctx, db); err != nil {
			disconnect()
			return nil, errors.Wrap(err, "ensure indexes")
		}
		return &store{
			counters: mongostore.NewCounterRepository(db),
			orders:   mongostore.NewOrderRepository(db),
			pinger:   mongoPinger{client},
			close:    disconnect,
		}, nil

	case "memory":
		lg.Warn("Using in-memory order store, orders are lost on restart")
		s := memory.NewStore()
		return &store{counters: s, orders: s, pinger: s, close: func() {}}, nil

	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}

type mongoPinger struct {
	client *mongo.Client
}

func (p mongoPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx, nil)
}

type notifier interface {
	checkout.Notifier
	Close() error
}

func openNotifier(cfg NotifyConfig, lg *zap.Logger) (notifier, error) {
	switch cfg.Driver {
	case "kafka":
		return notify.NewKafka(notify.SplitBrokers(cfg.Brokers), cfg.Topic), nil
	case "amqp":
		n, err := notify.DialAMQP(cfg.AMQPURL, cfg.Queue)
		if err != nil {
			return nil, errors.Wrap(err, "dial amqp")
		}
		return n, nil
	case "log":
		return notify.NewLog(lg.Named("notify")), nil
	default:
		return nil, errors.Errorf("unknown notify driver %q", cfg.Driver)
	}
}
