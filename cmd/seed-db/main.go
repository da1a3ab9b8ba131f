// Command seed-db prepares an order store: it applies the schema, raises
// the order counter to a starting number and can print a bearer token for
// local testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/rental-checkout/internal/domain/auth"
	mongostore "github.com/xenking/rental-checkout/internal/storage/mongo"
	"github.com/xenking/rental-checkout/internal/storage/postgres"
)

type options struct {
	driver        string
	databaseURL   string
	mongoURI      string
	mongoDatabase string
	counter       string
	counterStart  int64

	tokenUser  string
	tokenEmail string
	jwtSecret  string
	tokenTTL   time.Duration
}

// counterSeeder is implemented by the postgres and mongo counter stores.
type counterSeeder interface {
	Seed(ctx context.Context, name string, value int64) (int64, error)
}

func main() {
	var opts options
	flag.StringVar(&opts.driver, "driver", "postgres", "order store: postgres or mongo")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.mongoURI, "mongo-uri", "", "MongoDB connection URI (or CHECKOUT_STORE_MONGO_URI env)")
	flag.StringVar(&opts.mongoDatabase, "mongo-database", "rental", "MongoDB database name")
	flag.StringVar(&opts.counter, "counter", "orders", "name of the order counter")
	flag.Int64Var(&opts.counterStart, "counter-start", 0, "raise the order counter to at least this number")
	flag.StringVar(&opts.tokenUser, "token-user", "", "print a bearer token for this user id")
	flag.StringVar(&opts.tokenEmail, "token-email", "", "email claim of the printed token")
	flag.StringVar(&opts.jwtSecret, "jwt-secret", "", "HS256 secret (or CHECKOUT_AUTH_JWT_SECRET env)")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.mongoURI == "" {
		opts.mongoURI = os.Getenv("CHECKOUT_STORE_MONGO_URI")
	}
	if opts.jwtSecret == "" {
		opts.jwtSecret = os.Getenv("CHECKOUT_AUTH_JWT_SECRET")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	var (
		seeder  counterSeeder
		closeFn func()
		err     error
	)
	switch opts.driver {
	case "postgres":
		seeder, closeFn, err = preparePostgres(ctx, opts)
	case "mongo":
		seeder, closeFn, err = prepareMongo(ctx, opts)
	default:
		return errors.Errorf("unknown driver %q", opts.driver)
	}
	if err != nil {
		return err
	}
	defer closeFn()

	if opts.counterStart > 0 {
		last, err := seeder.Seed(ctx, opts.counter, opts.counterStart)
		if err != nil {
			return errors.Wrap(err, "seed counter")
		}
		slog.Info("order counter seeded", slog.String("counter", opts.counter), slog.Int64("last_number", last))
	}

	if opts.tokenUser != "" {
		if opts.jwtSecret == "" {
			return errors.New("JWT secret is required to issue a token")
		}
		token, err := auth.NewVerifier([]byte(opts.jwtSecret), "").
			Issue(auth.User{ID: opts.tokenUser, Email: opts.tokenEmail}, opts.tokenTTL, time.Now())
		if err != nil {
			return errors.Wrap(err, "issue token")
		}
		fmt.Println(token)
	}
	return nil
}

func preparePostgres(ctx context.Context, opts options) (counterSeeder, func(), error) {
	if opts.databaseURL == "" {
		return nil, nil, errors.New("database URL is required: set --database-url or DATABASE_URL")
	}
	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to database")
	}

	slog.Info("running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	return postgres.NewCounterRepository(pool, 0), pool.Close, nil
}

func prepareMongo(ctx context.Context, opts options) (counterSeeder, func(), error) {
	if opts.mongoURI == "" {
		return nil, nil, errors.New("mongo URI is required: set --mongo-uri or CHECKOUT_STORE_MONGO_URI")
	}
	slog.Info("connecting to mongodb")
	db, err := mongostore.Connect(ctx, opts.mongoURI, opts.mongoDatabase)
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect to mongodb")
	}
	disconnect := func() { _ = db.Client().Disconnect(context.Background()) }

	slog.Info("creating indexes")
	if err := mongostore.EnsureIndexes(ctx, db); err != nil {
		disconnect()
		return nil, nil, errors.Wrap(err, "ensure indexes")
	}
	return mongostore.NewCounterRepository(db), disconnect, nil
}
