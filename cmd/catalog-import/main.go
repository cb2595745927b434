// Command catalog-import loads products and users from NDJSON files, plain or
// gzip-compressed, into PostgreSQL.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		productsFile string
		usersFile    string
		opts         options
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products", "", "products NDJSON file (.gz allowed)")
	flag.StringVar(&usersFile, "users", "", "users NDJSON file (.gz allowed)")
	flag.IntVar(&opts.Workers, "workers", 8, "concurrent upserts")
	flag.UintVar(&opts.Expected, "expected", 1_000_000, "expected records per file, sizes the duplicate filter")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if productsFile == "" && usersFile == "" {
		lg.Fatal("Nothing to import: set --products and/or --users")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, productsFile, usersFile, opts); err != nil {
		lg.Fatal("Catalog import failed", zap.Error(err))
	}
	lg.Info("Catalog import completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, productsFile, usersFile string, opts options) error {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if productsFile != "" {
		st, err := importProducts(ctx, lg, productsFile, postgres.NewProductRepository(pool), opts)
		if err != nil {
			return errors.Wrap(err, "import products")
		}
		st.log(lg, "products")
	}
	if usersFile != "" {
		st, err := importUsers(ctx, lg, usersFile, postgres.NewUserRepository(pool), opts)
		if err != nil {
			return errors.Wrap(err, "import users")
		}
		st.log(lg, "users")
	}
	return nil
}
