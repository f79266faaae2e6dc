package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/bazaar-market/escrow/internal/config"
	"github.com/bazaar-market/escrow/internal/infra"
	"github.com/bazaar-market/escrow/internal/listing"
	"github.com/bazaar-market/escrow/internal/logging"
	"github.com/bazaar-market/escrow/internal/metrics"
	"github.com/bazaar-market/escrow/internal/routes"
	"github.com/bazaar-market/escrow/internal/server"
	"github.com/bazaar-market/escrow/internal/store/memory"
	"github.com/bazaar-market/escrow/internal/store/postgres"
)

// listingSeeder is implemented by both stores.
type listingSeeder interface {
	PutListing(ctx context.Context, l listing.Listing) error
}

var devListings = []listing.Listing{
	{ID: "lst-camera", SellerID: "seller-1", Price: 3000, Status: listing.StatusActive},
	{ID: "lst-bike", SellerID: "seller-1", Price: 12500, Status: listing.StatusActive},
	{ID: "lst-lamp", SellerID: "seller-2", Price: 1500, Status: listing.StatusSold},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName, cfg.LogLevel)

	ctx := context.Background()

	var (
		backend routes.Backend
		seeder  listingSeeder
	)
	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.DatabaseURL, logger); err != nil {
				logger.Error("migrate database", "error", err)
				os.Exit(1)
			}
		}
		db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{
			MaxConns:          cfg.DBMaxConns,
			MaxConnIdleTime:   cfg.DBMaxConnIdle,
			HealthCheckPeriod: cfg.DBHealthCheckPeriod,
		})
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		pg := postgres.New(db)
		backend, seeder = pg, pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := memory.New()
		backend, seeder = mem, mem
	}

	if cfg.SeedListings {
		for _, l := range devListings {
			if err := seeder.PutListing(ctx, l); err != nil {
				logger.Error("seed listing", "listing_id", l.ID, "error", err)
				os.Exit(1)
			}
		}
		logger.Info("seeded development listings", slog.Int("count", len(devListings)))
	}

	var cache redis.UniversalClient
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	} else {
		logger.Warn("REDIS_URL not set, idempotency cache, rate limits and order locks are disabled")
	}

	srv, err := server.New(cfg, backend, cache, metrics.New(), logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
