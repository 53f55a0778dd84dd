package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/arbor-fed/arbor/internal/actor"
	"github.com/arbor-fed/arbor/internal/breaker"
	"github.com/arbor-fed/arbor/internal/httpsig"
	"github.com/arbor-fed/arbor/internal/metrics"
	"github.com/arbor-fed/arbor/internal/platform/config"
	"github.com/arbor-fed/arbor/internal/platform/database"
	"github.com/arbor-fed/arbor/internal/platform/server"
	"github.com/arbor-fed/arbor/internal/platform/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logging
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("arbor starting",
		"version", "0.1.0",
		"domain", cfg.Federation.Domain,
		"port", cfg.Server.Port,
	)

	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	ctx := context.Background()

	slog.Info("connecting to database")
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
	if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("migrations complete")

	// Metrics
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// Actor state and domain policy
	store := actor.NewStore(pool)
	g, seedCtx := errgroup.WithContext(ctx)
	for _, domain := range cfg.Federation.BlockedDomains {
		g.Go(func() error {
			if err := store.BlockDomain(seedCtx, domain); err != nil {
				return fmt.Errorf("seeding blocked domain %s: %w", domain, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Outbound fetches: HTTP fetcher behind a per-origin circuit breaker.
	fetcher := actor.NewHTTPFetcher(
		time.Duration(cfg.Federation.FetchTimeoutSecs)*time.Second,
		cfg.Federation.UserAgent,
	)
	fetcher.Observe = m.ObserveKeyFetch

	breakers := breaker.New(breaker.Config{
		Threshold: cfg.Breaker.FailureThreshold,
		Cooloff:   time.Duration(cfg.Breaker.CooloffSecs) * time.Second,
		Transient: actor.IsTransient,
		OnOpen: func(key string) {
			m.RecordBreakerOpen()
			slog.Warn("circuit opened", "origin", key)
		},
	})

	resolver := actor.NewResolver(actor.ResolverConfig{
		LocalDomain: cfg.Federation.Domain,
		Store:       store,
		Accounts:    fetcher,
		Fetcher:     fetcher,
		Policy:      store,
		Breakers:    breakers,
		KeyMaxAge:   time.Duration(cfg.Federation.KeyMaxAgeHours) * time.Hour,
	})

	verifier := httpsig.NewVerifier(resolver, logger)

	// Create and start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:         pool,
		Verifier:     verifier,
		ActorHandler: actor.NewHandler(store),
		Metrics:      m,
		Logger:       logger,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("server ready", "addr", addr)
	return srv.Start(ctx)
}
