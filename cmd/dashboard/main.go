// Package main serves the MVR dashboard: data preview, charts, XLSX export
// and a websocket that pushes table refreshes announced by the loader.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mvr-etl/internal/config"
	"mvr-etl/internal/dashboard"
	"mvr-etl/internal/dataset"
	"mvr-etl/internal/logging"
	"mvr-etl/internal/schema"
	"mvr-etl/internal/storage"
	"mvr-etl/internal/storage/memory"
	pgstore "mvr-etl/internal/storage/postgres"
)

func main() {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	configPath := flag.String("config", os.Getenv("MVR_CONFIG"), "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides dashboard.addr)")
	useMemory := flag.Bool("use-memory", false, "Serve the intermediate dataset from memory instead of PostgreSQL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	if *addr != "" {
		cfg.Dashboard.Addr = *addr
	}
	if *useMemory {
		cfg.Pipeline.UseMemory = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	if err := run(ctx, cfg, logger); err != nil {
		close(done)
		logger.Fatal("dashboard error", zap.Error(err))
	}
	close(done)
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	hub := dashboard.NewHub(logger)

	var open dashboard.OpenFunc
	if cfg.Pipeline.UseMemory {
		store, err := seedMemory(ctx, cfg, logger)
		if err != nil {
			return err
		}
		open = func(context.Context) (storage.Reader, func(), error) {
			return store, func() {}, nil
		}
	} else {
		open = postgresOpener(cfg.Postgres.DSN)
	}

	connector := dashboard.NewConnector(open, dashboard.ConnectorOptions{
		InitialInterval: cfg.Dashboard.RetryInitial,
		MaxElapsedTime:  cfg.Dashboard.RetryMaxElapsed,
		AttemptTimeout:  cfg.Dashboard.ConnectTimeout,
	}, logger)

	srv, err := dashboard.NewServer(dashboard.Options{
		Title:        cfg.Dashboard.Title,
		Tables:       cfg.Dashboard.Tables,
		QueryTimeout: cfg.Dashboard.QueryTimeout,
		Connector:    connector,
		Hub:          hub,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Dashboard.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Dashboard.ReadTimeout,
		WriteTimeout: cfg.Dashboard.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gctx)
	})

	g.Go(func() error {
		logger.Info("starting HTTP server", zap.String("addr", cfg.Dashboard.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if !cfg.Pipeline.UseMemory {
		g.Go(func() error {
			listenRefresh(gctx, cfg.Postgres.DSN, hub, logger)
			return nil
		})
	}

	return g.Wait()
}

// postgresOpener opens a short-lived pool per request.
func postgresOpener(dsn string) dashboard.OpenFunc {
	return func(ctx context.Context) (storage.Reader, func(), error) {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pgstore.NewTableStore(pool), pool.Close, nil
	}
}

// listenRefresh forwards loader notifications to the hub, reconnecting with
// backoff until ctx is done.
func listenRefresh(ctx context.Context, dsn string, hub *dashboard.Hub, logger *zap.Logger) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0 // retry forever

	op := func() error {
		pool, err := pgstore.NewPool(ctx, dsn)
		if err != nil {
			return err
		}
		defer pool.Close()

		b.Reset()
		return pgstore.NewListener(pool, logger).Listen(ctx, hub.NotifyRefreshed)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("refresh listener down, retrying", zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil && ctx.Err() == nil {
		logger.Error("refresh listener stopped", zap.Error(err))
	}
}

// seedMemory loads the intermediate dataset into every configured table.
// A missing dataset leaves the store empty.
func seedMemory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*memory.TableStore, error) {
	store := memory.NewTableStore()

	records, err := dataset.Read(cfg.Pipeline.IntermediatePath)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("intermediate dataset not found, serving empty store",
			zap.String("path", cfg.Pipeline.IntermediatePath))
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	for _, name := range cfg.Dashboard.Tables {
		tbl := schema.MVR(name)
		if err := store.EnsureTable(ctx, tbl); err != nil {
			return nil, err
		}
		if _, err := store.ReplaceAll(ctx, tbl, records); err != nil {
			return nil, err
		}
	}
	logger.Info("seeded memory store", zap.Int("rows", len(records)), zap.Strings("tables", cfg.Dashboard.Tables))
	return store, nil
}
