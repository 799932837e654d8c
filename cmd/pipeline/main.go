// Package main runs the MVR ETL stages: create_table, transform_data, load_data.
// Each stage can run on its own so an external scheduler can retry it;
// the process exits non-zero naming the failed stage.
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

	"go.uber.org/zap"

	"mvr-etl/internal/config"
	"mvr-etl/internal/logging"
	"mvr-etl/internal/observability"
	"mvr-etl/internal/pipeline"
	"mvr-etl/internal/reporting"
	"mvr-etl/internal/schema"
	chstore "mvr-etl/internal/storage/clickhouse"
	"mvr-etl/internal/storage/memory"
	pgstore "mvr-etl/internal/storage/postgres"
	"mvr-etl/internal/transform"
)

// Stage aliases accepted by -stage.
var stageAliases = map[string]pipeline.Stage{
	"provision": pipeline.StageCreateTable,
	"transform": pipeline.StageTransformData,
	"load":      pipeline.StageLoadData,
}

func main() {
	os.Exit(run())
}

func run() int {
	// Load .env file if exists
	config.LoadEnvFile(".env")

	configPath := flag.String("config", os.Getenv("MVR_CONFIG"), "Path to YAML config file")
	stage := flag.String("stage", "all", "Stage to run: provision|transform|load|all (or create_table|transform_data|load_data)")
	input := flag.String("input", "", "Input CSV path (overrides pipeline.input_path)")
	table := flag.String("table", "", "Target table (overrides pipeline.table)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	reportDir := flag.String("report-dir", os.Getenv("MVR_REPORT_DIR"), "Directory for RUN_REPORT.md and run_stages.csv (empty disables)")
	attempt := flag.Int("attempt", 1, "Attempt number assigned by the scheduler; >1 emits a retry event first")
	metricsAddr := flag.String("metrics-addr", os.Getenv("MVR_METRICS_ADDR"), "Prometheus metrics HTTP address while the run lasts (empty to disable)")
	pushURL := flag.String("pushgateway", os.Getenv("MVR_PUSHGATEWAY_URL"), "Pushgateway URL metrics are pushed to on exit (empty to disable)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	if *input != "" {
		cfg.Pipeline.InputPath = *input
	}
	if *table != "" {
		cfg.Pipeline.Table = *table
	}
	if *useMemory {
		cfg.Pipeline.UseMemory = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		return 2
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 2
	}
	defer logger.Sync()

	stages, err := resolveStages(*stage)
	if err != nil {
		logger.Error("invalid -stage", zap.Error(err))
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Warn("received signal, cancelling pipeline", zap.String("signal", sig.String()))
		cancel()
	}()

	// Start metrics server if enabled
	if *metricsAddr != "" {
		srv := metricsServer(*metricsAddr)
		go func() {
			logger.Info("starting metrics server", zap.String("addr", *metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server error", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	notifiers := pipeline.Notifiers{
		pipeline.LogNotifier{Logger: logger},
		pipeline.MetricsNotifier{},
	}
	collector := reporting.NewCollector()
	if *reportDir != "" {
		notifiers = append(notifiers, collector)
	}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, pipeline.WebhookNotifier{
			URL:  cfg.Notify.WebhookURL,
			HTTP: &http.Client{Timeout: cfg.Notify.Timeout},
		})
	}

	engineOpts := transform.DefaultOptions()
	engineOpts.Comma = cfg.Pipeline.CommaRune()
	engineOpts.SkipHeader = cfg.Pipeline.SkipHeader
	engineOpts.SortByDate = cfg.Pipeline.SortByDate

	// Stores are connected by the first stage that needs them, so a
	// connection failure is reported as that stage's failure event.
	p, err := pipeline.New(pipeline.Options{
		Table:            schema.MVR(cfg.Pipeline.Table),
		InputPath:        cfg.Pipeline.InputPath,
		IntermediatePath: cfg.Pipeline.IntermediatePath,
		Engine:           transform.NewEngine(engineOpts, logger),
		Connect: func(ctx context.Context) ([]pipeline.Target, func(), error) {
			return createTargets(ctx, cfg)
		},
		Notifier: notifiers,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build pipeline", zap.Error(err))
		return 2
	}
	defer p.Close()

	finish := func() {
		writeReport(*reportDir, collector, cfg.Pipeline.Table, logger)
		pushMetrics(*pushURL, cfg.Pipeline.Table, cfg.Notify.Timeout, logger)
	}

	if *attempt > 1 {
		p.ReportRetry(ctx, stages[0], *attempt, errors.New("previous attempt failed"))
	}

	start := time.Now()
	for _, s := range stages {
		if _, err := p.Run(ctx, s); err != nil {
			logger.Error("pipeline failed",
				zap.String("stage", string(s)),
				zap.String("run_id", p.RunID()),
				zap.Error(err))
			finish()
			fmt.Fprintf(os.Stderr, "stage %s failed: %v\n", s, err)
			return 1
		}
	}
	finish()

	logger.Info("pipeline completed",
		zap.String("run_id", p.RunID()),
		zap.Int("stages", len(stages)),
		zap.Duration("elapsed", time.Since(start)))
	return 0
}

func metricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// pushMetrics pushes the run's metrics if a Pushgateway is configured.
func pushMetrics(url, table string, timeout time.Duration, logger *zap.Logger) {
	if url == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := observability.Push(ctx, url, observability.PushJob, map[string]string{"table": table}, nil); err != nil {
		logger.Warn("failed to push metrics", zap.Error(err))
		return
	}
	logger.Info("metrics pushed", zap.String("url", url))
}

// writeReport writes the run report if a directory is configured.
func writeReport(dir string, c *reporting.Collector, table string, logger *zap.Logger) {
	if dir == "" {
		return
	}
	if err := reporting.WriteFiles(dir, c.Report(table)); err != nil {
		logger.Warn("failed to write run report", zap.String("dir", dir), zap.Error(err))
		return
	}
	logger.Info("run report written", zap.String("dir", dir))
}

// resolveStages maps the -stage flag to the stages to run, in order.
func resolveStages(name string) ([]pipeline.Stage, error) {
	if name == "all" {
		return pipeline.Stages, nil
	}
	if s, ok := stageAliases[name]; ok {
		return []pipeline.Stage{s}, nil
	}
	s, err := pipeline.ParseStage(name)
	if err != nil {
		return nil, err
	}
	return []pipeline.Stage{s}, nil
}

// createTargets connects every configured store.
func createTargets(ctx context.Context, cfg *config.Config) ([]pipeline.Target, func(), error) {
	if cfg.Pipeline.UseMemory {
		store := memory.NewTableStore()
		return []pipeline.Target{{Name: "memory", Provisioner: store, Loader: store}}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	pg := pgstore.NewTableStore(pool)
	targets := []pipeline.Target{{Name: "postgres", Provisioner: pg, Loader: pg}}
	cleanup := func() { pool.Close() }

	if !cfg.ClickHouse.Enabled {
		return targets, cleanup, nil
	}

	// ClickHouse
	chConn, err := chstore.EnsureDatabase(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	ch := chstore.NewTableStore(chConn)
	targets = append(targets, pipeline.Target{Name: "clickhouse", Provisioner: ch, Loader: ch})

	return targets, func() {
		chConn.Close()
		pool.Close()
	}, nil
}
