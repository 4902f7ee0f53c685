package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"

	"github.com/leadforge/core/internal/aiclient"
	"github.com/leadforge/core/internal/api"
	"github.com/leadforge/core/internal/backupstore"
	"github.com/leadforge/core/internal/config"
	"github.com/leadforge/core/internal/discovery"
	"github.com/leadforge/core/internal/httpfetch"
	"github.com/leadforge/core/internal/model"
	"github.com/leadforge/core/internal/orchestrator"
	"github.com/leadforge/core/internal/queue"
	"github.com/leadforge/core/internal/ratelimit"
	"github.com/leadforge/core/internal/remotestore"
	"github.com/leadforge/core/internal/retrycoordinator"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "leadforge-server",
		Short: "leadforge-core server — B2B lead-generation pipeline",
		Long: `leadforge-core server runs the prospecting, analysis, outreach, and
reporting pipeline behind the leadforge-core API: a durable job queue,
an AI-backed discovery/scoring engine, and a retry coordinator for
remote-store upserts that failed while the database was unreachable.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("leadforge-server %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting leadforge-core server",
		zap.String("version", version),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("log_level", cfg.LogLevel),
	)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// --- 1. Remote store ---
	gormDB, err := remotestore.Open(remotestore.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.LogLevel),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to remote store: %w", err)
	}
	if err := remotestore.Ping(ctx, gormDB); err != nil {
		return fmt.Errorf("failed to ping remote store: %w", err)
	}

	prospects := remotestore.NewProspectRepository(gormDB)
	leads := remotestore.NewLeadRepository(gormDB)
	outreach := remotestore.NewOutreachVariantRepository(gormDB)
	reports := remotestore.NewReportRepository(gormDB)

	// --- 2. Backup store ---
	backup := backupstore.New(cfg.BackupRoot, logger)

	// --- 3. AI client ---
	aiClient, err := aiclient.New(ctx, cfg.AIProviderKey,
		aiclient.WithModel(cfg.AIModel),
		aiclient.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}

	// --- 4. Supporting collaborators ---
	fetcher := httpfetch.New(30 * time.Second)
	discoveryEngine := discovery.New(fetcher, aiClient, logger)
	rateLimit := ratelimit.New(cfg.RateLimitAIPerSecond, cfg.RateLimitAIConcurrent)
	blobs := orchestrator.NewBlobStore(cfg.BackupRoot + "/report-blobs")

	deps := &orchestrator.Deps{
		Backup:                    backup,
		Discovery:                 discoveryEngine,
		AI:                        aiClient,
		RateLimit:                 rateLimit,
		Blobs:                     blobs,
		Fetcher:                   fetcher,
		Prospects:                 prospects,
		Leads:                     leads,
		Outreach:                  outreach,
		Reports:                   reports,
		ProspectVerifyConcurrency: cfg.WorkerPoolAnalyzeProspect,
		Logger:                    logger,
	}

	// --- 5. Retry coordinator: one pass at startup, per spec §4.5 ---
	retrier := &retrycoordinator.Coordinator{
		Backup:    backup,
		Prospects: prospects,
		Leads:     leads,
		Outreach:  outreach,
		Reports:   reports,
		Logger:    logger,
	}
	if result, err := retrier.Run(ctx, false, retrycoordinator.Filter{}); err != nil {
		logger.Warn("startup retry pass failed", zap.Error(err))
	} else if result.Attempted > 0 {
		logger.Info("startup retry pass complete",
			zap.Int("attempted", result.Attempted),
			zap.Int("succeeded", result.Succeeded),
			zap.Int("failed", result.Failed),
		)
	}

	// --- 6. Queue ---
	q := queue.New(queue.Config{
		WALDir:        cfg.QueueWALDir,
		HighWaterMark: cfg.QueueHighWater,
	}, logger)

	timeout := time.Duration(cfg.JobTimeoutSeconds) * time.Second
	poolSizes := map[model.WorkType]int{
		model.WorkProspecting:     cfg.WorkerPoolProspecting,
		model.WorkAnalyzeURL:      cfg.WorkerPoolAnalyzeURL,
		model.WorkComposeOutreach: cfg.WorkerPoolCompose,
		model.WorkGenerateReport:  cfg.WorkerPoolReport,
	}
	for workType, runner := range orchestrator.Runners(deps) {
		if err := q.RegisterRunner(workType, runner, poolSizes[workType], timeout); err != nil {
			return fmt.Errorf("failed to register runner %s: %w", workType, err)
		}
	}
	if err := q.Start(ctx); err != nil {
		return fmt.Errorf("failed to start queue: %w", err)
	}
	defer q.Shutdown()

	// --- 7. HTTP server ---
	analyzeRunner := orchestrator.AnalyzeRunner(deps)
	analyzeURLSync := func(ctx context.Context, payload map[string]any) (any, error) {
		return analyzeRunner(ctx, payload, func(current, total int, message string) {})
	}

	router := api.NewRouter(api.RouterConfig{
		Queue:      q,
		AnalyzeURL: analyzeURLSync,
		Logger:     logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down leadforge-core server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server graceful shutdown error", zap.Error(err))
	}

	logger.Info("leadforge-core server stopped")
	return nil
}

// gormLogLevel maps the application log level string to a GORM logger level.
func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "debug":
		return gormlogger.Info
	case "info":
		return gormlogger.Warn
	default:
		return gormlogger.Error
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch level {
	case "debug":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
