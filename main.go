// package main provides the entry point of nvd-mirror, which keeps a local directory of NVD
// CVE and CPE match criteria records up to date through the NVD 2.0 REST API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ortelius/nvd-mirror/database"
	syncevent "github.com/ortelius/nvd-mirror/events/modules/sync"
	"github.com/ortelius/nvd-mirror/internal/config"
	"github.com/ortelius/nvd-mirror/internal/nvd"
	"github.com/ortelius/nvd-mirror/internal/services"
	"github.com/ortelius/nvd-mirror/internal/telemetry"
	"github.com/ortelius/nvd-mirror/model"
	"github.com/ortelius/nvd-mirror/util"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nvd-mirror: %v\n", err)
		os.Exit(2)
	}

	logger := util.InitLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		stop()
		_ = logger.Sync()
		logger.Sugar().Fatalf("Sync failed: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics := telemetry.NewMetrics()
	if util.IsNotEmpty(cfg.MetricsFile) {
		// Written on failure too, so the last_success gauges go stale visibly.
		defer func() {
			if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
				logger.Warn("Failed to write metrics file", zap.String("path", cfg.MetricsFile), zap.Error(err))
			}
		}()
	}

	shutdown, err := telemetry.InitTracer(cfg.Trace, os.Stderr)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	repo, err := database.InitializeRepository(cfg.Path, logger)
	if err != nil {
		return err
	}

	client := nvd.NewClient(nvd.Options{
		BaseURL:        cfg.APIURL,
		RequestTimeout: cfg.RequestTimeout,
		Retry:          nvd.RetryPolicy{MaxRetries: cfg.RetryMax, Interval: cfg.RetryInterval},
		Logger:         logger,
		Metrics:        metrics,
	})

	opts := []services.Option{services.WithLogger(logger), services.WithMetrics(metrics)}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := syncevent.NewSyncProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.APIKey, cfg.Kafka.APISecret)
		defer producer.Close()
		opts = append(opts, services.WithPublisher(producer))
		logger.Info("Publishing sync events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	svc := services.NewSyncService(client, repo, opts...)

	logger.Info("Starting NVD mirror",
		zap.String("path", repo.Root),
		zap.String("mode", string(cfg.Mode())),
		zap.String("api", cfg.APIURL))

	var summary services.RunSummary
	switch {
	case cfg.Resync:
		summary, err = svc.Resync(ctx)
	case util.IsNotEmpty(cfg.CVEID):
		summary, err = svc.SyncCVE(ctx, cfg.CVEID)
	case util.IsNotEmpty(cfg.MatchID):
		summary, err = svc.SyncMatchCriteria(ctx, cfg.MatchID)
	default:
		summary, err = svc.Incremental(ctx)
	}
	if err != nil {
		if errors.Is(err, database.ErrSyncStateNotFound) {
			return fmt.Errorf("%w (use --resync to initialize %s)", err, repo.Root)
		}
		return err
	}

	fields := []zap.Field{zap.String("run_id", summary.RunID), zap.String("mode", string(summary.Mode))}
	if summary.State != nil {
		fields = append(fields,
			zap.String(string(model.KindMatchStrings), util.FormatISODatetime(summary.State.MatchStrings.LastModEndDate)),
			zap.String(string(model.KindVulnerabilities), util.FormatISODatetime(summary.State.Vulnerabilities.LastModEndDate)))
	}
	logger.Info("Sync complete", fields...)
	return nil
}
