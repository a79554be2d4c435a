package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/config"
	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/logging"
	"github.com/scrypster/cadence/internal/metrics"
	"github.com/scrypster/cadence/internal/notify"
	"github.com/scrypster/cadence/internal/server"
	"github.com/scrypster/cadence/web/handlers"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to a .env file (ignored when missing)")
	flag.Parse()

	cfg, err := config.LoadConfigWithEnvFile(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("cadence server failed")
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	engineCfg, err := server.LoadEngineConfig(cfg)
	if err != nil {
		return err
	}

	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	hub := handlers.NewInsightHub(logger, m)
	svc, err := engine.NewService(store, engineCfg,
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithNotifier(hub),
	)
	if err != nil {
		return err
	}

	// CLI processes sharing the SQLite data directory publish their
	// detections through event files.
	if cfg.Storage.StorageEngine == config.EngineSQLite {
		watcher := notify.NewEventWatcher(cfg.Storage.DataPath, hub.Publish, logger)
		if err := watcher.Start(); err != nil {
			logger.WithError(err).Warn("cross-process insight relay disabled")
		} else {
			defer watcher.Stop()
		}
	}

	sweeper, err := server.NewSweeper(cfg.Server.CleanupSchedule, svc, logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	addr, err := server.Start(ctx, cfg, server.Deps{
		Engine:   svc,
		Hub:      hub,
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"addr":     addr,
		"storage":  cfg.Storage.StorageEngine,
		"timezone": engineCfg.Timezone,
		"mode":     cfg.Security.SecurityMode,
	}).Infof("Cadence API running at http://%s", addr)

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	time.Sleep(500 * time.Millisecond) // Give time for connections to close
	return nil
}
