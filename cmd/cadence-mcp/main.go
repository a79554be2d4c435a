// Command cadence-mcp serves the Cadence tools over the Model Context
// Protocol on stdin/stdout. All logging goes to stderr.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/scrypster/cadence/internal/api/mcp"
	"github.com/scrypster/cadence/internal/config"
	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/logging"
	"github.com/scrypster/cadence/internal/notify"
	"github.com/scrypster/cadence/internal/server"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to a .env file (ignored when missing)")
	owner := flag.String("owner", "", "Default owner ID for tool calls (default: $CADENCE_OWNER or $USER)")
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

	if err := run(ctx, cfg, logger, defaultOwner(*owner), os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.WithError(err).Fatal("cadence-mcp failed")
	}
}

func defaultOwner(flagValue string) string {
	for _, v := range []string{flagValue, os.Getenv("CADENCE_OWNER"), os.Getenv("USER")} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// run serves MCP requests from in until it is closed or ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, owner string, in io.Reader, out io.Writer) error {
	engineCfg, err := server.LoadEngineConfig(cfg)
	if err != nil {
		return err
	}

	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := []engine.Option{engine.WithLogger(logger)}
	// A running cadence-server picks these up for its WebSocket clients.
	if cfg.Storage.StorageEngine == config.EngineSQLite {
		if w := notify.NewEventWriter(cfg.Storage.DataPath, logger); w.Available() {
			opts = append(opts, engine.WithNotifier(w))
		}
	}

	svc, err := engine.NewService(store, engineCfg, opts...)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(svc, mcp.WithDefaultOwner(owner), mcp.WithLogger(logger))
	logger.WithFields(logrus.Fields{
		"storage": cfg.Storage.StorageEngine,
		"owner":   owner,
	}).Info("Cadence MCP server ready on stdio")

	return mcp.NewStdioTransport(srv, in, out, logger).Serve(ctx)
}
