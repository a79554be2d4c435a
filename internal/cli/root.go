// Package cli implements the cadence CLI commands over a local SQLite store.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/scrypster/cadence/internal/engine"
	"github.com/scrypster/cadence/internal/notify"
	"github.com/scrypster/cadence/internal/storage/sqlite"
)

// Output formats
const (
	FormatJSON = "json"
	FormatText = "text"
)

type options struct {
	dbPath       string
	owner        string
	format       string
	engineConfig string
	timezone     string
	verbose      bool
}

// NewRootCmd builds the top-level command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "cadence",
		Short:         "Behavioral pattern detection and context relevance",
		Long:          "Log sleep and activities, detect recurring patterns, and query time-decayed personal context. SQLite-backed, single binary.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != FormatJSON && opts.format != FormatText {
				return fmt.Errorf("unknown format %q (want json or text)", opts.format)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", "", "Database path (default: $CADENCE_DB or ~/.cadence/cadence.db)")
	root.PersistentFlags().StringVarP(&opts.owner, "owner", "o", "", "Owner ID (default: $CADENCE_OWNER or $USER)")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", FormatJSON, "Output format: json or text")
	root.PersistentFlags().StringVar(&opts.engineConfig, "engine-config", "", "Engine thresholds YAML (default: $CADENCE_ENGINE_CONFIG)")
	root.PersistentFlags().StringVar(&opts.timezone, "timezone", "", "IANA timezone for times of day (default: $CADENCE_TIMEZONE or UTC)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine decisions to stderr")

	root.AddCommand(
		newSleepCmd(opts),
		newActivityCmd(opts),
		newMemoryCmd(opts),
		newDetectCmd(opts),
		newPatternsCmd(opts),
		newDeactivateCmd(opts),
		newStatsCmd(opts),
		newContextCmd(opts),
		newQueryCmd(opts),
		newStateCmd(opts),
		newCleanupCmd(opts),
		newBackupCmd(opts),
		newRestoreCmd(opts),
	)
	return root
}

func (o *options) getDBPath() string {
	if o.dbPath != "" {
		return o.dbPath
	}
	if env := os.Getenv("CADENCE_DB"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cadence", "cadence.db")
}

func (o *options) getOwner() (string, error) {
	for _, v := range []string{o.owner, os.Getenv("CADENCE_OWNER"), os.Getenv("USER")} {
		if v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("owner is required (--owner or $CADENCE_OWNER)")
}

func (o *options) engineConfigPath() string {
	if o.engineConfig != "" {
		return o.engineConfig
	}
	return os.Getenv("CADENCE_ENGINE_CONFIG")
}

func (o *options) logger(cmd *cobra.Command) logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(cmd.ErrOrStderr())
	if o.verbose {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.WarnLevel)
	}
	return l
}

// openService opens the SQLite store and wires an engine service on it.
// The returned close function releases the store.
func (o *options) openService(cmd *cobra.Command) (*engine.Service, func(), error) {
	cfg := engine.DefaultConfig()
	if path := o.engineConfigPath(); path != "" {
		loaded, err := engine.LoadConfigFile(path)
		if err != nil {
			return nil, nil, err
		}
		cfg = loaded
	}
	tz := o.timezone
	if tz == "" {
		tz = os.Getenv("CADENCE_TIMEZONE")
	}
	if tz != "" {
		cfg.Timezone = tz
	}

	path := o.getDBPath()
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	logger := o.logger(cmd)
	store, err := sqlite.Open(cmd.Context(), path, sqlite.Options{Logger: logger})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	svcOpts := []engine.Option{engine.WithLogger(logger)}
	// A server watching this data directory relays detections to its
	// insight subscribers.
	if w := notify.NewEventWriter(filepath.Dir(path), logger); w.Available() {
		svcOpts = append(svcOpts, engine.WithNotifier(w))
	}

	svc, err := engine.NewService(store, cfg, svcOpts...)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return svc, func() { _ = store.Close() }, nil
}

// Execute runs the root command and reports errors on stderr.
func Execute(stderr io.Writer) int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
