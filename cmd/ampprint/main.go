package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ampprint/ampprint/internal/config"
	"github.com/ampprint/ampprint/internal/engine"
	"github.com/ampprint/ampprint/internal/live"
	"github.com/ampprint/ampprint/internal/store"
)

const version = "0.1.0-dev"

var (
	// Global flags
	flagConfig     string
	flagDB         string
	flagSnapshot   string
	flagHTTPAddr   string
	flagMQTTBroker string
	flagLogLevel   string

	cfg    config.ResolvedConfig
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ampprint",
	Short: "ampprint - device fingerprinting for smart chargers",
	Long: `ampprint watches power draw over charging sessions, extracts a
fingerprint from each completed session, and clusters sessions that
look like the same device. Groups earn names either automatically
(from a default pool) or from you, and live sessions get a best-guess
identity plus a time-remaining estimate while still charging.

Run "ampprint serve" to start the HTTP API and MQTT intake.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.ResolveConfig(config.ResolveOptions{
			ConfigPath:      flagConfig,
			CLIDBPath:       flagDB,
			CLISnapshotPath: flagSnapshot,
			CLIHTTPAddr:     flagHTTPAddr,
			CLIMQTTBroker:   flagMQTTBroker,
			CLILogLevel:     flagLogLevel,
		})
		if err != nil {
			return fmt.Errorf("resolving config: %w", err)
		}

		lvl, err := zapcore.ParseLevel(cfg.LogLevel.Value)
		if err != nil {
			return fmt.Errorf("invalid log level %q (from %s): %w", cfg.LogLevel.Value, cfg.LogLevel.From, err)
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ampprint %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.ampprint/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database path (or set AMPPRINT_DB)")
	rootCmd.PersistentFlags().StringVar(&flagSnapshot, "snapshot", "", "Group snapshot path (or set AMPPRINT_SNAPSHOT)")
	rootCmd.PersistentFlags().StringVar(&flagHTTPAddr, "http-addr", "", "HTTP listen address (or set AMPPRINT_HTTP_ADDR)")
	rootCmd.PersistentFlags().StringVar(&flagMQTTBroker, "mqtt-broker", "", "MQTT broker host:port (or set AMPPRINT_MQTT_BROKER)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(reclusterCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openEngine builds an engine from the resolved config. The caller owns the
// returned engine and must Close it.
func openEngine() (*engine.Engine, error) {
	st, err := store.New(store.Config{DBPath: cfg.DBPath.Value})
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Sessions:   st,
		Snapshot:   store.NewSnapshotFile(cfg.SnapshotPath.Value),
		Completion: completionFromConfig(cfg.Completion),
		Logger:     logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("starting engine: %w", err)
	}
	return eng, nil
}

// completionFromConfig overlays the configured tuning on the defaults.
// Zero-valued fields keep their default.
func completionFromConfig(t config.CompletionTuning) live.Completion {
	c := live.DefaultCompletion()
	if t.MinReadings > 0 {
		c.MinReadings = t.MinReadings
	}
	if t.TrailingWindow > 0 {
		c.TrailingWindow = t.TrailingWindow
	}
	if t.TrailingMinCount > 0 {
		c.TrailingMinCount = t.TrailingMinCount
	}
	if t.IdleWatts > 0 {
		c.IdleWatts = t.IdleWatts
	}
	if t.BufferWindow > 0 {
		c.BufferWindow = t.BufferWindow
	}
	if t.BufferMinCount > 0 {
		c.BufferMinCount = t.BufferMinCount
	}
	if t.ReboundFactor > 0 {
		c.ReboundFactor = t.ReboundFactor
	}
	return c
}
