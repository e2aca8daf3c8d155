package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/relayer/internal/control"
	"github.com/vietddude/relayer/internal/core/config"
)

var (
	cfgPath string
	isDebug bool

	// cfg is loaded before any command runs
	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "relayer",
	Short: "Cross-chain message relayer",
	Long: `Relayer indexes bridge events on EVM chains and relays CCTP messages
once their attestation is available.`,
	PersistentPreRun: loadConfig,
	Run:              runRelayer,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the indexer, the CCTP state machine and the health server",
	Run:   runRelayer,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

func loadConfig(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	stylelog.InitDefault(&tint.Options{
		Level:      logLevel(cfg.Logging.Level),
		TimeFormat: time.RFC3339,
	})
}

func logLevel(level string) slog.Level {
	if isDebug {
		return slog.LevelDebug
	}
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runRelayer(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewRelayer(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize relayer", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Close()
	}()

	slog.Info("Relayer starting", "config", cfgPath, "network", cfg.Network)
	if err := app.Run(ctx); err != nil {
		slog.Error("Relayer failed", "error", err)
		_ = app.Close()
		os.Exit(1)
	}
}
