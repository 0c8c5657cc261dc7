package cli

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/feedsync/internal/control"
	"github.com/vietddude/feedsync/internal/core/config"
)

var (
	cfgPath    string
	isDebug    bool
	runOnStart bool
)

var rootCmd = &cobra.Command{
	Use:   "feedsync",
	Short: "Feedsync event feed ingestion service",
	Long: `Feedsync pulls the provider's XML event feed on a schedule, upserts online
events into the store and serves them through a date-range search API.`,
	Run: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the scheduled sync (default)",
	Run:   runServe,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "sync once immediately on startup")
	serveCmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "sync once immediately on startup")
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads .env and the config file, then installs the logger. A
// missing default config file is not an error: defaults and environment
// variables are used instead.
func loadConfig(cmd *cobra.Command) *config.AppConfig {
	_ = godotenv.Load()

	path := cfgPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)
	return cfg
}

func setupLogging(cfg config.LoggingConfig) {
	slogLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	}
	if isDebug {
		slogLevel = slog.LevelDebug
	}

	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
	if runOnStart {
		cfg.Ingest.RunOnStart = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := control.NewService(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize feedsync", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("Error closing connections", "error", err)
		}
	}()

	slog.Info("Feedsync started", "config", cfgPath, "schedule", cfg.Ingest.Schedule, "port", cfg.Server.Port)

	if err := app.Run(ctx); err != nil {
		slog.Error("Feedsync stopped with error", "error", err)
		return
	}
	slog.Info("Feedsync stopped")
}
