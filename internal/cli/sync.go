package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/feedsync/internal/control"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one feed sync with retries and exit",
	Long:  `Runs a single sync. Exits with status 1 when every attempt failed.`,
	Run:   runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)
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

	report, err := app.SyncOnce(ctx)
	_ = app.Close()
	if err != nil {
		os.Exit(1)
	}
	slog.Info("Sync complete", "attempts", report.Attempts, "parsed", report.Parsed)
}
