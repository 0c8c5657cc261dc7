package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/feedsync/internal/control"
	"github.com/vietddude/feedsync/internal/core/domain"
)

var historySize int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored event count and recent sync runs",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&historySize, "history", 10, "number of recent runs to show (requires redis)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig(cmd)

	ctx := context.Background()
	app, err := control.NewService(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize feedsync", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Close()
	}()

	st, err := app.Status(ctx, historySize)
	if err != nil {
		slog.Error("Failed to load status", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Storage: %s\nEvents:  %d\n\n", st.Storage, st.Events)

	runs := st.Recent
	if len(runs) == 0 && st.LastRun != nil {
		runs = []*domain.RunReport{st.LastRun}
	}
	if len(runs) == 0 {
		fmt.Println("No sync runs recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "STARTED\tSTATE\tATTEMPTS\tPARSED\tSKIPPED\tERROR")
	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.StartedAt.Format(time.RFC3339),
			r.State,
			r.Attempts,
			r.Parsed,
			r.SkippedOffline+r.InvalidRecords,
			r.Error,
		)
	}
	_ = w.Flush()
}
