package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"dropwatch/lib/configutil"
	"dropwatch/lib/serviceutil"
	"dropwatch/lib/telemetry"
	"dropwatch/services/watch"
	"dropwatch/services/watch/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var watchConfig *string
var watchDryRun *bool
var watchInterval *time.Duration

func init() {
	watchConfig = watchCmd.Flags().String("config", "dropwatch.json5", "Path to the watch config.")
	watchDryRun = watchCmd.Flags().Bool("dry-run", false, "Report matches without notifying or persisting anything.")
	watchInterval = watchCmd.Flags().Duration("interval", 0, "Re-run every interval; 0 runs once and exits.")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch [--config <path>] [--dry-run] [--interval <duration>]",
	Short: "Runs the discovery pipeline once or on an interval.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[watch.Config](*watchConfig)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		opts := watch.Options{DryRun: *watchDryRun}
		if cfg.HistoryDb != "" {
			history, err := db.Open(cfg.HistoryDb)
			if err != nil {
				serviceutil.Fatal("failed to open history db", err)
			}
			defer history.Close()
			opts.History = &history
		}

		service, err := watch.NewService(cfg, opts)
		if err != nil {
			serviceutil.Fatal("failed to initialize watch service", err)
		}

		ctx := serviceutil.SignalContext()
		if *watchInterval <= 0 {
			runOnce(ctx, service, *watchDryRun)
			return
		}

		telemetry.InstrumentPerfStats(ctx)
		slog.InfoContext(ctx, "watching on an interval", "interval", watchInterval.String())

		ticker := time.NewTicker(*watchInterval)
		defer ticker.Stop()

		runOnce(ctx, service, *watchDryRun)
		for {
			select {
			case <-ticker.C:
				runOnce(ctx, service, *watchDryRun)
			case <-ctx.Done():
				return
			}
		}
	},
}

func runOnce(ctx context.Context, service *watch.Service, dryRun bool) {
	t1 := time.Now()
	report, err := service.Run(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "watch run failed", "err", err)
		return
	}
	slog.InfoContext(ctx, "watch run finished",
		"run_id", report.RunId,
		"new", len(report.NewEvents),
		"seconds", time.Since(t1).Seconds(),
	)

	if dryRun {
		renderMatches(report)
	}
}

func renderMatches(report watch.RunReport) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"id", "summary", "url"})
	for _, e := range report.NewEvents {
		t.AppendRow(table.Row{e.Id(), e.Summary, e.Url})
	}
	t.AppendFooter(table.Row{"", "candidates / matches", fmt.Sprintf("%d / %d", report.Candidates, report.Matches)})
	t.Render()
}
