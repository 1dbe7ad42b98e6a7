package commands

import (
	"fmt"
	"os"
	"time"

	"dropwatch/lib/configutil"
	"dropwatch/lib/serviceutil"
	"dropwatch/services/watch"
	"dropwatch/services/watch/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyConfig *string
var historyLimit *int
var historyRun *string

func init() {
	historyConfig = historyCmd.Flags().String("config", "dropwatch.json5", "Path to the watch config.")
	historyLimit = historyCmd.Flags().Int("limit", 20, "How many runs to list.")
	historyRun = historyCmd.Flags().String("run", "", "Show the notifications of one run instead.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--config <path>] [--limit <n>] [--run <id>]",
	Short: "Lists recent watch runs, or the notifications of one run.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[watch.Config](*historyConfig)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		if cfg.HistoryDb == "" {
			serviceutil.Fatal("history_db is not set in the config", fmt.Errorf("no history to read"))
		}

		store, err := db.Open(cfg.HistoryDb)
		if err != nil {
			serviceutil.Fatal("failed to open history db", err)
		}
		defer store.Close()

		ctx := cmd.Context()
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)

		if *historyRun != "" {
			notifications, err := store.NotificationsForRun(ctx, *historyRun)
			if err != nil {
				serviceutil.Fatal("failed to read notifications", err)
			}
			t.AppendHeader(table.Row{"event", "summary", "sent at", "sent ok", "signup"})
			for _, n := range notifications {
				t.AppendRow(table.Row{n.EventId, n.Summary, n.SentAt.Format(time.RFC3339), n.TransportOk, n.SignupState})
			}
			t.Render()
			return
		}

		runs, err := store.RecentRuns(ctx, *historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to read runs", err)
		}
		t.AppendHeader(table.Row{"run", "started at", "payloads", "candidates", "matches", "new"})
		for _, r := range runs {
			t.AppendRow(table.Row{r.Id, r.StartedAt.Format(time.RFC3339), r.Payloads, r.Candidates, r.Matches, r.NewMatches})
		}
		t.Render()
	},
}
