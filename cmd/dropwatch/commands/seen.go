package commands

import (
	"os"
	"time"

	"dropwatch/lib/configutil"
	"dropwatch/lib/serviceutil"
	"dropwatch/services/watch"
	"dropwatch/services/watch/state"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var seenConfig *string

func init() {
	seenConfig = seenCmd.Flags().String("config", "dropwatch.json5", "Path to the watch config.")
	rootCmd.AddCommand(seenCmd)
}

var seenCmd = &cobra.Command{
	Use:   "seen [--config <path>]",
	Short: "Lists every session id already notified, oldest age first.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := configutil.ReadConfig[watch.Config](*seenConfig)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}

		// ttl 0 so listing never evicts anything
		seen := state.Load(cfg.SeenFilePath(), 0)

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"id", "first seen"})
		for _, e := range seen.Entries() {
			t.AppendRow(table.Row{e.Id, e.FirstSeen.Format(time.RFC3339)})
		}
		t.Render()
	},
}
