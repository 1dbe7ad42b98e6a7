package main

import (
	"context"
	"log/slog"
	"os"

	"dropwatch/cmd/dropwatch/commands"
	"dropwatch/lib/telemetry"
)

func main() {
	ctx := context.Background()

	tel, err := telemetry.SetupFromEnv(ctx, "dropwatch")
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to setup telemetry", "err", err)
	}
	if err == nil {
		// flushes batched spans from short single runs
		defer func() {
			err := tel.Shutdown(ctx)
			if err != nil {
				slog.Warn("failed to shut down telemetry", "err", err)
			}
		}()
	}

	commands.ExecuteContext(ctx)
}
