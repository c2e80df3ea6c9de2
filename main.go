package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kz-lemon4ik/osu-lost-scores-sub000/cmd"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/conf"
	"github.com/kz-lemon4ik/osu-lost-scores-sub000/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		logging.Fatal("error loading configuration", "error", err)
	}

	if settings.Main.Log.Enabled {
		mainLogger, closeLog, lerr := logging.NewFileLogger(
			settings.Main.Log.Path, settings.Main.Name,
			logging.ParseLevel(settings.Main.Log.Level))
		if lerr != nil {
			logging.Warn("cannot open main log file", "path", settings.Main.Log.Path, "error", lerr)
		} else {
			slog.SetDefault(mainLogger)
			defer closeLog() //nolint:errcheck
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.Fatal("command failed", "error", err)
	}
}
