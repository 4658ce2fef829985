// Command weld stitches independently generated music segments into a
// single track, talking to a generation backend for new material.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/weldaudio/weld/internal/config"
	"github.com/weldaudio/weld/internal/segment"
)

var (
	flagConfig  string
	flagVerbose bool
)

func main() {
	root := &cobra.Command{
		Use:           "weld",
		Short:         "stitch generated music segments into continuous tracks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to YAML config")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newGenerateCmd(), newStitchCmd(), newPlanCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, nil, err
	}
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, logger, nil
}

// openStore builds the configured segment store backend.
func openStore(cfg config.Config) (segment.Store, error) {
	switch cfg.Store.Backend {
	case "badger":
		return segment.NewBadgerStore(segment.BadgerOptions{
			Dir:      cfg.Store.Dir,
			InMemory: cfg.Store.Dir == "",
		})
	default:
		return segment.NewMemStore(), nil
	}
}
