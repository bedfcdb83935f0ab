package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	appLog "fsqcal/internal/log"
)

const (
	modeAuto    = "auto"
	modeFull    = "full"
	modePartial = "partial"
)

type syncOptions struct {
	*rootOptions
	mode       string
	windowDays int
	push       bool
}

func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync against Foursquare and exit",
		Long: `Run a single sync and persist the result.

Modes:
  auto     same choice as server startup (full when the store is empty or
           behind the remote count, partial otherwise)
  full     replace the store with the whole history
  partial  reconcile the last --window-days days

Example:
  fsqcal sync --mode full
  fsqcal sync --mode partial --window-days 30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", modeAuto, "sync mode (auto|full|partial)")
	cmd.Flags().IntVar(&opts.windowDays, "window-days", 0, "partial sync window in days (default from config)")
	cmd.Flags().BoolVar(&opts.push, "push", false, "propagate deltas to Google Calendar if configured")
	return cmd
}

func runSync(ctx context.Context, opts *syncOptions) error {
	switch opts.mode {
	case modeAuto, modeFull, modePartial:
	default:
		return fmt.Errorf("invalid mode %q: must be one of auto, full, partial", opts.mode)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(opts.rootOptions)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, opts.push)
	if err != nil {
		return err
	}
	// Waits for queued pushes and for a startup backfill.
	defer a.finish(ctx)

	switch opts.mode {
	case modeFull:
		err = a.engine.FullSync(ctx)
	case modePartial:
		err = a.engine.PartialSync(ctx, opts.windowDays)
	default:
		err = a.engine.Startup(ctx)
	}
	if err != nil {
		return err
	}

	run, _ := a.engine.LastRun()
	appLog.Info("sync finished", "kind", run.Kind, "run", run.ID, "count", run.Count,
		"created", run.Created, "deleted", run.Deleted, "storage", a.store.Location())
	return nil
}
