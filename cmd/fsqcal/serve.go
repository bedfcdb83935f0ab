package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fsqcal/internal/debounce"
	"fsqcal/internal/engine"
	appLog "fsqcal/internal/log"
	"fsqcal/internal/schedule"
	"fsqcal/internal/web"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	*rootOptions
	listen string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the feed server with periodic and webhook-triggered syncs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

func runServe(opts *serveOptions) error {
	appLog.Info("fsqcal starting", "version", version)

	cfg, err := loadConfig(opts.rootOptions)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"storage", cfg.StorageBackend,
		"storage_dir", cfg.StorageDir,
		"partial_minutes", cfg.PartialSyncIntervalMinutes,
		"full_minutes", cfg.FullSyncIntervalMinutes,
		"window_days", cfg.PartialWindowDays,
		"google_push", cfg.EnableExternalPush,
		"access_secret", cfg.AccessSecret != "",
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}

	// Syncs never observe request or signal cancellation once started;
	// per-call timeouts bound them.
	syncCtx := context.WithoutCancel(ctx)

	sched, err := schedule.New(
		schedule.Job{Name: engine.KindPartial, Interval: cfg.PartialInterval(), Run: func() {
			_ = a.engine.PartialSync(syncCtx, cfg.PartialWindowDays)
		}},
		schedule.Job{Name: engine.KindFull, Interval: cfg.FullInterval(), Run: func() {
			_ = a.engine.FullSync(syncCtx)
		}},
	)
	if err != nil {
		_ = a.Close()
		return err
	}

	var bg tasks
	bg.Go(func() {
		if err := a.engine.Startup(syncCtx); err != nil {
			appLog.Error("startup sync failed", err)
		}
	})
	sched.Start()

	webhook := debounce.New(cfg.DebounceQuiet(), func() {
		_ = a.engine.PartialSync(syncCtx, cfg.PartialWindowDays)
	})

	srv := web.NewServer(a.store, a.engine, webhook, web.Options{
		AccessSecret: cfg.AccessSecret,
		Push:         a.pushStats(),
	})
	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", cfg.Listen)
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP shutdown failed", err)
	}

	// Every sync source is stopped and drained before the gateway closes.
	webhook.Stop()
	sched.Stop(shutdownCtx)
	if err := bg.Wait(shutdownCtx); err != nil {
		appLog.Warn("startup sync still running at shutdown deadline")
	}
	if err := a.Close(); err != nil {
		appLog.Error("close failed", err)
	}

	if runErr != nil {
		return runErr
	}
	appLog.Info("fsqcal exiting")
	return nil
}

// tasks tracks background syncs started outside the scheduler.
type tasks struct {
	wg sync.WaitGroup
}

func (t *tasks) Go(fn func()) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		fn()
	}()
}

// Wait blocks until every task returned or ctx is done.
func (t *tasks) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
