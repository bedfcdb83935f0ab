package main

import (
	"context"
	"io"

	"fsqcal/internal/config"
	"fsqcal/internal/engine"
	"fsqcal/internal/foursquare"
	"fsqcal/internal/gcal"
	"fsqcal/internal/ics"
	appLog "fsqcal/internal/log"
	"fsqcal/internal/model"
	"fsqcal/internal/persist"
	"fsqcal/internal/propagate"
	"fsqcal/internal/store"
	"fsqcal/internal/web"
)

// app is the wired object graph shared by serve and sync.
type app struct {
	cfg     *config.Config
	gateway persist.Gateway
	store   *store.Store
	prop    *propagate.Propagator
	engine  *engine.Engine
}

func renderer(cfg *config.Config) store.Renderer {
	meta := ics.FeedMeta{DisplayName: cfg.CalendarDisplayName, Timezone: cfg.Timezone}
	return func(events []model.CalendarEvent) string {
		return ics.Build(meta, events)
	}
}

// openStore opens the configured gateway and restores what it holds,
// unless the config asks for a clean start. A missing or unreadable
// persisted state is never fatal.
func openStore(cfg *config.Config) (persist.Gateway, *store.Store, error) {
	gw, err := persist.Open(cfg.StorageBackend, cfg.StorageDir)
	if err != nil {
		return nil, nil, err
	}
	st := store.New(renderer(cfg), gw)

	if cfg.ResetStoreOnStartup {
		appLog.Info("reset_store_on_startup set; ignoring persisted state", "location", gw.Location())
		return gw, st, nil
	}

	records, found, err := gw.Load()
	if err != nil {
		appLog.Error("persisted state unreadable; starting empty", err, "location", gw.Location())
	}
	if found {
		n := st.Restore(records)
		appLog.Info("persisted state restored", "items", n, "location", gw.Location())
	}
	return gw, st, nil
}

func newApp(ctx context.Context, cfg *config.Config, withPush bool) (*app, error) {
	if cfg.RemoteToken == "" {
		appLog.Warn("FS_OAUTH_TOKEN is empty; every sync will fail until it is set")
	}

	gw, st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, gateway: gw, store: st}

	var sink engine.Sink
	if withPush && cfg.EnableExternalPush {
		cal, err := gcal.NewFromCredentialsFile(ctx, cfg.ExternalCalendarID, cfg.ExternalCredentialsPath)
		if err != nil {
			// Push is an optional side channel; the feed keeps working.
			appLog.Error("google calendar client init failed; push disabled", err)
		} else {
			a.prop = propagate.New(cal, propagate.Options{
				Workers:       cfg.PushWorkers,
				RatePerSecond: float64(cfg.PushRatePerSecond),
				BackfillDelay: cfg.BackfillDelay(),
			})
			sink = a.prop
			appLog.Info("google calendar push enabled", "calendar", cfg.ExternalCalendarID)
		}
	}

	a.engine = engine.New(
		foursquare.NewClient(cfg.RemoteToken),
		st,
		sink,
		engine.Options{
			WindowDays: cfg.PartialWindowDays,
			Backfill:   cfg.EnableHistoryBackfill && sink != nil,
		},
	)
	return a, nil
}

// finish is Close for one-shot commands: a backfill started by the sync is
// allowed to push everything before the propagator shuts down.
func (a *app) finish(ctx context.Context) {
	if a.prop != nil {
		if err := a.prop.WaitBackfill(ctx); err != nil {
			appLog.Error("backfill did not finish", err)
		}
	}
	if err := a.Close(); err != nil {
		appLog.Error("close failed", err)
	}
}

// Close drains the propagator queue, aborts a running backfill and
// releases the gateway.
func (a *app) Close() error {
	if a.prop != nil {
		a.prop.Close()
	}
	if c, ok := a.gateway.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// pushStats avoids handing a typed nil to the web layer.
func (a *app) pushStats() web.PushStats {
	if a.prop == nil {
		return nil
	}
	return a.prop
}
