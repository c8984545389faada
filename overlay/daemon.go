package overlay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/overlay/internal/browser"
)

// DaemonOption configures a Daemon.
type DaemonOption func(*Daemon)

// WithLogger sets the daemon logger.
func WithLogger(l *slog.Logger) DaemonOption {
	return func(d *Daemon) { d.logger = l }
}

// WithSinks adds event sinks next to the ones named in the configuration.
func WithSinks(sinks ...Sink) DaemonOption {
	return func(d *Daemon) { d.extra = append(d.extra, sinks...) }
}

// WithOpener replaces Chrome with another page backend. No browser is
// started when an opener is set.
func WithOpener(o Opener) DaemonOption {
	return func(d *Daemon) { d.opener = o }
}

// Daemon is the top-level orchestrator: browser, settings source, sinks
// and the page supervisor.
type Daemon struct {
	cfg    *Config
	logger *slog.Logger
	extra  []Sink
	opener Opener

	mgr    *browser.Manager
	db     *sql.DB
	store  *Store
	source SettingsSource
	sinkR  Sink
	sup    *Supervisor
}

// NewDaemon creates a Daemon from configuration. Call Start to run it.
func NewDaemon(cfg *Config, opts ...DaemonOption) (*Daemon, error) {
	d := &Daemon{cfg: cfg}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}

	if d.opener == nil {
		mode, err := browser.ParseMode(cfg.Browser.Mode)
		if err != nil {
			return nil, fmt.Errorf("overlay: new daemon: %w", err)
		}
		d.mgr = browser.NewManager(browser.Config{
			RemoteURL:        cfg.Browser.Remote,
			MemoryLimit:      cfg.Browser.MemoryLimit,
			RecycleInterval:  cfg.Browser.RecycleInterval,
			ResourceBlocking: cfg.Browser.ResourceBlocking,
			Mode:             mode,
			XvfbDisplay:      cfg.Browser.XvfbDisplay,
			Logger:           d.logger,
		})
		d.opener = &chromeOpener{mgr: d.mgr, logger: d.logger}
	}

	sinks := append(SinksFromConfig(cfg.Sinks, d.logger), d.extra...)
	d.sinkR = NewRouter(d.logger, sinks...)
	return d, nil
}

// Start opens the settings source, launches the browser, opens every
// configured page and, with a store, follows settings and page changes
// until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.openSource(ctx); err != nil {
		return err
	}

	sup, err := NewSupervisor(SupervisorOptions{
		Opener:        d.opener,
		Source:        d.source,
		Sink:          d.sinkR,
		BannerFade:    d.cfg.Selection.BannerFade,
		SuccessLinger: d.cfg.Selection.SuccessLinger,
		Logger:        d.logger,
	})
	if err != nil {
		return err
	}
	d.sup = sup

	if d.mgr != nil {
		if err := d.mgr.Start(ctx); err != nil {
			return fmt.Errorf("overlay: start browser: %w", err)
		}
		d.mgr.SetOwner(d.sup)
	}

	pages, err := d.pages(ctx, nil)
	if err != nil {
		return err
	}
	if err := d.sup.Reconcile(ctx, pages); err != nil {
		d.logger.Error("overlay: failed to open pages", "error", err)
	}

	if d.store != nil {
		go d.store.Watch(ctx, func(s Settings) {
			d.logger.Info("overlay: settings changed", "enabled", s.Enabled, "whitelist", len(s.Whitelist))
			d.sup.Broadcast(ctx, s)
		})
		go d.store.WatchPages(ctx, func(stored []Page) {
			pages, err := d.pages(ctx, stored)
			if err != nil {
				d.logger.Error("overlay: reload pages", "error", err)
				return
			}
			if err := d.sup.Reconcile(ctx, pages); err != nil {
				d.logger.Error("overlay: reconcile pages", "error", err)
			}
		})
	}

	d.logger.Info("overlay: daemon started", "pages", len(pages), "store", d.store != nil)
	return nil
}

func (d *Daemon) openSource(ctx context.Context) error {
	if d.cfg.Store.Path == "" {
		d.source = NewStatic(d.cfg.Settings)
		return nil
	}
	db, err := dbopen.Open(d.cfg.Store.Path, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("overlay: open store: %w", err)
	}
	store, err := OpenStore(ctx, db, StoreOptions{
		PollInterval: d.cfg.Store.PollInterval,
		Logger:       d.logger,
	})
	if err != nil {
		db.Close()
		return err
	}
	if seeded, err := store.Seed(ctx, d.cfg.Settings); err != nil {
		db.Close()
		return err
	} else if seeded {
		d.logger.Info("overlay: store seeded from config", "path", d.cfg.Store.Path)
	}
	d.db, d.store, d.source = db, store, store
	return nil
}

// pages merges the configured pages with the stored ones; a stored page
// overrides a configured page with the same ID. A nil stored slice is
// loaded from the store.
func (d *Daemon) pages(ctx context.Context, stored []Page) ([]Page, error) {
	byID := make(map[string]int)
	var out []Page
	for _, pc := range d.cfg.Pages {
		byID[pc.ID] = len(out)
		out = append(out, Page{ID: pc.ID, URL: pc.URL, Stealth: pc.Stealth == nil || *pc.Stealth, Status: "active"})
	}
	if d.store == nil {
		return out, nil
	}
	if stored == nil {
		var err error
		if stored, err = d.store.LoadPages(ctx); err != nil {
			return nil, err
		}
	}
	for _, p := range stored {
		if i, ok := byID[p.ID]; ok {
			out[i] = p
			continue
		}
		byID[p.ID] = len(out)
		out = append(out, p)
	}
	return out, nil
}

// Supervisor returns the page supervisor, nil before Start.
func (d *Daemon) Supervisor() *Supervisor { return d.sup }

// Store returns the settings store, nil when the daemon runs on the
// configuration file alone.
func (d *Daemon) Store() *Store { return d.store }

// Stop closes every page, the sinks, the browser and the store.
func (d *Daemon) Stop() {
	if d.sup != nil {
		d.sup.Stop()
	}
	if err := d.sinkR.Close(); err != nil {
		d.logger.Warn("overlay: close sinks", "error", err)
	}
	if d.mgr != nil {
		d.mgr.Close()
	}
	if d.db != nil {
		d.db.Close()
	}
	d.logger.Info("overlay: daemon stopped")
}
