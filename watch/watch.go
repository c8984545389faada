// Package watch polls an SQLite table for a changing version token and runs
// a reload action once the token has been stable for a debounce window.
//
//	w := watch.New(db, watch.Options{
//		Interval: 200 * time.Millisecond,
//		Debounce: 300 * time.Millisecond,
//		Detector: watch.MaxColumnDetector("settings", "updated_at"),
//	})
//	go w.OnChange(ctx, reload)
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// ChangeDetector reads a version token. Two different values mean the
// watched data changed.
type ChangeDetector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval is the polling period. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// Each new token restarts it. 0 runs the action on the detecting poll.
	Debounce time.Duration
	// Detector is required.
	Detector ChangeDetector
	Logger   *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Watcher runs the poll loop. Version and Reloads are safe to call from
// any goroutine.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64
	reloads atomic.Int64
}

// New creates a Watcher. Call OnChange to start the loop.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Version returns the token of the last successful reload, or the seed.
func (w *Watcher) Version() int64 { return w.version.Load() }

// Reloads returns how many times the action succeeded.
func (w *Watcher) Reloads() int64 { return w.reloads.Load() }

// OnChange seeds the version, then polls until ctx is done. A failed
// action leaves the version unchanged so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func() error) {
	log := w.opts.Logger
	if w.opts.Detector == nil {
		log.Error("watch: no change detector")
		return
	}

	if v, err := w.opts.Detector(ctx, w.db); err != nil {
		log.Warn("watch: initial version check failed", "error", err)
	} else {
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var (
		debounce *time.Timer
		fireCh   <-chan time.Time
		pending  int64
		waiting  bool
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("watch: version check failed", "error", err)
				}
				continue
			}
			if cur == w.version.Load() || (waiting && cur == pending) {
				continue
			}
			pending, waiting = cur, true
			if w.opts.Debounce <= 0 {
				w.fire(action, pending)
				waiting = false
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.opts.Debounce)
			} else {
				debounce.Reset(w.opts.Debounce)
			}
			fireCh = debounce.C
			log.Debug("watch: change detected", "pending_version", cur)

		case <-fireCh:
			fireCh = nil
			if waiting {
				w.fire(action, pending)
				waiting = false
			}
		}
	}
}

func (w *Watcher) fire(action func() error, ver int64) {
	start := time.Now()
	if err := action(); err != nil {
		w.opts.Logger.Error("watch: reload failed", "version", ver, "error", err)
		return
	}
	w.reloads.Add(1)
	w.version.Store(ver)
	w.opts.Logger.Debug("watch: reloaded", "version", ver, "duration", time.Since(start))
}

// MaxColumnDetector polls MAX(column) of table. Writers must make the
// column grow on every change. Identifiers are quoted.
func MaxColumnDetector(table, column string) ChangeDetector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
