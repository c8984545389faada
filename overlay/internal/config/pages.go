package config

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/watch"
)

// Page is a row from the pages table: one tab the daemon keeps open and clean.
type Page struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Stealth bool   `json:"stealth"`
	Status  string `json:"status"`
}

// LoadPages reads all active pages.
func (s *Store) LoadPages(ctx context.Context) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, stealth, status
		FROM pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		var stealth int
		if err := rows.Scan(&p.ID, &p.URL, &stealth, &p.Status); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		p.Stealth = stealth != 0
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertPage inserts or replaces a page and marks it active.
func (s *Store) UpsertPage(ctx context.Context, p Page) error {
	if p.ID == "" || p.URL == "" {
		return fmt.Errorf("config: upsert page: id and url are required")
	}
	stealth := 0
	if p.Stealth {
		stealth = 1
	}
	err := s.touchPages(ctx, func(tx *sql.Tx, stamp int64) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO pages (id, url, stealth, status, updated_at) VALUES (?, ?, ?, 'active', ?)
			ON CONFLICT(id) DO UPDATE SET url = excluded.url, stealth = excluded.stealth,
				status = 'active', updated_at = excluded.updated_at
		`, p.ID, p.URL, stealth, stamp)
		return err
	})
	if err != nil {
		return fmt.Errorf("config: upsert page %s: %w", p.ID, err)
	}
	return nil
}

// DisablePage flips a page to inactive so the next reconcile closes it.
func (s *Store) DisablePage(ctx context.Context, id string) error {
	err := s.touchPages(ctx, func(tx *sql.Tx, stamp int64) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE pages SET status = 'inactive', updated_at = ? WHERE id = ?`, stamp, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("config: disable page %s: %w", id, err)
	}
	return nil
}

// touchPages runs fn with an updated_at stamp above every stored one.
func (s *Store) touchPages(ctx context.Context, fn func(tx *sql.Tx, stamp int64) error) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var prev int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM pages`).Scan(&prev); err != nil {
			return err
		}
		return fn(tx, max(s.opts.Now().UnixMilli(), prev+1))
	})
}

// WatchPages calls fn with the active pages after every committed page
// change, including writes made by other processes. It blocks until ctx
// is done.
func (s *Store) WatchPages(ctx context.Context, fn func([]Page)) {
	w := watch.New(s.db, watch.Options{
		Interval: s.opts.PollInterval,
		Debounce: s.opts.Debounce,
		Detector: watch.MaxColumnDetector("pages", "updated_at"),
		Logger:   s.opts.Logger,
	})
	w.OnChange(ctx, func() error {
		pages, err := s.LoadPages(ctx)
		if err != nil {
			return err
		}
		fn(pages)
		return nil
	})
}
