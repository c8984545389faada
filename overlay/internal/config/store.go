package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/watch"
)

// Schema creates the settings and pages tables. Settings are stored one
// row per top-level key with a JSON value.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS pages (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	stealth    INTEGER DEFAULT 1,
	status     TEXT DEFAULT 'active',
	updated_at INTEGER NOT NULL
);
`

// requiredImportKeys must be present in an imported settings blob.
var requiredImportKeys = []string{"enabled", "whitelist"}

// StoreOptions tunes a Store.
type StoreOptions struct {
	// PollInterval is how often Watch checks for changes. Default: 200ms.
	PollInterval time.Duration
	// Debounce is the quiet period before Watch reloads. Default: 300ms.
	Debounce time.Duration
	// Now is the clock. Default: time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (o *StoreOptions) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.Debounce <= 0 {
		o.Debounce = 300 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Store persists Settings in SQLite. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	opts StoreOptions
	// mu serialises read-modify-write updates.
	mu sync.Mutex
}

// OpenStore applies Schema and returns a Store over db.
func OpenStore(ctx context.Context, db *sql.DB, opts StoreOptions) (*Store, error) {
	opts.defaults()
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return nil, fmt.Errorf("config: store schema: %w", err)
	}
	return &Store{db: db, opts: opts}, nil
}

// GetSettings merges the stored keys over Defaults.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	raw, err := s.rawKeys(ctx)
	if err != nil {
		return Settings{}, err
	}
	out := Defaults()
	if len(raw) == 0 {
		return out, nil
	}
	blob, err := json.Marshal(raw)
	if err != nil {
		return Settings{}, fmt.Errorf("config: get settings: %w", err)
	}
	if err := json.Unmarshal(blob, &out); err != nil {
		return Settings{}, fmt.Errorf("config: get settings: %w", err)
	}
	return out, nil
}

func (s *Store) rawKeys(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("config: load settings: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]json.RawMessage)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("config: scan settings: %w", err)
		}
		if !json.Valid([]byte(v)) {
			s.opts.Logger.Warn("config: ignoring malformed stored value", "key", k)
			continue
		}
		raw[k] = json.RawMessage(v)
	}
	return raw, rows.Err()
}

// IsWhitelisted reports whether host is on the stored whitelist.
func (s *Store) IsWhitelisted(ctx context.Context, host string) (bool, error) {
	st, err := s.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	return st.Whitelisted(host), nil
}

// Save normalizes and validates st, then writes every key.
func (s *Store) Save(ctx context.Context, st Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx, st)
}

func (s *Store) saveLocked(ctx context.Context, st Settings) error {
	st.Normalize()
	if err := st.Validate(); err != nil {
		return err
	}
	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(blob, &keys); err != nil {
		return fmt.Errorf("config: save: %w", err)
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	slices.Sort(names)

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var prev int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(updated_at), 0) FROM settings`).Scan(&prev); err != nil {
			return fmt.Errorf("config: save: %w", err)
		}
		// updated_at must grow on every save so watchers see the change.
		stamp := max(s.opts.Now().UnixMilli(), prev+1)
		for _, k := range names {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
			`, k, string(keys[k]), stamp); err != nil {
				return fmt.Errorf("config: save %s: %w", k, err)
			}
		}
		return nil
	})
}

// Seed saves st only when the store holds no settings yet. It reports
// whether it wrote anything.
func (s *Store) Seed(ctx context.Context, st Settings) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings`).Scan(&n); err != nil {
		return false, fmt.Errorf("config: seed: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	if err := s.saveLocked(ctx, st); err != nil {
		return false, err
	}
	return true, nil
}

// Update applies fn to the current settings and saves the result.
func (s *Store) Update(ctx context.Context, fn func(*Settings) error) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if err := fn(&st); err != nil {
		return Settings{}, err
	}
	if err := s.saveLocked(ctx, st); err != nil {
		return Settings{}, err
	}
	st.Normalize()
	return st, nil
}

// AddWhitelist appends a hostname. Invalid and duplicate domains are
// rejected with ErrInvalidSettings.
func (s *Store) AddWhitelist(ctx context.Context, domain string) (Settings, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return s.Update(ctx, func(st *Settings) error {
		switch {
		case domain == "":
			return fmt.Errorf("%w: empty domain", ErrInvalidSettings)
		case !ValidDomain(domain):
			return fmt.Errorf("%w: %q is not a valid domain", ErrInvalidSettings, domain)
		case slices.Contains(st.Whitelist, domain):
			return fmt.Errorf("%w: %q already whitelisted", ErrInvalidSettings, domain)
		}
		st.Whitelist = append(st.Whitelist, domain)
		return nil
	})
}

// RemoveWhitelist drops a hostname. Removing an absent one is a no-op.
func (s *Store) RemoveWhitelist(ctx context.Context, domain string) (Settings, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return s.Update(ctx, func(st *Settings) error {
		st.Whitelist = slices.DeleteFunc(st.Whitelist, func(d string) bool { return d == domain })
		return nil
	})
}

// AddSelector appends a custom selector after checking it parses.
func (s *Store) AddSelector(ctx context.Context, selector string) (Settings, error) {
	selector = strings.TrimSpace(selector)
	return s.Update(ctx, func(st *Settings) error {
		if err := ValidSelector(selector); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
		if slices.Contains(st.CustomSelectors, selector) {
			return fmt.Errorf("%w: selector %q already exists", ErrInvalidSettings, selector)
		}
		st.CustomSelectors = append(st.CustomSelectors, selector)
		return nil
	})
}

// RemoveSelector drops a custom selector.
func (s *Store) RemoveSelector(ctx context.Context, selector string) (Settings, error) {
	selector = strings.TrimSpace(selector)
	return s.Update(ctx, func(st *Settings) error {
		st.CustomSelectors = slices.DeleteFunc(st.CustomSelectors, func(v string) bool { return v == selector })
		return nil
	})
}

// Reset replaces every key with the defaults.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM settings`); err != nil {
		return fmt.Errorf("config: reset: %w", err)
	}
	return s.saveLocked(ctx, Defaults())
}

// Export renders the whole record as indented JSON.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	st, err := s.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("config: export: %w", err)
	}
	return out, nil
}

// Import merges a JSON blob over the current settings. The blob must carry
// the enabled and whitelist keys.
func (s *Store) Import(ctx context.Context, data []byte) (Settings, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return Settings{}, fmt.Errorf("%w: import: %w", ErrInvalidSettings, err)
	}
	var missing []error
	for _, k := range requiredImportKeys {
		if _, ok := keys[k]; !ok {
			missing = append(missing, fmt.Errorf("missing key %q", k))
		}
	}
	if len(missing) > 0 {
		return Settings{}, fmt.Errorf("%w: import: %w", ErrInvalidSettings, errors.Join(missing...))
	}
	return s.Update(ctx, func(st *Settings) error {
		if err := json.Unmarshal(data, st); err != nil {
			return fmt.Errorf("%w: import: %w", ErrInvalidSettings, err)
		}
		return nil
	})
}

// Watch blocks until ctx is done, calling fn with the fresh settings after
// each committed change.
func (s *Store) Watch(ctx context.Context, fn func(Settings)) {
	w := watch.New(s.db, watch.Options{
		Interval: s.opts.PollInterval,
		Debounce: s.opts.Debounce,
		Detector: watch.MaxColumnDetector("settings", "updated_at"),
		Logger:   s.opts.Logger,
	})
	w.OnChange(ctx, func() error {
		st, err := s.GetSettings(ctx)
		if err != nil {
			return err
		}
		fn(st)
		return nil
	})
}
