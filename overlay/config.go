package overlay

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/unveil/overlay/internal/config"
	"github.com/hazyhaar/unveil/overlay/internal/ledger"
)

// Settings is the persisted settings record. Re-exported from internal.
type Settings = config.Settings

// Config is the daemon configuration file.
type Config = config.File

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to open and keep clean.
type PageConfig = config.PageConfig

// SinkConfig defines an event backend.
type SinkConfig = config.SinkConfig

// Store persists settings and pages in SQLite.
type Store = config.Store

// StoreOptions tunes a Store.
type StoreOptions = config.StoreOptions

// Page is a row of the pages table.
type Page = config.Page

// Static serves an in-memory settings record.
type Static = config.Static

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = config.ErrInvalidSettings

// DefaultSettings returns the settings of a fresh install.
func DefaultSettings() Settings { return config.Defaults() }

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// OpenStore applies the settings schema to db.
func OpenStore(ctx context.Context, db *sql.DB, opts StoreOptions) (*Store, error) {
	return config.OpenStore(ctx, db, opts)
}

// NewStatic returns a settings source serving s.
func NewStatic(s Settings) *Static { return config.NewStatic(s) }

// MarkerAttr is set on every element the engine has hidden.
const MarkerAttr = ledger.MarkerAttr
