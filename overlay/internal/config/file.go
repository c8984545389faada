package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the daemon configuration loaded from YAML.
type File struct {
	Settings  Settings        `yaml:"settings"`
	Browser   BrowserConfig   `yaml:"browser"`
	Pages     []PageConfig    `yaml:"pages"`
	Selection SelectionConfig `yaml:"selection"`
	Sinks     []SinkConfig    `yaml:"sinks"`
	Store     StoreConfig     `yaml:"store"`
	Listen    ListenConfig    `yaml:"listen"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Mode             string        `yaml:"mode"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig defines a page to open and keep clean.
type PageConfig struct {
	ID      string `yaml:"id"`
	URL     string `yaml:"url"`
	Stealth *bool  `yaml:"stealth"`
}

// SelectionConfig holds the pick-mode timings.
type SelectionConfig struct {
	BannerFade    time.Duration `yaml:"banner_fade"`
	SuccessLinger time.Duration `yaml:"success_linger"`
}

// SinkConfig defines an event output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // for webhook
	Path string `yaml:"path"` // for sqlite
	// Retention bounds the sqlite history. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// StoreConfig points at the SQLite settings database. An empty path means
// the settings section of this file is used as a static source.
type StoreConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ListenConfig configures the control surfaces.
type ListenConfig struct {
	HTTP string `yaml:"http"`
	MCP  bool   `yaml:"mcp"` // serve MCP on stdio
}

// LoadFile reads a YAML configuration file. Settings omitted from the file
// keep their defaults.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*File, error) {
	cfg := File{Settings: Defaults()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.Settings.Normalize()
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	for i, p := range cfg.Pages {
		if p.URL == "" {
			return nil, fmt.Errorf("config: page %d: url is required", i)
		}
	}
	return &cfg, nil
}

func (c *File) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Selection.BannerFade <= 0 {
		c.Selection.BannerFade = 3 * time.Second
	}
	if c.Selection.SuccessLinger <= 0 {
		c.Selection.SuccessLinger = 2 * time.Second
	}
	if c.Store.PollInterval <= 0 {
		c.Store.PollInterval = 200 * time.Millisecond
	}
	for i := range c.Pages {
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
		if c.Pages[i].Stealth == nil {
			on := true
			c.Pages[i].Stealth = &on
		}
	}
}
