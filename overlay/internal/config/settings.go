// Package config holds the engine settings record, its validation, the YAML
// daemon configuration and the SQLite settings store.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/andybalholm/cascadia"

	"github.com/hazyhaar/unveil/overlay/internal/classify"
)

// ErrInvalidSettings wraps every validation failure.
var ErrInvalidSettings = errors.New("config: invalid settings")

// Settings is the flat persisted record. JSON keys match the stored layout.
type Settings struct {
	Enabled           bool `json:"enabled" yaml:"enabled"`
	ShowRestoreButton bool `json:"showRestoreButton" yaml:"show_restore_button"`
	// AggressiveMode is stored and round-tripped but not read by the engine.
	AggressiveMode    bool     `json:"aggressiveMode" yaml:"aggressive_mode"`
	MinZIndex         int      `json:"minZIndex" yaml:"min_z_index"`
	CoverageThreshold int      `json:"coverageThreshold" yaml:"coverage_threshold"`
	Whitelist         []string `json:"whitelist" yaml:"whitelist"`
	CustomSelectors   []string `json:"customSelectors" yaml:"custom_selectors"`
	Stats             Stats    `json:"stats" yaml:"stats"`
}

// Stats counters are reserved: stored, never incremented by the engine.
type Stats struct {
	TotalRemoved int `json:"totalRemoved" yaml:"total_removed"`
	ActiveToday  int `json:"activeToday" yaml:"active_today"`
}

// Defaults returns the settings of a fresh install.
func Defaults() Settings {
	return Settings{
		Enabled:           true,
		ShowRestoreButton: true,
		MinZIndex:         900,
		CoverageThreshold: 80,
		Whitelist:         []string{},
		CustomSelectors:   []string{},
	}
}

var domainRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9](?:\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9])*$`)

// ValidDomain reports whether d is an acceptable whitelist hostname.
func ValidDomain(d string) bool {
	return domainRe.MatchString(d)
}

// ValidSelector parses sel as a CSS selector group.
func ValidSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return fmt.Errorf("empty selector")
	}
	if _, err := cascadia.ParseGroup(sel); err != nil {
		return fmt.Errorf("selector %q: %w", sel, err)
	}
	return nil
}

// Normalize trims and lower-cases whitelist entries, trims selectors and
// drops empty entries and duplicates, keeping first occurrences.
func (s *Settings) Normalize() {
	s.Whitelist = uniq(s.Whitelist, func(v string) string { return strings.ToLower(strings.TrimSpace(v)) })
	s.CustomSelectors = uniq(s.CustomSelectors, strings.TrimSpace)
}

func uniq(in []string, norm func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = norm(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Validate reports every problem at once, wrapped in ErrInvalidSettings.
func (s Settings) Validate() error {
	var errs []error
	if s.MinZIndex < 0 {
		errs = append(errs, fmt.Errorf("minZIndex %d is negative", s.MinZIndex))
	}
	if s.CoverageThreshold < 1 || s.CoverageThreshold > 100 {
		errs = append(errs, fmt.Errorf("coverageThreshold %d outside 1..100", s.CoverageThreshold))
	}
	for _, d := range s.Whitelist {
		if !ValidDomain(d) {
			errs = append(errs, fmt.Errorf("whitelist domain %q is not a valid hostname", d))
		}
	}
	for _, sel := range s.CustomSelectors {
		if err := ValidSelector(sel); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

// Whitelisted is an exact hostname match.
func (s Settings) Whitelisted(host string) bool {
	return host != "" && slices.Contains(s.Whitelist, strings.ToLower(host))
}

// Classifier returns the classifier thresholds carried by s.
func (s Settings) Classifier() classify.Config {
	return classify.Config{
		MinZIndex:         s.MinZIndex,
		CoverageThreshold: s.CoverageThreshold,
		CustomSelectors:   slices.Clone(s.CustomSelectors),
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.Whitelist = slices.Clone(s.Whitelist)
	s.CustomSelectors = slices.Clone(s.CustomSelectors)
	return s
}
