package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	if !s.Enabled || !s.ShowRestoreButton {
		t.Errorf("defaults: enabled=%v showRestoreButton=%v, want both true", s.Enabled, s.ShowRestoreButton)
	}
	if s.MinZIndex != 900 || s.CoverageThreshold != 80 {
		t.Errorf("thresholds: got %d/%d, want 900/80", s.MinZIndex, s.CoverageThreshold)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate(defaults): %v", err)
	}
}

func TestValidDomain(t *testing.T) {
	cases := map[string]bool{
		"example.com":      true,
		"news.example.org": true,
		"a1-b2.io":         true,
		"localhost":        true,
		"-bad.com":         false,
		"bad-.com":         false,
		"has space.com":    false,
		"":                 false,
		"http://x.com":     false,
	}
	for d, want := range cases {
		if got := ValidDomain(d); got != want {
			t.Errorf("ValidDomain(%q): got %v, want %v", d, got, want)
		}
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	s := Defaults()
	s.MinZIndex = -1
	s.CoverageThreshold = 0
	s.Whitelist = []string{"ok.com", "not a domain"}
	s.CustomSelectors = []string{".fine", "div[["}

	err := s.Validate()
	if !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("Validate: got %v, want ErrInvalidSettings", err)
	}
	msg := err.Error()
	for _, want := range []string{"minZIndex", "coverageThreshold", "not a domain", "div[["} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	s := Settings{
		Whitelist:       []string{" Example.COM ", "example.com", "", "b.org"},
		CustomSelectors: []string{" .modal ", ".modal", ""},
	}
	s.Normalize()
	if got := strings.Join(s.Whitelist, ","); got != "example.com,b.org" {
		t.Errorf("whitelist: got %q, want example.com,b.org", got)
	}
	if got := strings.Join(s.CustomSelectors, ","); got != ".modal" {
		t.Errorf("selectors: got %q, want .modal", got)
	}
}

func TestWhitelistedIsExact(t *testing.T) {
	s := Defaults()
	s.Whitelist = []string{"example.com"}
	if !s.Whitelisted("Example.com") {
		t.Error("Example.com: want whitelisted")
	}
	if s.Whitelisted("www.example.com") {
		t.Error("www.example.com: subdomains are not whitelisted")
	}
	if s.Whitelisted("") {
		t.Error("empty host: want not whitelisted")
	}
}

func TestClassifierCopiesSelectors(t *testing.T) {
	s := Defaults()
	s.CustomSelectors = []string{".a"}
	c := s.Classifier()
	c.CustomSelectors[0] = ".b"
	if s.CustomSelectors[0] != ".a" {
		t.Error("Classifier shares the selector slice")
	}
}

func TestParseFile(t *testing.T) {
	cfg, err := Parse([]byte(`
settings:
  min_z_index: 500
  whitelist: [Example.com]
pages:
  - url: https://news.example.org/
selection:
  banner_fade: 1s
sinks:
  - type: stdout
  - type: sqlite
    path: events.db
    retention: 720h
browser:
  mode: headful
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Settings.MinZIndex != 500 {
		t.Errorf("min_z_index: got %d, want 500", cfg.Settings.MinZIndex)
	}
	if cfg.Settings.CoverageThreshold != 80 || !cfg.Settings.Enabled {
		t.Errorf("omitted settings lost their defaults: %+v", cfg.Settings)
	}
	if len(cfg.Settings.Whitelist) != 1 || cfg.Settings.Whitelist[0] != "example.com" {
		t.Errorf("whitelist: got %v", cfg.Settings.Whitelist)
	}
	if cfg.Pages[0].ID != "page-1" || cfg.Pages[0].Stealth == nil || !*cfg.Pages[0].Stealth {
		t.Errorf("page defaults: got %+v", cfg.Pages[0])
	}
	if cfg.Selection.BannerFade != time.Second || cfg.Selection.SuccessLinger != 2*time.Second {
		t.Errorf("selection: got %+v", cfg.Selection)
	}
	if len(cfg.Sinks) != 2 || cfg.Sinks[1].Path != "events.db" || cfg.Sinks[1].Retention != 720*time.Hour {
		t.Errorf("sinks: got %+v", cfg.Sinks)
	}
	if cfg.Browser.Mode != "headful" || cfg.Browser.RecycleInterval != 4*time.Hour {
		t.Errorf("browser defaults: got %+v", cfg.Browser)
	}
}

func TestParseFileRejectsBadSelector(t *testing.T) {
	_, err := Parse([]byte("settings:\n  custom_selectors: ['div[[']\n"))
	if !errors.Is(err, ErrInvalidSettings) {
		t.Errorf("Parse: got %v, want ErrInvalidSettings", err)
	}
}

func TestParseFileRequiresPageURL(t *testing.T) {
	if _, err := Parse([]byte("pages:\n  - id: x\n")); err == nil {
		t.Error("Parse: want error for page without url")
	}
}
