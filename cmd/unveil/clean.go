package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hazyhaar/unveil/clean"
	"github.com/hazyhaar/unveil/overlay"
)

func runClean(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	format := fs.String("format", "html", "output format: html, markdown, text")
	sanitize := fs.Bool("sanitize", false, "sanitize HTML output")
	settingsPath := fs.String("settings", "", "settings JSON (as written by `settings export`)")
	dbPath := fs.String("db", "", "read settings from this store instead")
	pageURL := fs.String("url", "", "page URL of a local file (for whitelist and link resolution)")
	report := fs.Bool("json", false, "print the result with the removal list as JSON")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("clean: expected one file, URL or -")
	}
	src := fs.Arg(0)

	f, err := clean.ParseFormat(*format)
	if err != nil {
		return err
	}
	st, err := loadSettings(ctx, logger, *settingsPath, *dbPath)
	if err != nil {
		return err
	}

	body, u, err := readInput(ctx, logger, src, *pageURL)
	if err != nil {
		return err
	}

	res, err := clean.Clean(ctx, bytes.NewReader(body), u, clean.Options{
		Settings: st,
		Format:   f,
		Sanitize: *sanitize,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	logger.Info("unveil: cleaned", "url", u, "removed", len(res.Removed))

	if *report {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = io.WriteString(os.Stdout, res.Output+"\n")
	return err
}

// readInput loads src and returns it with the page URL to clean it under.
func readInput(ctx context.Context, logger *slog.Logger, src, pageURL string) ([]byte, string, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		p, err := clean.NewFetcher(clean.WithFetchLogger(logger)).Fetch(ctx, src)
		if err != nil {
			return nil, "", err
		}
		if !p.Sufficient {
			logger.Warn("unveil: page looks like a script shell; overlays injected by JavaScript need the daemon", "url", p.URL)
		}
		if pageURL == "" {
			pageURL = p.URL
		}
		return p.HTML, pageURL, nil
	}

	var (
		body []byte
		err  error
	)
	if src == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(src)
	}
	if err != nil {
		return nil, "", fmt.Errorf("clean: read input: %w", err)
	}
	if pageURL == "" && src != "-" {
		abs, _ := filepath.Abs(src)
		pageURL = "file://" + filepath.ToSlash(abs)
	}
	return body, pageURL, nil
}

func loadSettings(ctx context.Context, logger *slog.Logger, path, dbPath string) (overlay.Settings, error) {
	switch {
	case dbPath != "":
		store, closeDB, err := openStore(ctx, logger, dbPath)
		if err != nil {
			return overlay.Settings{}, err
		}
		defer closeDB()
		return store.GetSettings(ctx)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return overlay.Settings{}, fmt.Errorf("read settings: %w", err)
		}
		st := overlay.DefaultSettings()
		if err := json.Unmarshal(data, &st); err != nil {
			return overlay.Settings{}, fmt.Errorf("parse settings: %w", err)
		}
		st.Normalize()
		return st, st.Validate()
	}
	return overlay.DefaultSettings(), nil
}
