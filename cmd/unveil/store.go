package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/overlay"
)

const settingsUsage = `usage: unveil settings -db path <command>

  show                      print the effective settings
  export                    print the stored settings as JSON
  import <file|->           replace the settings from JSON
  whitelist add|rm <host>   edit the whitelist
  selector add|rm <css>     edit the custom selectors
  enable | disable          flip the global switch
  reset                     restore the defaults
`

const pagesUsage = `usage: unveil pages -db path <command>

  list                      print the active pages
  add <id> <url>            add or replace a page (-stealth=false to disable stealth)
  disable <id>              stop supervising a page
`

func openStore(ctx context.Context, logger *slog.Logger, path string) (*overlay.Store, func(), error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	store, err := overlay.OpenStore(ctx, db, overlay.StoreOptions{Logger: logger})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, func() { db.Close() }, nil
}

func runSettings(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	dbPath := fs.String("db", "unveil.db", "settings database")
	fs.Usage = func() { fmt.Fprint(os.Stderr, settingsUsage) }
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("settings: missing command")
	}

	store, closeDB, err := openStore(ctx, logger, *dbPath)
	if err != nil {
		return err
	}
	defer closeDB()

	a := fs.Args()
	var st overlay.Settings
	switch {
	case a[0] == "show" && len(a) == 1:
		st, err = store.GetSettings(ctx)
	case a[0] == "export" && len(a) == 1:
		data, err := store.Export(ctx)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	case a[0] == "import" && len(a) == 2:
		var data []byte
		if a[1] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(a[1])
		}
		if err != nil {
			return fmt.Errorf("settings: import: %w", err)
		}
		st, err = store.Import(ctx, data)
	case a[0] == "whitelist" && len(a) == 3 && a[1] == "add":
		st, err = store.AddWhitelist(ctx, a[2])
	case a[0] == "whitelist" && len(a) == 3 && a[1] == "rm":
		st, err = store.RemoveWhitelist(ctx, a[2])
	case a[0] == "selector" && len(a) == 3 && a[1] == "add":
		st, err = store.AddSelector(ctx, a[2])
	case a[0] == "selector" && len(a) == 3 && a[1] == "rm":
		st, err = store.RemoveSelector(ctx, a[2])
	case (a[0] == "enable" || a[0] == "disable") && len(a) == 1:
		on := a[0] == "enable"
		st, err = store.Update(ctx, func(s *overlay.Settings) error {
			s.Enabled = on
			return nil
		})
	case a[0] == "reset" && len(a) == 1:
		if err := store.Reset(ctx); err != nil {
			return err
		}
		st, err = store.GetSettings(ctx)
	default:
		fs.Usage()
		return fmt.Errorf("settings: bad command %q", a)
	}
	if err != nil {
		return err
	}
	return printJSON(st)
}

func runPages(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("pages", flag.ExitOnError)
	dbPath := fs.String("db", "unveil.db", "settings database")
	stealth := fs.Bool("stealth", true, "open the page in a stealth tab")
	fs.Usage = func() { fmt.Fprint(os.Stderr, pagesUsage) }
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("pages: missing command")
	}

	store, closeDB, err := openStore(ctx, logger, *dbPath)
	if err != nil {
		return err
	}
	defer closeDB()

	a := fs.Args()
	switch {
	case a[0] == "list" && len(a) == 1:
		pages, err := store.LoadPages(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tURL\tSTEALTH")
		for _, p := range pages {
			fmt.Fprintf(tw, "%s\t%s\t%v\n", p.ID, p.URL, p.Stealth)
		}
		return tw.Flush()
	case a[0] == "add" && len(a) == 3:
		return store.UpsertPage(ctx, overlay.Page{ID: a[1], URL: a[2], Stealth: *stealth})
	case a[0] == "disable" && len(a) == 2:
		return store.DisablePage(ctx, a[1])
	}
	fs.Usage()
	return fmt.Errorf("pages: bad command %q", a)
}

func runEvents(ctx context.Context, _ *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	dbPath := fs.String("db", "events.db", "database written by an sqlite sink")
	page := fs.String("page", "", "only this page ID")
	limit := fs.Int("n", 20, "maximum number of events")
	prune := fs.Duration("prune", 0, "delete events older than this instead of listing")
	fs.Parse(args)

	db, err := dbopen.Open(*dbPath)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	defer db.Close()
	if *prune > 0 {
		n, err := overlay.PruneEventHistory(ctx, db, *prune)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d events\n", n)
		return nil
	}
	evs, err := overlay.EventHistory(ctx, db, *page, *limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, ev := range evs {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
