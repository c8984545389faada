// Command unveil hides intrusive overlays on web pages.
//
// Usage:
//
//	unveil daemon -config unveil.yaml            # keep Chrome pages clean, serve HTTP/MCP controls
//	unveil clean [-format markdown] page.html    # strip overlays from a static document
//	unveil clean https://example.com/article     # same, fetched over HTTP
//	unveil settings -db unveil.db <command>      # edit the persisted settings
//	unveil pages -db unveil.db <command>         # edit the supervised page list
//	unveil events -db events.db -page news       # read the sqlite sink history
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"
)

const usage = `usage: unveil [-log-level level] <command> [args]

commands:
  daemon    run the page supervisor
  clean     remove overlays from an HTML file or URL
  settings  show or edit stored settings
  pages     list or edit stored pages
  events    print the history recorded by an sqlite sink
`

func main() {
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, flag.Args()); err != nil {
		logger.Error("unveil: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "daemon":
		return runDaemon(ctx, logger, rest)
	case "clean":
		return runClean(ctx, logger, rest)
	case "settings":
		return runSettings(ctx, logger, rest)
	case "pages":
		return runPages(ctx, logger, rest)
	case "events":
		return runEvents(ctx, logger, rest)
	}
	flag.Usage()
	return fmt.Errorf("unknown command %q", cmd)
}
