package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/unveil/overlay"
)

func runDaemon(ctx context.Context, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := fs.String("config", "unveil.yaml", "path to the YAML configuration")
	httpAddr := fs.String("http", "", "HTTP control address (overrides listen.http)")
	fs.Parse(args)

	cfg, err := overlay.LoadConfigFile(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *httpAddr != "" {
		cfg.Listen.HTTP = *httpAddr
	}
	if cfg.Listen.MCP {
		for _, sc := range cfg.Sinks {
			if sc.Type == "stdout" {
				return errors.New("listen.mcp uses stdout; drop the stdout sink")
			}
		}
	}

	d, err := overlay.NewDaemon(cfg, overlay.WithLogger(logger))
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer d.Stop()

	var srv *http.Server
	if cfg.Listen.HTTP != "" {
		srv = &http.Server{
			Addr:              cfg.Listen.HTTP,
			Handler:           overlay.NewHandler(d.Supervisor(), logger),
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		go func() {
			logger.Info("unveil: http listening", "addr", cfg.Listen.HTTP)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("unveil: http server", "error", err)
			}
		}()
	}

	if cfg.Listen.MCP {
		ms := mcp.NewServer(&mcp.Implementation{Name: "unveil", Version: "1.0.0"}, nil)
		overlay.RegisterMCP(ms, d.Supervisor(), logger)
		go func() {
			if err := ms.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("unveil: mcp server", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("unveil: shutting down")
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("unveil: http shutdown", "error", err)
		}
	}
	return nil
}
