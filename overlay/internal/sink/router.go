package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/unveil/overlay/events"
)

// Router fans out events to all configured sinks. One sink error does not
// block the others: errors are logged and the first is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Add appends a sink. Not safe to call while events are being sent.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

func (r *Router) SendStats(ctx context.Context, ev events.Stats) error {
	return r.each("stats", func(s Sink) error { return s.SendStats(ctx, ev) })
}

func (r *Router) SendRestoreAvailable(ctx context.Context, ev events.RestoreAvailable) error {
	return r.each("restore_available", func(s Sink) error { return s.SendRestoreAvailable(ctx, ev) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(what string, send func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := send(s); err != nil {
			r.logger.Warn("sink: send failed", "event", what, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
