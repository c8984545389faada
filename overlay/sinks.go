package overlay

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/overlay/events"
	"github.com/hazyhaar/unveil/overlay/internal/sink"
)

// Sink is the output interface for engine events.
type Sink = sink.Sink

// NewStdoutSink creates a JSON-lines sink. A nil writer means os.Stdout.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process sink. Either handler may be nil.
func NewCallbackSink(
	onStats func(ctx context.Context, ev events.Stats) error,
	onRestore func(ctx context.Context, ev events.RestoreAvailable) error,
) Sink {
	return sink.NewCallback(onStats, onRestore)
}

// OpenSQLiteSink records every event in the database at path, dropping
// events older than retention when it is positive. Closing the sink closes
// the database.
func OpenSQLiteSink(ctx context.Context, path string, retention time.Duration, logger *slog.Logger) (Sink, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("overlay: sqlite sink: %w", err)
	}
	s, err := sink.NewSQLite(ctx, db, sink.SQLiteOptions{Retention: retention, CloseDB: true, Logger: logger})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EventHistory reads events recorded by an SQLite sink, newest first.
func EventHistory(ctx context.Context, db *sql.DB, pageID string, limit int) ([]events.Envelope, error) {
	return sink.Recent(ctx, db, pageID, limit)
}

// PruneEventHistory deletes recorded events older than age.
func PruneEventHistory(ctx context.Context, db *sql.DB, age time.Duration) (int64, error) {
	return sink.Prune(ctx, db, time.Now().Add(-age))
}

// NewRouter fans events out to every sink.
func NewRouter(logger *slog.Logger, sinks ...Sink) Sink {
	return sink.NewRouter(logger, sinks...)
}

// SinksFromConfig builds the sinks named in the configuration file.
// Unknown types are logged and skipped.
func SinksFromConfig(cfgs []SinkConfig, logger *slog.Logger) []Sink {
	if logger == nil {
		logger = slog.Default()
	}
	var out []Sink
	for _, c := range cfgs {
		switch c.Type {
		case "stdout":
			out = append(out, NewStdoutSink(nil))
		case "webhook":
			if c.URL == "" {
				logger.Warn("overlay: webhook sink without url skipped")
				continue
			}
			out = append(out, NewWebhookSink(c.URL, logger))
		case "sqlite":
			if c.Path == "" {
				logger.Warn("overlay: sqlite sink without path skipped")
				continue
			}
			s, err := OpenSQLiteSink(context.Background(), c.Path, c.Retention, logger)
			if err != nil {
				logger.Error("overlay: sqlite sink", "path", c.Path, "error", err)
				continue
			}
			out = append(out, s)
		default:
			logger.Warn("overlay: unknown sink type", "type", c.Type)
		}
	}
	return out
}
