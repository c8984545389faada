package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/overlay/events"
)

// SQLiteSchema holds the event history table.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS overlay_events (
    id        TEXT PRIMARY KEY,
    type      TEXT NOT NULL,
    page_id   TEXT NOT NULL,
    seq       INTEGER NOT NULL,
    data      TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_overlay_events_page ON overlay_events(page_id, timestamp DESC);
`

// SQLiteOptions tunes an SQLite sink.
type SQLiteOptions struct {
	// BufferSize triggers a flush when reached. Default: 100.
	BufferSize int
	// FlushInterval is the background flush period. Default: 5s.
	FlushInterval time.Duration
	// Retention deletes events older than this after each timed flush.
	// Zero keeps everything.
	Retention time.Duration
	// CloseDB makes Close also close the database.
	CloseDB bool
	Logger  *slog.Logger
}

func (o *SQLiteOptions) defaults() {
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type row struct {
	id, pageID string
	typ        events.Type
	seq        uint64
	data       []byte
	ts         int64
}

// SQLite buffers events and writes them to overlay_events in batches. A
// send that fills the buffer writes the batch.
type SQLite struct {
	db   *sql.DB
	opts SQLiteOptions

	mu     sync.Mutex
	buf    []row
	closed bool
	// wmu orders batch writes.
	wmu sync.Mutex

	stop chan struct{}
	done chan struct{}
}

// NewSQLite applies SQLiteSchema and starts the flush loop.
func NewSQLite(ctx context.Context, db *sql.DB, opts SQLiteOptions) (*SQLite, error) {
	opts.defaults()
	if _, err := db.ExecContext(ctx, SQLiteSchema); err != nil {
		return nil, fmt.Errorf("sink: sqlite schema: %w", err)
	}
	s := &SQLite{
		db:   db,
		opts: opts,
		buf:  make([]row, 0, opts.BufferSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func (s *SQLite) SendStats(_ context.Context, ev events.Stats) error {
	return s.add(events.TypeStats, ev.ID, ev.PageID, ev.Seq, ev.Timestamp, ev)
}

func (s *SQLite) SendRestoreAvailable(_ context.Context, ev events.RestoreAvailable) error {
	return s.add(events.TypeRestoreAvailable, ev.ID, ev.PageID, ev.Seq, ev.Timestamp, ev)
}

func (s *SQLite) add(typ events.Type, id, pageID string, seq uint64, ts int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sink: sqlite encode %s: %w", typ, err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("sink: sqlite closed")
	}
	s.buf = append(s.buf, row{id: id, pageID: pageID, typ: typ, seq: seq, data: data, ts: ts})
	full := len(s.buf) >= s.opts.BufferSize
	s.mu.Unlock()
	if full {
		s.Flush()
	}
	return nil
}

// Flush writes buffered events now.
func (s *SQLite) Flush() {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	batch := s.buf
	s.buf = make([]row, 0, s.opts.BufferSize)
	s.mu.Unlock()
	s.write(batch)
}

// Close flushes and stops the loop.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stop)
	<-s.done
	if s.opts.CloseDB {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) loop() {
	defer close(s.done)
	t := time.NewTicker(s.opts.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			s.Flush()
			return
		case <-t.C:
			s.Flush()
			s.prune()
		}
	}
}

func (s *SQLite) write(batch []row) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT OR IGNORE INTO overlay_events (id, type, page_id, seq, data, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, r := range batch {
			if _, err := stmt.ExecContext(ctx, r.id, string(r.typ), r.pageID, int64(r.seq), string(r.data), r.ts); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// Dropped rather than retried: history is best effort.
		s.opts.Logger.Error("sink: sqlite flush", "events", len(batch), "error", err)
	}
}

func (s *SQLite) prune() {
	if s.opts.Retention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n, err := Prune(ctx, s.db, time.Now().Add(-s.opts.Retention))
	if err != nil {
		s.opts.Logger.Warn("sink: sqlite prune", "error", err)
		return
	}
	if n > 0 {
		s.opts.Logger.Debug("sink: sqlite pruned", "events", n)
	}
}

// Prune deletes events stamped before cutoff and returns how many went.
func Prune(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	var n int64
	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM overlay_events WHERE timestamp < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sink: prune events: %w", err)
	}
	return n, nil
}

// Recent returns up to limit stored events, newest first. An empty pageID
// matches every page.
func Recent(ctx context.Context, db *sql.DB, pageID string, limit int) ([]events.Envelope, error) {
	q := `SELECT type, data FROM overlay_events`
	var args []any
	if pageID != "" {
		q += ` WHERE page_id = ?`
		args = append(args, pageID)
	}
	q += ` ORDER BY timestamp DESC, seq DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sink: recent events: %w", err)
	}
	defer rows.Close()

	var out []events.Envelope
	for rows.Next() {
		var typ, data string
		if err := rows.Scan(&typ, &data); err != nil {
			return nil, fmt.Errorf("sink: scan event: %w", err)
		}
		out = append(out, events.Envelope{Type: events.Type(typ), Data: json.RawMessage(data)})
	}
	return out, rows.Err()
}
