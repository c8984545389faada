package dbopen_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/unveil/dbopen"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func pragma(t *testing.T, q querier, name string) string {
	t.Helper()
	var v string
	if err := q.QueryRowContext(context.Background(), "PRAGMA "+name).Scan(&v); err != nil {
		t.Fatalf("PRAGMA %s: %v", name, err)
	}
	return v
}

func TestPragmas(t *testing.T) {
	tests := []struct {
		name string
		opts []dbopen.Option
		want map[string]string
	}{
		{
			name: "defaults",
			want: map[string]string{"foreign_keys": "1", "synchronous": "1", "busy_timeout": "10000"},
		},
		{
			name: "busy timeout",
			opts: []dbopen.Option{dbopen.WithBusyTimeout(5000)},
			want: map[string]string{"busy_timeout": "5000"},
		},
		{
			name: "synchronous full",
			opts: []dbopen.Option{dbopen.WithSynchronous("full")},
			want: map[string]string{"synchronous": "2"},
		},
		{
			name: "no foreign keys",
			opts: []dbopen.Option{dbopen.WithoutForeignKeys()},
			want: map[string]string{"foreign_keys": "0"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := dbopen.OpenMemory(t, tt.opts...)
			for name, want := range tt.want {
				if got := pragma(t, db, name); got != want {
					t.Errorf("%s: got %q, want %q", name, got, want)
				}
			}
		})
	}
}

func TestPragmasOnEveryConnection(t *testing.T) {
	db, err := dbopen.Open(filepath.Join(t.TempDir(), "pool.db"), dbopen.WithBusyTimeout(2500))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	// Hold both at once so the second is a fresh connection.
	var conns []*sql.Conn
	for range 2 {
		c, err := db.Conn(ctx)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		conns = append(conns, c)
	}
	for i, c := range conns {
		if bt, mode := pragma(t, c, "busy_timeout"), pragma(t, c, "journal_mode"); bt != "2500" || mode != "wal" {
			t.Errorf("conn %d: got busy_timeout=%s journal_mode=%s, want 2500/wal", i, bt, mode)
		}
	}
}

func TestOpenCreatesDirsAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "unveil.db")
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(),
		dbopen.WithSchema(`CREATE TABLE IF NOT EXISTS whitelist (domain TEXT PRIMARY KEY)`),
		dbopen.WithSchema(`INSERT OR IGNORE INTO whitelist VALUES ('example.com')`))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM whitelist`).Scan(&n); err != nil || n != 1 {
		t.Errorf("schema rows: got %d (%v), want 1", n, err)
	}

	if _, err := dbopen.Open(filepath.Join(t.TempDir(), "missing", "x.db")); err == nil {
		t.Error("Open without mkdir in a missing dir: want error")
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table"), false},
		{errors.New("SQLITE_BUSY"), true},
		{fmt.Errorf("store: %w", errors.New("database is locked")), true},
		{errors.New("database table is locked"), true},
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v): got %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRunTx(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE pages (id TEXT PRIMARY KEY, url TEXT)`))
	ctx := context.Background()

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO pages VALUES ('news', 'https://news.example.com/')`)
		return err
	})
	if err != nil {
		t.Fatalf("RunTx: %v", err)
	}

	boom := errors.New("boom")
	err = dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.ExecContext(ctx, `INSERT INTO pages VALUES ('blog', 'https://blog.example.com/')`)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTx: got %v, want boom", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&n)
	if n != 1 {
		t.Errorf("rows after rollback: got %d, want 1", n)
	}

	if _, err := dbopen.Exec(ctx, db, `DELETE FROM pages WHERE id = ?`, "news"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	db.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&n)
	if n != 0 {
		t.Errorf("rows after delete: got %d, want 0", n)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := dbopen.RunTx(cancelled, db, func(*sql.Tx) error { return nil }); err == nil {
		t.Error("RunTx on cancelled context: want error")
	}
}
