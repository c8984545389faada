package sink

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/overlay/events"
)

func TestSQLiteStoresHistory(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()
	s, err := NewSQLite(ctx, db, SQLiteOptions{BufferSize: 2, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}

	s.SendStats(ctx, events.Stats{ID: "e1", PageID: "p1", Seq: 1, Hidden: 1, Timestamp: 100})
	got, err := Recent(ctx, db, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("before flush: got %d events, want 0", len(got))
	}

	// Second event fills the buffer.
	s.SendRestoreAvailable(ctx, events.RestoreAvailable{ID: "e2", PageID: "p1", Seq: 2, Available: true, Timestamp: 200})
	s.SendStats(ctx, events.Stats{ID: "e3", PageID: "p2", Seq: 1, Timestamp: 150})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got, err = Recent(ctx, db, "p1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Type != events.TypeRestoreAvailable || got[1].Type != events.TypeStats {
		t.Fatalf("p1 history: got %+v", got)
	}
	if all, _ := Recent(ctx, db, "", 0); len(all) != 3 {
		t.Errorf("all history: got %d, want 3", len(all))
	}
	if err := s.SendStats(ctx, events.Stats{ID: "e4"}); err == nil {
		t.Error("send after close: want error")
	}
}

func TestSQLiteFlushesOnTimer(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()
	s, err := NewSQLite(ctx, db, SQLiteOptions{FlushInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.SendStats(ctx, events.Stats{ID: "e1", PageID: "p1"})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got, _ := Recent(ctx, db, "p1", 1); len(got) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("event not flushed by the timer")
}

func TestSQLitePrune(t *testing.T) {
	db := dbopen.OpenMemory(t)
	ctx := context.Background()
	s, err := NewSQLite(ctx, db, SQLiteOptions{FlushInterval: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	s.SendStats(ctx, events.Stats{ID: "old", PageID: "p1", Seq: 1, Timestamp: now.Add(-48 * time.Hour).UnixMilli()})
	s.SendStats(ctx, events.Stats{ID: "new", PageID: "p1", Seq: 2, Timestamp: now.UnixMilli()})
	s.Close()

	n, err := Prune(ctx, db, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}
	if got, _ := Recent(ctx, db, "p1", 0); len(got) != 1 {
		t.Errorf("after prune: got %d events, want 1", len(got))
	}
}
