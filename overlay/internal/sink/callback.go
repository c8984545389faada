package sink

import (
	"context"

	"github.com/hazyhaar/unveil/overlay/events"
)

// StatsFunc is called for each Stats event.
type StatsFunc func(ctx context.Context, ev events.Stats) error

// RestoreFunc is called for each RestoreAvailable event.
type RestoreFunc func(ctx context.Context, ev events.RestoreAvailable) error

// Callback delivers events via Go function calls, for embedding the engine
// in the same binary as its consumer.
type Callback struct {
	onStats   StatsFunc
	onRestore RestoreFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onStats StatsFunc, onRestore RestoreFunc) *Callback {
	return &Callback{onStats: onStats, onRestore: onRestore}
}

func (c *Callback) SendStats(ctx context.Context, ev events.Stats) error {
	if c.onStats != nil {
		return c.onStats(ctx, ev)
	}
	return nil
}

func (c *Callback) SendRestoreAvailable(ctx context.Context, ev events.RestoreAvailable) error {
	if c.onRestore != nil {
		return c.onRestore(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
