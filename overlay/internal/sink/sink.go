// Package sink defines output backends for overlay events.
package sink

import (
	"context"

	"github.com/hazyhaar/unveil/overlay/events"
)

// Sink delivers engine events to a backend (stdout, webhook, in-process
// callback).
type Sink interface {
	SendStats(ctx context.Context, ev events.Stats) error
	SendRestoreAvailable(ctx context.Context, ev events.RestoreAvailable) error
	Close() error
}
