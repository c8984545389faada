package sink

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/unveil/overlay/events"
)

// Stdout writes one JSON envelope per line to an io.Writer.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{w: w}
}

func (s *Stdout) SendStats(_ context.Context, ev events.Stats) error {
	return s.write(events.TypeStats, ev)
}

func (s *Stdout) SendRestoreAvailable(_ context.Context, ev events.RestoreAvailable) error {
	return s.write(events.TypeRestoreAvailable, ev)
}

func (s *Stdout) Close() error { return nil }

func (s *Stdout) write(typ events.Type, v any) error {
	line, err := events.Encode(typ, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(line, '\n'))
	return err
}
