package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/unveil/dom"
)

// ErrUnknownPage is returned for a page ID the supervisor does not run.
var ErrUnknownPage = errors.New("overlay: unknown page")

// PageHandle is an open page.
type PageHandle interface {
	Document() dom.Document
	Close() error
}

// Opener opens pages for the supervisor.
type Opener interface {
	Open(ctx context.Context, p Page) (PageHandle, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, p Page) (PageHandle, error)

func (f OpenerFunc) Open(ctx context.Context, p Page) (PageHandle, error) { return f(ctx, p) }

// SupervisorOptions configures a Supervisor.
type SupervisorOptions struct {
	Opener Opener
	Source SettingsSource
	Sink   Sink
	// BannerFade and SuccessLinger are passed to every engine.
	BannerFade    time.Duration
	SuccessLinger time.Duration
	Logger        *slog.Logger
}

// PageInfo describes a supervised page.
type PageInfo struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Host    string `json:"host"`
	Stealth bool   `json:"stealth"`
	Running bool   `json:"running"`
}

// Supervisor maps page IDs to engines. It owns the engines' loops and the
// pages they run on.
type Supervisor struct {
	opts   SupervisorOptions
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	specs map[string]Page
	runs  map[string]*pageRun
}

type pageRun struct {
	eng    *Engine
	handle PageHandle
	cancel context.CancelFunc
}

// NewSupervisor creates a Supervisor. Engines live until Stop or Close.
func NewSupervisor(opts SupervisorOptions) (*Supervisor, error) {
	if opts.Opener == nil {
		return nil, fmt.Errorf("overlay: new supervisor: nil opener")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("overlay: new supervisor: nil settings source")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		specs:  make(map[string]Page),
		runs:   make(map[string]*pageRun),
	}, nil
}

// Open starts supervising p. Reopening an ID with the same URL is a no-op;
// a different URL replaces the running page.
func (s *Supervisor) Open(ctx context.Context, p Page) error {
	if p.ID == "" || p.URL == "" {
		return fmt.Errorf("overlay: open page: id and url are required")
	}

	s.mu.Lock()
	if old, ok := s.specs[p.ID]; ok && old.URL == p.URL && old.Stealth == p.Stealth {
		if _, running := s.runs[p.ID]; running {
			s.mu.Unlock()
			return nil
		}
	}
	prev := s.runs[p.ID]
	delete(s.runs, p.ID)
	s.specs[p.ID] = p
	s.mu.Unlock()

	if prev != nil {
		s.stopRun(p.ID, prev)
	}
	return s.start(ctx, p)
}

func (s *Supervisor) start(ctx context.Context, p Page) error {
	h, err := s.opts.Opener.Open(ctx, p)
	if err != nil {
		return fmt.Errorf("overlay: open page %s: %w", p.ID, err)
	}
	eng, err := NewEngine(h.Document(), Options{
		PageID:        p.ID,
		Source:        s.opts.Source,
		Sink:          s.opts.Sink,
		BannerFade:    s.opts.BannerFade,
		SuccessLinger: s.opts.SuccessLinger,
		Logger:        s.logger,
	})
	if err != nil {
		h.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(s.ctx)
	go func() {
		if err := eng.Run(runCtx); err != nil {
			s.logger.Error("overlay: engine loop", "page", p.ID, "error", err)
		}
	}()

	run := &pageRun{eng: eng, handle: h, cancel: cancel}
	s.mu.Lock()
	if cur, ok := s.specs[p.ID]; !ok || cur.URL != p.URL {
		// Closed or replaced while opening.
		s.mu.Unlock()
		s.stopRun(p.ID, run)
		return nil
	}
	s.runs[p.ID] = run
	s.mu.Unlock()

	if err := eng.Start(ctx); err != nil {
		// The engine keeps running with defaults until a settings push.
		s.logger.Warn("overlay: page started without settings", "page", p.ID, "error", err)
	}
	s.logger.Info("overlay: supervising page", "page", p.ID, "url", p.URL, "host", eng.Host())
	return nil
}

func (s *Supervisor) stopRun(id string, run *pageRun) {
	run.cancel()
	<-run.eng.Done()
	if err := run.handle.Close(); err != nil {
		s.logger.Warn("overlay: close page", "page", id, "error", err)
	}
}

// Close stops supervising the page.
func (s *Supervisor) Close(id string) error {
	s.mu.Lock()
	_, known := s.specs[id]
	run := s.runs[id]
	delete(s.specs, id)
	delete(s.runs, id)
	s.mu.Unlock()

	if !known {
		return ErrUnknownPage
	}
	if run != nil {
		s.stopRun(id, run)
	}
	s.logger.Info("overlay: page closed", "page", id)
	return nil
}

// Engine returns the engine of a running page.
func (s *Supervisor) Engine(id string) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	return run.eng, nil
}

// Pages lists supervised pages ordered by ID.
func (s *Supervisor) Pages() []PageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PageInfo, 0, len(s.specs))
	for id, p := range s.specs {
		info := PageInfo{ID: id, URL: p.URL, Stealth: p.Stealth}
		if run, ok := s.runs[id]; ok {
			info.Running = true
			info.Host = run.eng.Host()
		}
		out = append(out, info)
	}
	slices.SortFunc(out, func(a, b PageInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Reconcile makes the supervised set equal to pages: missing pages are
// opened, changed ones replaced and the rest closed. Errors are joined.
func (s *Supervisor) Reconcile(ctx context.Context, pages []Page) error {
	want := make(map[string]bool, len(pages))
	var errs []error
	for _, p := range pages {
		want[p.ID] = true
		if err := s.Open(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}

	s.mu.Lock()
	var stale []string
	for id := range s.specs {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()
	for _, id := range stale {
		if err := s.Close(id); err != nil && !errors.Is(err, ErrUnknownPage) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcast pushes a settings record to every running engine.
func (s *Supervisor) Broadcast(ctx context.Context, st Settings) {
	for _, eng := range s.engines() {
		if err := eng.ApplySettings(ctx, st); err != nil {
			s.logger.Warn("overlay: apply settings", "page", eng.PageID(), "error", err)
		}
	}
}

func (s *Supervisor) engines() []*Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Engine, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.eng)
	}
	return out
}

// Suspend stops every engine and closes its page but remembers the set,
// so Resume can reopen it on a fresh browser.
func (s *Supervisor) Suspend() {
	s.mu.Lock()
	runs := s.runs
	s.runs = make(map[string]*pageRun)
	s.mu.Unlock()
	for id, run := range runs {
		s.stopRun(id, run)
	}
	s.logger.Info("overlay: pages suspended", "count", len(runs))
}

// Resume reopens every remembered page that is not running.
func (s *Supervisor) Resume(ctx context.Context) error {
	s.mu.Lock()
	var pending []Page
	for id, p := range s.specs {
		if _, ok := s.runs[id]; !ok {
			pending = append(pending, p)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, p := range pending {
		if err := s.start(ctx, p); err != nil {
			s.logger.Error("overlay: reopen page failed", "page", p.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop closes every page. The supervisor cannot be reused.
func (s *Supervisor) Stop() {
	s.Suspend()
	s.mu.Lock()
	s.specs = make(map[string]Page)
	s.mu.Unlock()
	s.cancel()
}
