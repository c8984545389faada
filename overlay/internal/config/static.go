package config

import (
	"context"
	"sync"
)

// Static serves a fixed Settings record held in memory. It backs the engine
// when no store is configured and in tests.
type Static struct {
	mu  sync.RWMutex
	s   Settings
	err error
}

// NewStatic returns a source serving s.
func NewStatic(s Settings) *Static {
	return &Static{s: s.Clone()}
}

// Set replaces the served settings.
func (st *Static) Set(s Settings) {
	st.mu.Lock()
	st.s = s.Clone()
	st.mu.Unlock()
}

// Fail makes subsequent reads return err. A nil err clears the failure.
func (st *Static) Fail(err error) {
	st.mu.Lock()
	st.err = err
	st.mu.Unlock()
}

func (st *Static) GetSettings(_ context.Context) (Settings, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.err != nil {
		return Settings{}, st.err
	}
	return st.s.Clone(), nil
}

func (st *Static) IsWhitelisted(_ context.Context, host string) (bool, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.err != nil {
		return false, st.err
	}
	return st.s.Whitelisted(host), nil
}
