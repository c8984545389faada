// Package events defines the structured signals emitted by the overlay
// engine. Consumers import this package to decode what sinks deliver.
package events

import (
	"encoding/json"
	"fmt"
)

// Type tags an event inside an Envelope.
type Type string

const (
	TypeStats            Type = "stats"
	TypeRestoreAvailable Type = "restore_available"
)

// Stats reports the engine state of one page after any change to its ledger
// or activation state.
type Stats struct {
	ID          string `json:"id"` // UUIDv7
	PageID      string `json:"page_id"`
	PageURL     string `json:"page_url"`
	Seq         uint64 `json:"seq"` // per page, monotonically increasing
	Enabled     bool   `json:"enabled"`
	Whitelisted bool   `json:"whitelisted"`
	Selecting   bool   `json:"selecting"`
	Hidden      int    `json:"hidden"`
	// BySource counts hidden elements per ledger source (auto, backdrop, manual, command).
	BySource  map[string]int `json:"by_source,omitempty"`
	Timestamp int64          `json:"timestamp"` // epoch milliseconds
}

// RestoreAvailable is emitted when the page gains or loses restorable elements.
type RestoreAvailable struct {
	ID        string `json:"id"`
	PageID    string `json:"page_id"`
	PageURL   string `json:"page_url"`
	Seq       uint64 `json:"seq"`
	Available bool   `json:"available"`
	Count     int    `json:"count"`
	Timestamp int64  `json:"timestamp"`
}

// Envelope wraps an event for line-oriented and HTTP transports.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Encode wraps v in an Envelope and marshals it.
func Encode(typ Type, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}

// Decode unmarshals an Envelope and returns its payload as *Stats or
// *RestoreAvailable.
func Decode(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("events: decode: %w", err)
	}
	var v any
	switch env.Type {
	case TypeStats:
		v = &Stats{}
	case TypeRestoreAvailable:
		v = &RestoreAvailable{}
	default:
		return nil, fmt.Errorf("events: unknown type %q", env.Type)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", env.Type, err)
	}
	return v, nil
}
