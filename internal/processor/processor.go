// Package processor turns landed raw batches into normalized signal
// records, honoring each signal's dedup strategy and enabled flag.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jaces.io/core/internal/normalize"
	"jaces.io/core/internal/registry"
	"jaces.io/core/internal/store"
)

// RawBatch is the decoded form of a batch landed by either sync or push.
type RawBatch struct {
	StreamName string
	FetchedAt  time.Time
	Records    []map[string]interface{}
}

// DecodeRawBatch parses the JSON envelope both internal/sync and
// internal/push write to the object store.
func DecodeRawBatch(data []byte) (*RawBatch, error) {
	var doc struct {
		StreamName string                   `json:"stream_name"`
		FetchedAt  string                   `json:"fetched_at"`
		Records    []map[string]interface{} `json:"records"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding raw batch: %w", err)
	}
	fetchedAt, err := time.Parse(time.RFC3339Nano, doc.FetchedAt)
	if err != nil {
		fetchedAt = time.Now()
	}
	return &RawBatch{StreamName: doc.StreamName, FetchedAt: fetchedAt, Records: doc.Records}, nil
}

// Processor turns a raw batch into zero or more signal records. Concrete
// processors are registered per stream in the registry's "processor" field.
type Processor interface {
	// Process converts raw records into normalized SignalRecords for every
	// enabled signal the stream feeds, applying each signal's idempotency
	// rule from internal/normalize.
	Process(ctx context.Context, reg *registry.Registry, batch *RawBatch) ([]store.SignalRecord, error)
}

// Registry maps a processor name (registry.Stream.Processor) to its
// implementation.
type Registry struct {
	processors map[string]Processor
}

// NewRegistry builds an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register binds a processor implementation to a name.
func (r *Registry) Register(name string, p Processor) {
	r.processors[name] = p
}

// Get looks up a processor by name.
func (r *Registry) Get(name string) (Processor, bool) {
	p, ok := r.processors[name]
	return p, ok
}

// floatField extracts a numeric field from a raw record, tolerating both
// float64 (the common case after JSON decode) and int.
func floatField(rec map[string]interface{}, field string) (float64, bool) {
	v, ok := rec[field]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// stringField extracts a string field from a raw record.
func stringField(rec map[string]interface{}, field string) (string, bool) {
	v, ok := rec[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// idempotencyFor computes a signal record's idempotency key for the given
// dedup strategy and timestamp, delegating to internal/normalize.
func idempotencyFor(strategy registry.DedupStrategy, ts time.Time, data map[string]interface{}) string {
	return normalize.IdempotencyKey(strategy, ts, data)
}
