// Package normalize implements the idempotency-key rule stream processors
// use to make ProcessStreamBatch safe under concurrent/duplicate delivery,
// ported from original_source/sources/base/processing/dedup.py.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"jaces.io/core/internal/registry"
)

// ShouldDeduplicateByTimestampOnly reports whether a dedup strategy
// deduplicates records by timestamp alone ("single"), as opposed to
// timestamp plus a content key ("multiple", for signals that can legitimately
// emit more than one record at the same instant).
func ShouldDeduplicateByTimestampOnly(strategy registry.DedupStrategy) bool {
	return strategy != registry.DedupStrategyMultiple
}

// IdempotencyKey computes the dedup key a processor attaches to a signal
// record before the store's upsert-on-conflict, per the signal's own
// dedup_strategy rather than its value_type. For "single" this is the bare
// ISO-8601 timestamp; for "multiple" it is the timestamp plus a content key
// drawn from the record's own id fields, falling back to an MD5 hash of the
// sorted-key JSON encoding when no id field is present.
func IdempotencyKey(strategy registry.DedupStrategy, ts time.Time, data map[string]interface{}) string {
	isoTS := ts.UTC().Format(time.RFC3339Nano)

	if ShouldDeduplicateByTimestampOnly(strategy) {
		return isoTS
	}

	contentKey := contentKeyFor(data)
	return isoTS + ":" + contentKey
}

// contentKeyFor extracts a stable identifier for an event record, preferring
// an explicit id field and falling back to a content hash so that two
// distinct events landing in the same instant still get distinct keys.
func contentKeyFor(data map[string]interface{}) string {
	for _, field := range []string{"event_id", "id", "uuid"} {
		if v, ok := data[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return hashContent(data)
}

// hashContent returns a short, stable hash of data by marshaling it with
// sorted keys first, mirroring the original's
// hashlib.md5(json.dumps(data, sort_keys=True)).
func hashContent(data map[string]interface{}) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]interface{}, len(data))
	for _, k := range keys {
		ordered[k] = data[k]
	}

	encoded, err := json.Marshal(ordered)
	if err != nil {
		// Content hashing is best-effort; fall back to hashing the map's %v
		// formatting rather than failing the whole ingestion path over an
		// unmarshalable value.
		encoded = []byte(fmt.Sprintf("%v", data))
	}

	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:])[:16]
}
