package normalize_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/normalize"
	"jaces.io/core/internal/registry"
)

func TestIdempotencyKey_SingleIsTimestampOnly(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	key1 := normalize.IdempotencyKey(registry.DedupStrategySingle, ts, map[string]interface{}{"value": 1.0})
	key2 := normalize.IdempotencyKey(registry.DedupStrategySingle, ts, map[string]interface{}{"value": 2.0})

	assert.Equal(t, key1, key2, "single-dedup signals dedup on timestamp alone regardless of payload")
	assert.Contains(t, key1, "2026-03-01T09:30:00Z")
}

func TestIdempotencyKey_MultiplePrefersExplicitID(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	key := normalize.IdempotencyKey(registry.DedupStrategyMultiple, ts, map[string]interface{}{
		"event_id": "evt-123",
		"summary":  "Standup",
	})

	require.Contains(t, key, ":")
	assert.Equal(t, "2026-03-01T09:30:00Z:evt-123", key)
}

func TestIdempotencyKey_MultipleFallsBackToContentHash(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	keyA := normalize.IdempotencyKey(registry.DedupStrategyMultiple, ts, map[string]interface{}{"summary": "Standup"})
	keyB := normalize.IdempotencyKey(registry.DedupStrategyMultiple, ts, map[string]interface{}{"summary": "Retro"})

	assert.NotEqual(t, keyA, keyB, "records with no id field still dedup distinctly by content hash")
}

func TestIdempotencyKey_MultipleSameContentSameKey(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	keyA := normalize.IdempotencyKey(registry.DedupStrategyMultiple, ts, map[string]interface{}{"summary": "Standup", "room": "A"})
	keyB := normalize.IdempotencyKey(registry.DedupStrategyMultiple, ts, map[string]interface{}{"room": "A", "summary": "Standup"})

	assert.Equal(t, keyA, keyB, "key ordering must not affect the content hash")
}

func TestShouldDeduplicateByTimestampOnly(t *testing.T) {
	assert.True(t, normalize.ShouldDeduplicateByTimestampOnly(registry.DedupStrategySingle))
	assert.False(t, normalize.ShouldDeduplicateByTimestampOnly(registry.DedupStrategyMultiple))
}
