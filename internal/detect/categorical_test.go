package detect_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/detect"
	"jaces.io/core/internal/registry"
)

func TestCategoricalDetector_EmitsOnQualifyingChange(t *testing.T) {
	cfg := registry.DefaultCategoricalConfig()
	cfg.MinValueDuration = 5
	cfg.MinConfidence = 0.0
	cfg.GapThresholdSeconds = 3600
	d := detect.NewCategoricalDetector(cfg)

	base := time.Date(2026, 7, 1, 22, 0, 0, 0, time.UTC)
	samples := []detect.CategoricalSample{
		{Timestamp: base, Value: "awake"},
		{Timestamp: base.Add(10 * time.Minute), Value: "awake"},
		{Timestamp: base.Add(20 * time.Minute), Value: "asleep"},
	}

	transitions := d.Detect("sleep_state", samples, base.Add(-time.Hour), base.Add(24*time.Hour))
	require.Len(t, transitions, 1)
	assert.Equal(t, "awake", transitions[0].BeforeValue)
	assert.Equal(t, "asleep", transitions[0].AfterValue)
}

func TestCategoricalDetector_SuppressesShortHolds(t *testing.T) {
	cfg := registry.DefaultCategoricalConfig()
	cfg.MinValueDuration = 30
	cfg.MinConfidence = 0.0
	d := detect.NewCategoricalDetector(cfg)

	base := time.Date(2026, 7, 1, 22, 0, 0, 0, time.UTC)
	samples := []detect.CategoricalSample{
		{Timestamp: base, Value: "awake"},
		{Timestamp: base.Add(5 * time.Minute), Value: "asleep"},
	}

	transitions := d.Detect("sleep_state", samples, base.Add(-time.Hour), base.Add(24*time.Hour))
	assert.Empty(t, transitions)
}

func TestCategoricalDetector_EmitsDataGap(t *testing.T) {
	cfg := registry.DefaultCategoricalConfig()
	cfg.GapThresholdSeconds = 60
	cfg.MinConfidence = 0.0
	d := detect.NewCategoricalDetector(cfg)

	base := time.Date(2026, 7, 1, 22, 0, 0, 0, time.UTC)
	samples := []detect.CategoricalSample{
		{Timestamp: base, Value: "awake"},
		{Timestamp: base.Add(time.Hour), Value: "awake"},
	}

	transitions := d.Detect("sleep_state", samples, base.Add(-time.Hour), base.Add(24*time.Hour))
	require.Len(t, transitions, 1)
	assert.Equal(t, detect.TransitionDataGap, transitions[0].Type)
}
