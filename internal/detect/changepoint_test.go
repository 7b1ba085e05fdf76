package detect_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/detect"
	"jaces.io/core/internal/registry"
)

func samplesAt(base time.Time, values []float64, step time.Duration) []detect.Sample {
	out := make([]detect.Sample, len(values))
	for i, v := range values {
		out[i] = detect.Sample{Timestamp: base.Add(time.Duration(i) * step), Value: v}
	}
	return out
}

func TestChangePointDetector_FindsLevelShift(t *testing.T) {
	cfg := registry.DefaultChangePointConfig()
	cfg.MinSegmentSize = 3
	cfg.MinConfidence = 0.0
	d := detect.NewChangePointDetector(cfg)

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	var values []float64
	for i := 0; i < 15; i++ {
		values = append(values, 1.0)
	}
	for i := 0; i < 15; i++ {
		values = append(values, 10.0)
	}
	samples := samplesAt(base, values, time.Minute)

	transitions := d.Detect("test_signal", samples, base.Add(-time.Hour), base.Add(24*time.Hour))
	require.NotEmpty(t, transitions)

	found := false
	for _, tr := range transitions {
		if tr.Type == detect.TransitionChangepoint && tr.Direction == detect.DirectionIncrease {
			found = true
			assert.InDelta(t, 9.0, tr.Magnitude, 1.0)
		}
	}
	assert.True(t, found, "expected an increase changepoint near the level shift")
}

func TestChangePointDetector_EmitsDataGap(t *testing.T) {
	cfg := registry.DefaultChangePointConfig()
	cfg.GapThresholdSeconds = 60
	cfg.MinConfidence = 0.0
	d := detect.NewChangePointDetector(cfg)

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	samples := []detect.Sample{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(30 * time.Second), Value: 1},
		{Timestamp: base.Add(time.Hour), Value: 1},
		{Timestamp: base.Add(time.Hour + 30*time.Second), Value: 1},
	}

	transitions := d.Detect("test_signal", samples, base.Add(-time.Hour), base.Add(24*time.Hour))
	require.Len(t, transitions, 1)
	assert.Equal(t, detect.TransitionDataGap, transitions[0].Type)
	assert.Equal(t, 1.0, transitions[0].Confidence)
}

