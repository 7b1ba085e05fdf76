package detect_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/detect"
)

func TestCollectionPeriods_SplitsOnGap(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	samples := []detect.Sample{
		{Timestamp: base, Value: 1},
		{Timestamp: base.Add(time.Minute), Value: 1},
		{Timestamp: base.Add(2 * time.Hour), Value: 1},
	}

	periods, gaps := detect.CollectionPeriods(samples, 10*time.Minute)
	require.Len(t, periods, 2)
	require.Len(t, gaps, 1)
	assert.Equal(t, detect.TransitionDataGap, gaps[0].Type)
	assert.Equal(t, 1.0, gaps[0].Confidence)
}

func TestValidateTransitions_ClipsSortsAndFilters(t *testing.T) {
	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	in := []detect.Transition{
		{Time: base.Add(time.Hour), Confidence: 0.9},
		{Time: base.Add(-time.Hour), Confidence: 0.9}, // before window
		{Time: base.Add(30 * time.Minute), Confidence: 0.1}, // below min confidence
		{Time: base.Add(10 * time.Minute), Confidence: 0.5},
	}

	out := detect.ValidateTransitions(in, base, base.Add(2*time.Hour), 0.3)
	require.Len(t, out, 2)
	assert.True(t, out[0].Time.Before(out[1].Time))
}
