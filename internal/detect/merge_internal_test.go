package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/registry"
)

func TestMergeClose_FoldsWithinGap(t *testing.T) {
	cfg := registry.DefaultChangePointConfig()
	cfg.MinTransitionGapSeconds = 600
	d := NewChangePointDetector(cfg)

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	merged := d.mergeClose([]Transition{
		{Time: base, Type: TransitionChangepoint, Confidence: 0.7},
		{Time: base.Add(time.Minute), Type: TransitionChangepoint, Confidence: 0.8},
	})
	require.Len(t, merged, 1)
	assert.Equal(t, 1, merged[0].MergedCount)
	assert.InDelta(t, 0.88, merged[0].Confidence, 0.001)
}

func TestMergeClose_LeavesFarApartTransitionsUnmerged(t *testing.T) {
	cfg := registry.DefaultChangePointConfig()
	cfg.MinTransitionGapSeconds = 60
	d := NewChangePointDetector(cfg)

	base := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	merged := d.mergeClose([]Transition{
		{Time: base, Type: TransitionChangepoint, Confidence: 0.7},
		{Time: base.Add(time.Hour), Type: TransitionChangepoint, Confidence: 0.8},
	})
	require.Len(t, merged, 2)
	assert.Equal(t, 0, merged[0].MergedCount)
}
