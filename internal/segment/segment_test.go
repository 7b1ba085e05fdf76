package segment_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/registry"
	"jaces.io/core/internal/segment"
)

func TestSegmenter_ProducesNonOverlappingSegments(t *testing.T) {
	s := segment.New(registry.DaySegmentDataBounded, time.UTC)

	day := "2026-07-01"
	base, err := time.ParseInLocation("2006-01-02", day, time.UTC)
	require.NoError(t, err)

	var transitions []segment.TransitionInput
	for h := 0; h < 24; h += 2 {
		transitions = append(transitions, segment.TransitionInput{
			Time:       base.Add(time.Duration(h) * time.Hour),
			SignalName: "ios_speed",
			SourceName: "ios",
			Magnitude:  1.0,
			Confidence: 0.8,
		})
	}

	segments, err := s.Segment(day, transitions)
	require.NoError(t, err)
	require.NotEmpty(t, segments)

	for i := 1; i < len(segments); i++ {
		assert.False(t, segments[i].StartTime.Before(segments[i-1].EndTime),
			"segments must not overlap")
	}
	for _, seg := range segments {
		assert.True(t, seg.EndTime.After(seg.StartTime))
	}
}

func TestSegmenter_EmptyInputProducesNoSegments(t *testing.T) {
	s := segment.New(registry.DaySegmentDataBounded, time.UTC)
	segments, err := s.Segment("2026-07-01", nil)
	require.NoError(t, err)
	assert.Empty(t, segments)
}
