package detect_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/detect"
	"jaces.io/core/internal/registry"
)

func TestEventBoundaryDetector_EmitsStartAndEnd(t *testing.T) {
	d := detect.NewEventBoundaryDetector(registry.DefaultEventBoundaryConfig())
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	transitions := d.Detect("google_calendar_events", []detect.Event{{Start: start, End: end, Status: "confirmed"}},
		start.Add(-time.Hour), end.Add(time.Hour))

	require.Len(t, transitions, 2)
	assert.Equal(t, detect.DirectionIncrease, transitions[0].Direction)
	assert.Equal(t, 0.98, transitions[0].Confidence)
	assert.Equal(t, detect.DirectionDecrease, transitions[1].Direction)
}

func TestEventBoundaryDetector_DampensTentativeConfidence(t *testing.T) {
	d := detect.NewEventBoundaryDetector(registry.DefaultEventBoundaryConfig())
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	transitions := d.Detect("google_calendar_events", []detect.Event{{Start: start, End: end, Status: "tentative"}},
		start.Add(-time.Hour), end.Add(time.Hour))

	require.Len(t, transitions, 2)
	assert.Equal(t, 0.7, transitions[0].Confidence)
}

func TestEventBoundaryDetector_DiscardsOutsideWindow(t *testing.T) {
	d := detect.NewEventBoundaryDetector(registry.DefaultEventBoundaryConfig())
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	transitions := d.Detect("google_calendar_events", []detect.Event{{Start: start, End: end, Status: "confirmed"}},
		start.Add(2*time.Hour), end.Add(3*time.Hour))
	assert.Empty(t, transitions)
}
