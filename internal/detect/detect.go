// Package detect implements the three transition-detector families:
// change-point (numeric continuous), event-boundary (discrete start/end
// events), and categorical-change. All three share the
// invariants ported from original_source/sources/base/transitions/: results
// are window-clipped, time-sorted, confidence-filtered, and upserted
// idempotently by the caller on (source, signal, time, type, direction).
package detect

import (
	"sort"
	"time"
)

// TransitionType names the kind of change a Transition records.
type TransitionType string

const (
	TransitionChangepoint TransitionType = "changepoint"
	TransitionDataGap     TransitionType = "data_gap"
)

// Direction names which way a transition moves.
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionNone     Direction = ""
)

// Sample is one normalized signal record as seen by a detector: just the
// fields a detector needs, independent of how it was stored.
type Sample struct {
	Timestamp  time.Time
	Value      float64
	ValueText  string
	SourceName string
}

// Transition is one detector output, shaped to map directly onto
// store.Transition.
type Transition struct {
	SignalName      string
	Time            time.Time
	Type            TransitionType
	Direction       Direction
	Magnitude       float64
	BeforeMean      float64
	BeforeStd       float64
	AfterMean       float64
	AfterStd        float64
	// BeforeValue/AfterValue hold the categorical detector's string values;
	// unused by the numeric detectors.
	BeforeValue     string
	AfterValue      string
	Confidence      float64
	Method          string
	MergedCount     int
	MergedTimes     []time.Time
}

// CollectionPeriod is a maximal run of samples with no internal gap
// exceeding a configured threshold.
type CollectionPeriod struct {
	Samples []Sample
}

// CollectionPeriods splits timestamp-sorted samples into maximal runs where
// consecutive gaps are <= gapThreshold, emitting one data_gap transition at
// the end of each run that is followed by another (confidence 1.0).
func CollectionPeriods(samples []Sample, gapThreshold time.Duration) ([]CollectionPeriod, []Transition) {
	if len(samples) == 0 {
		return nil, nil
	}
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var periods []CollectionPeriod
	var gaps []Transition

	start := 0
	for i := 1; i < len(sorted); i++ {
		gap := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp)
		if gap > gapThreshold {
			periods = append(periods, CollectionPeriod{Samples: sorted[start:i]})
			gaps = append(gaps, Transition{
				Time:       sorted[i-1].Timestamp,
				Type:       TransitionDataGap,
				Direction:  DirectionNone,
				Confidence: 1.0,
				Method:     "collection_period_gap",
			})
			start = i
		}
	}
	periods = append(periods, CollectionPeriod{Samples: sorted[start:]})
	return periods, gaps
}

// ValidateTransitions applies the invariants common to all three detector
// families: clip to [start, end], sort by time, and drop anything below
// minConfidence.
func ValidateTransitions(transitions []Transition, start, end time.Time, minConfidence float64) []Transition {
	out := make([]Transition, 0, len(transitions))
	for _, t := range transitions {
		if t.Time.Before(start) || t.Time.After(end) {
			continue
		}
		if t.Confidence < minConfidence {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
