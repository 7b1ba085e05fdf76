package detect

import (
	"sort"
	"time"

	"jaces.io/core/internal/registry"
)

// CategoricalSample is one timestamped categorical reading (e.g. a sleep
// stage), the input shape the categorical-change detector consumes.
type CategoricalSample struct {
	Timestamp time.Time
	Value     string
}

// categoricalBaseConfidence is the floor every surviving categorical
// transition starts from before the duration boost: confidence is the base
// signal confidence plus a small duration boost.
const categoricalBaseConfidence = 0.8

// categoricalMaxDurationBoost caps how much a long prior-value run can add
// to the base confidence.
const categoricalMaxDurationBoost = 0.15

// CategoricalDetector emits a transition whenever a categorical signal's
// value changes and the prior value held for at least MinValueDuration.
// HRV reuses this detector unchanged over a discretized hrv_band signal.
type CategoricalDetector struct {
	Config registry.CategoricalConfig
}

// NewCategoricalDetector builds a detector bound to a signal's configured
// thresholds.
func NewCategoricalDetector(cfg registry.CategoricalConfig) *CategoricalDetector {
	return &CategoricalDetector{Config: cfg}
}

// Detect walks timestamp-sorted samples, emitting a changepoint transition
// per qualifying value change and a data_gap transition whenever the
// inter-sample interval exceeds the stream's gap threshold.
func (d *CategoricalDetector) Detect(signalName string, samples []CategoricalSample, start, end time.Time) []Transition {
	if len(samples) == 0 {
		return nil
	}
	sorted := make([]CategoricalSample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	gapThreshold := time.Duration(d.Config.GapThresholdSeconds) * time.Second
	minDuration := time.Duration(d.Config.MinValueDuration) * time.Minute

	var out []Transition
	prevValue := sorted[0].Value
	prevChangeAt := sorted[0].Timestamp

	for i := 1; i < len(sorted); i++ {
		cur := sorted[i]
		interval := cur.Timestamp.Sub(sorted[i-1].Timestamp)
		if interval > gapThreshold {
			out = append(out, Transition{
				SignalName: signalName,
				Time:       sorted[i-1].Timestamp,
				Type:       TransitionDataGap,
				Direction:  DirectionNone,
				Confidence: 1.0,
				Method:     "categorical_gap",
			})
		}

		if cur.Value == "" || cur.Value == prevValue {
			continue
		}

		held := sorted[i-1].Timestamp.Sub(prevChangeAt)
		if held < minDuration {
			prevValue = cur.Value
			prevChangeAt = cur.Timestamp
			continue
		}

		out = append(out, Transition{
			SignalName: signalName,
			Time:       cur.Timestamp,
			Type:       TransitionChangepoint,
			Direction:  DirectionNone,
			BeforeValue: prevValue,
			AfterValue:  cur.Value,
			Confidence:  categoricalConfidence(held),
			Method:      "categorical_change",
		})

		prevValue = cur.Value
		prevChangeAt = cur.Timestamp
	}

	return ValidateTransitions(out, start, end, d.Config.MinConfidence)
}

// categoricalConfidence scales the duration boost with how long the prior
// value held, capped at categoricalMaxDurationBoost.
func categoricalConfidence(held time.Duration) float64 {
	boost := held.Minutes() / 120.0 * categoricalMaxDurationBoost
	if boost > categoricalMaxDurationBoost {
		boost = categoricalMaxDurationBoost
	}
	confidence := categoricalBaseConfidence + boost
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}
