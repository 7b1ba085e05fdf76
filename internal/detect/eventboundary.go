package detect

import (
	"time"

	"jaces.io/core/internal/registry"
)

// Event is one discrete occurrence with an explicit start/end (a calendar
// event, a workout), the input shape the event-boundary detector consumes.
type Event struct {
	Start  time.Time
	End    time.Time
	Status string // "confirmed" (default), "tentative", "needsAction"
}

// EventBoundaryDetector emits a pair of changepoints (start, end) per
// event. Workouts reuse this detector unchanged: they behave like calendar
// events, explicit start/end, discrete.
type EventBoundaryDetector struct {
	Config registry.EventBoundaryConfig
}

// NewEventBoundaryDetector builds a detector bound to a signal's configured
// thresholds.
func NewEventBoundaryDetector(cfg registry.EventBoundaryConfig) *EventBoundaryDetector {
	return &EventBoundaryDetector{Config: cfg}
}

const (
	eventBoundaryBaseConfidence        = 0.98
	eventBoundaryTentativeConfidence   = 0.7
	eventBoundaryNeedsActionConfidence = 0.6
)

// Detect emits start/end transitions for every event, discarding anything
// outside [start, end].
func (d *EventBoundaryDetector) Detect(signalName string, events []Event, start, end time.Time) []Transition {
	var out []Transition
	for _, e := range events {
		confidence := eventConfidence(e.Status)

		out = append(out,
			Transition{
				SignalName: signalName,
				Time:       e.Start,
				Type:       TransitionChangepoint,
				Direction:  DirectionIncrease,
				BeforeMean: 0,
				AfterMean:  1,
				Confidence: confidence,
				Method:     "event_boundary",
			},
			Transition{
				SignalName: signalName,
				Time:       e.End,
				Type:       TransitionChangepoint,
				Direction:  DirectionDecrease,
				BeforeMean: 1,
				AfterMean:  0,
				Confidence: confidence,
				Method:     "event_boundary",
			},
		)
	}
	return ValidateTransitions(out, start, end, d.Config.MinConfidence)
}

func eventConfidence(status string) float64 {
	switch status {
	case "tentative":
		return eventBoundaryTentativeConfidence
	case "needsAction":
		return eventBoundaryNeedsActionConfidence
	default:
		return eventBoundaryBaseConfidence
	}
}
