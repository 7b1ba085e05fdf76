package segment

import "time"

const (
	edgeSynthesisMinGap = 15 * time.Minute
	edgeSynthesisMaxGap = 4 * time.Hour
)

// synthesizeEdges adds local-midnight boundaries at the start/end of the
// day when the first/last real boundary sits more than edgeSynthesisMinGap
// but less than edgeSynthesisMaxGap from the day edge. Past
// edgeSynthesisMaxGap, the configured DaySegmentPolicy decides
// whether data is allowed to "stop early" (data_bounded, the default) or
// whether the day must still be extended or treated strictly.
func (s *Segmenter) synthesizeEdges(boundaries []boundary, dayStart, dayEnd time.Time) []boundary {
	if len(boundaries) == 0 {
		return boundaries
	}

	out := append([]boundary(nil), boundaries...)

	firstGap := out[0].Time.Sub(dayStart)
	if s.shouldSynthesizeStart(firstGap) {
		out = append([]boundary{{Time: dayStart, Confidence: 1.0}}, out...)
	}

	lastGap := dayEnd.Sub(out[len(out)-1].Time)
	if s.shouldSynthesizeEnd(lastGap) {
		out = append(out, boundary{Time: dayEnd, Confidence: 1.0})
	}

	return out
}

func (s *Segmenter) shouldSynthesizeStart(gap time.Duration) bool {
	switch s.Policy {
	case "strict":
		return gap > edgeSynthesisMinGap
	case "extend_to_midnight":
		return gap > edgeSynthesisMinGap
	default: // data_bounded
		return gap > edgeSynthesisMinGap && gap < edgeSynthesisMaxGap
	}
}

func (s *Segmenter) shouldSynthesizeEnd(gap time.Duration) bool {
	switch s.Policy {
	case "strict":
		return gap > edgeSynthesisMinGap
	case "extend_to_midnight":
		return gap > edgeSynthesisMinGap
	default: // data_bounded: let data stop early past the 4h threshold
		return gap > edgeSynthesisMinGap && gap < edgeSynthesisMaxGap
	}
}
