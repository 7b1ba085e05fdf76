package segment

import "time"

const (
	minSegmentDuration = 5 * time.Minute
	maxInteriorGap     = time.Minute
)

// emitSegments converts consecutive boundary pairs into Segments, dropping
// sub-5-minute edge segments, filling interior gaps over a minute with an
// "unknown" segment, and computing per-segment summaries.
func (s *Segmenter) emitSegments(boundaries []boundary, sorted []TransitionInput, dayStart, dayEnd time.Time) []Segment {
	if len(boundaries) < 2 {
		return nil
	}

	var raw []Segment
	last := len(boundaries) - 2
	for i := 0; i <= last; i++ {
		start := boundaries[i].Time
		end := boundaries[i+1].Time
		isEdge := i == 0 || i == last
		if isEdge && end.Sub(start) < minSegmentDuration {
			continue
		}
		raw = append(raw, summarize(start, end, sorted, 0))
	}

	return fillInteriorGaps(raw)
}

func fillInteriorGaps(segments []Segment) []Segment {
	if len(segments) == 0 {
		return segments
	}
	out := make([]Segment, 0, len(segments))
	out = append(out, segments[0])
	for i := 1; i < len(segments); i++ {
		prev := out[len(out)-1]
		cur := segments[i]
		gap := cur.StartTime.Sub(prev.EndTime)
		if gap > maxInteriorGap {
			out = append(out, Segment{
				StartTime: prev.EndTime,
				EndTime:   cur.StartTime,
				ClusterID: -1,
				Label:     "unknown",
			})
		}
		out = append(out, cur)
	}
	return out
}

func summarize(start, end time.Time, sorted []TransitionInput, clusterID int) Segment {
	histogram := make(map[string]int)
	sources := make(map[string]struct{})
	sourceWeight := make(map[string]float64)

	var confSum float64
	var count int
	for _, t := range sorted {
		if t.Time.Before(start) || !t.Time.Before(end) {
			continue
		}
		histogram[t.SignalName]++
		sources[t.SourceName] = struct{}{}
		sourceWeight[t.SourceName] += t.Confidence
		confSum += t.Confidence
		count++
	}

	distinctSources := make([]string, 0, len(sources))
	for src := range sources {
		distinctSources = append(distinctSources, src)
	}

	dominant := dominantSource(sourceWeight)

	avgConfidence := 0.0
	if count > 0 {
		avgConfidence = confSum / float64(count)
	}

	minutes := end.Sub(start).Minutes()
	intensity := 0.0
	if minutes > 0 {
		intensity = float64(count) / minutes
	}

	return Segment{
		StartTime:           start,
		EndTime:             end,
		ClusterID:           clusterID,
		ContributingSignals: histogram,
		DistinctSources:     distinctSources,
		AvgConfidence:       avgConfidence,
		ActivityIntensity:   intensity,
		DominantSource:      dominant,
	}
}

func dominantSource(weights map[string]float64) string {
	best := ""
	bestWeight := -1.0
	for src, w := range weights {
		if w > bestWeight {
			best = src
			bestWeight = w
		}
	}
	return best
}
