package segment

import (
	"math"
	"sort"
	"time"
)

// boundary is the intermediate clustering output: a consolidated instant
// (and its weight) before adjacent-pair reduction to the target segment
// count.
type boundary struct {
	Time       time.Time
	Confidence float64
}

// clusterToBoundaries produces one boundary per cluster at its
// confidence-weighted mean timestamp, and one singleton boundary per noise
// point.
func clusterToBoundaries(sorted []TransitionInput, labels []int) []boundary {
	byCluster := make(map[int][]int)
	for i, l := range labels {
		if l == -1 {
			continue
		}
		byCluster[l] = append(byCluster[l], i)
	}

	var out []boundary
	for i, l := range labels {
		if l != -1 {
			continue
		}
		out = append(out, boundary{Time: sorted[i].Time, Confidence: sorted[i].Confidence})
	}
	for _, idxs := range byCluster {
		out = append(out, weightedMeanBoundary(sorted, idxs))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func weightedMeanBoundary(sorted []TransitionInput, idxs []int) boundary {
	var weightSum, timeSum, confSum float64
	for _, i := range idxs {
		w := sorted[i].Confidence
		if w <= 0 {
			w = 0.01
		}
		timeSum += w * float64(sorted[i].Time.UnixNano())
		confSum += sorted[i].Confidence
		weightSum += w
	}
	meanNanos := int64(timeSum / weightSum)
	return boundary{
		Time:       time.Unix(0, meanNanos).UTC(),
		Confidence: confSum / float64(len(idxs)),
	}
}

// targetBoundaryCount scales a target range [minB, maxB] off the data span.
func targetBoundaryCount(first, last time.Time) (minB, maxB int) {
	span := last.Sub(first)
	switch {
	case span < time.Hour:
		return 1, 2
	case span < 6*time.Hour:
		return 2, 6
	default:
		// Proportional to a configured full-day target of 8-24 boundaries.
		frac := span.Hours() / 24.0
		if frac > 1 {
			frac = 1
		}
		minB = int(math.Round(8 * frac))
		maxB = int(math.Round(24 * frac))
		if minB < 2 {
			minB = 2
		}
		if maxB < minB {
			maxB = minB
		}
		return minB, maxB
	}
}

// reduceBoundaries iteratively merges the adjacent pair with minimum
// importance conf_i * conf_{i+1} * ln(gap_seconds+60), dropping the
// lower-confidence side, until the boundary count is at most maxB; a count
// already below minB is returned unchanged.
func reduceBoundaries(boundaries []boundary, minB, maxB int) []boundary {
	out := append([]boundary(nil), boundaries...)
	for len(out) > maxB {
		out = mergeLeastImportantPair(out)
	}
	_ = minB // minB guides callers on how aggressively to synthesize edges; reduction only caps the upper bound
	return out
}

func mergeLeastImportantPair(boundaries []boundary) []boundary {
	if len(boundaries) < 2 {
		return boundaries
	}
	bestIdx := 0
	bestImportance := math.MaxFloat64
	for i := 0; i < len(boundaries)-1; i++ {
		gapSeconds := boundaries[i+1].Time.Sub(boundaries[i].Time).Seconds()
		importance := boundaries[i].Confidence * boundaries[i+1].Confidence * math.Log(gapSeconds+60)
		if importance < bestImportance {
			bestImportance = importance
			bestIdx = i
		}
	}

	keep := boundaries[bestIdx]
	if boundaries[bestIdx+1].Confidence > keep.Confidence {
		keep = boundaries[bestIdx+1]
	}

	out := make([]boundary, 0, len(boundaries)-1)
	out = append(out, boundaries[:bestIdx]...)
	out = append(out, keep)
	out = append(out, boundaries[bestIdx+2:]...)
	return out
}
