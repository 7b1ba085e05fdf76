// Package segment implements the day segmenter: it turns one local day's
// transitions into a contiguous sequence of labeled
// segments via density clustering, boundary reduction, and edge synthesis.
package segment

import (
	"math"
	"sort"
	"time"

	"jaces.io/core/internal/registry"
)

// TransitionInput is one transition as seen by the segmenter: just the
// fields the feature vector and segment summaries need.
type TransitionInput struct {
	Time       time.Time
	SignalName string
	SourceName string
	Magnitude  float64
	Confidence float64
}

// Segment is one emitted day segment, shaped to map onto store.DaySegment.
type Segment struct {
	StartTime         time.Time
	EndTime           time.Time
	ClusterID         int // -1 marks a synthesized "unknown" gap-fill segment
	ContributingSignals map[string]int
	DistinctSources   []string
	AvgConfidence     float64
	ActivityIntensity float64 // transitions per minute
	DominantSource    string
	Label             string
}

// Segmenter runs the density-clustering day-segmentation pipeline.
type Segmenter struct {
	Policy   registry.DaySegmentPolicy
	Location *time.Location
}

// New builds a segmenter bound to a partial-data policy and a timezone.
func New(policy registry.DaySegmentPolicy, loc *time.Location) *Segmenter {
	if loc == nil {
		loc = time.UTC
	}
	return &Segmenter{Policy: policy, Location: loc}
}

const (
	clusterEps    = 0.3
	clusterMinPts = 2
)

// Segment runs the full clustering-to-segments pipeline for one local
// calendar day (YYYY-MM-DD in s.Location) over the given transitions, which
// the caller
// has already loaded for [utc_start, utc_end].
func (s *Segmenter) Segment(localDate string, transitions []TransitionInput) ([]Segment, error) {
	dayStart, dayEnd, err := localDayBounds(localDate, s.Location)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, nil
	}

	sorted := make([]TransitionInput, len(transitions))
	copy(sorted, transitions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	features := buildFeatures(sorted, dayStart)
	labels := dbscan(features, clusterEps, clusterMinPts)
	boundaries := clusterToBoundaries(sorted, labels)

	minB, maxB := targetBoundaryCount(sorted[0].Time, sorted[len(sorted)-1].Time)
	boundaries = reduceBoundaries(boundaries, minB, maxB)

	boundaries = s.synthesizeEdges(boundaries, dayStart, dayEnd)

	return s.emitSegments(boundaries, sorted, dayStart, dayEnd), nil
}

func localDayBounds(localDate string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", localDate, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(24 * time.Hour), nil
}

// feature is the 6-dimensional clustering vector: hour_of_day, signal_hash,
// magnitude, confidence, local_density, and source_diversity, the last
// folded in alongside local density.
type feature struct {
	hourOfDay      float64
	signalHash     float64
	magnitude      float64
	confidence     float64
	localDensity   float64
	sourceDiversity float64
}

func buildFeatures(sorted []TransitionInput, dayStart time.Time) []feature {
	out := make([]feature, len(sorted))
	for i, t := range sorted {
		out[i] = feature{
			hourOfDay:       t.Time.Sub(dayStart).Hours(),
			signalHash:      hashToUnit(t.SignalName),
			magnitude:       t.Magnitude,
			confidence:      t.Confidence,
			localDensity:    float64(countWithin(sorted, i, 2*time.Minute)) / 10.0,
			sourceDiversity: float64(distinctSourcesWithin(sorted, i, 2*time.Minute)) / 4.0,
		}
	}
	return out
}

// hashToUnit maps a signal name into [0, 1) deterministically, the way the
// original discretizes categorical signal identity into the feature space.
func hashToUnit(name string) float64 {
	var h uint32 = 2166136261
	for i := 0; i < len(name); i++ {
		h ^= uint32(name[i])
		h *= 16777619
	}
	return float64(h%10000) / 10000.0
}

func countWithin(sorted []TransitionInput, idx int, window time.Duration) int {
	count := 0
	center := sorted[idx].Time
	for _, t := range sorted {
		if absDuration(t.Time.Sub(center)) <= window {
			count++
		}
	}
	return count
}

func distinctSourcesWithin(sorted []TransitionInput, idx int, window time.Duration) int {
	center := sorted[idx].Time
	seen := make(map[string]struct{})
	for _, t := range sorted {
		if absDuration(t.Time.Sub(center)) <= window {
			seen[t.SourceName] = struct{}{}
		}
	}
	return len(seen)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (f feature) distance(other feature) float64 {
	dh := f.hourOfDay - other.hourOfDay
	ds := f.signalHash - other.signalHash
	dm := f.magnitude - other.magnitude
	dc := f.confidence - other.confidence
	dl := f.localDensity - other.localDensity
	dd := f.sourceDiversity - other.sourceDiversity
	return math.Sqrt(dh*dh + ds*ds + dm*dm + dc*dc + dl*dl + dd*dd)
}
