// Package registry loads the declarative source/stream/signal catalog from
// a directory tree of YAML records and exposes it as a compile-time lookup
// table, avoiding runtime reflection on per-signal config blobs inside
// detectors.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthType names how a source authenticates (pull-mode OAuth vs. push-mode
// device token).
type AuthType string

const (
	AuthTypeOAuth       AuthType = "oauth"
	AuthTypeDeviceToken AuthType = "device-token"
)

// SyncMode names how data arrives for a source.
type SyncMode string

const (
	SyncModePull SyncMode = "pull"
	SyncModePush SyncMode = "push"
)

// Source is a registered data provider (e.g. "google_calendar", "ios").
type Source struct {
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Icon        string   `yaml:"icon"`
	AuthType    AuthType `yaml:"auth_type"`
	SyncMode    SyncMode `yaml:"sync_mode"`
	CronSchedule string  `yaml:"cron_schedule"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	RequiredConfigFields []string `yaml:"required_config_fields"`
}

// Stream is a data feed within a source (e.g. "google_calendar_primary").
type Stream struct {
	Name     string                 `yaml:"name"`
	Source   string                 `yaml:"source"`
	Enabled  bool                   `yaml:"enabled"`
	Settings map[string]interface{} `yaml:"settings"`
	Processor string                `yaml:"processor"`
	// Semantic marks a stream whose processor writes Semantic rows instead
	// of Signal rows; such a stream is exempt from the "at least one
	// signal" validation rule.
	Semantic bool `yaml:"semantic"`
}

// ValueType names a signal's analysis semantics (how its value is
// interpreted, independent of how it is deduplicated — see DedupStrategy).
type ValueType string

const (
	ValueTypeContinuous  ValueType = "continuous"
	ValueTypeCategorical ValueType = "categorical"
	ValueTypeEvent       ValueType = "event"
	ValueTypeCount       ValueType = "count"
	ValueTypeSpatial     ValueType = "spatial"
	ValueTypeBinary      ValueType = "binary"
)

// DedupStrategy names how a signal's idempotency key is derived. Independent
// of ValueType: a continuous signal can still require content-based dedup,
// and vice versa.
type DedupStrategy string

const (
	// DedupStrategySingle dedups on bare timestamp: at most one row per
	// (source_name, signal_name, timestamp).
	DedupStrategySingle DedupStrategy = "single"
	// DedupStrategyMultiple dedups on timestamp plus a content-derived
	// suffix, permitting same-instant records that differ in content.
	DedupStrategyMultiple DedupStrategy = "multiple"
)

// DetectorKind names which detector family a signal binds to.
type DetectorKind string

const (
	DetectorNone          DetectorKind = ""
	DetectorChangePoint   DetectorKind = "change_point"
	DetectorEventBoundary DetectorKind = "event_boundary"
	DetectorCategorical   DetectorKind = "categorical"
)

// ChangePointConfig configures internal/detect's PELT-style detector,
// defaults ported from pelt.py's BasePELTTransitionDetector constructor.
type ChangePointConfig struct {
	MinConfidence      float64 `yaml:"min_confidence"`
	GapThresholdSeconds int    `yaml:"gap_threshold_seconds"`
	MinSegmentSize     int     `yaml:"min_segment_size"`
	PenaltyMultiplier  float64 `yaml:"penalty_multiplier"`
	MinTransitionGapSeconds int `yaml:"min_transition_gap_seconds"`
	// CostType selects the segment-cost function: "l1" or "l2".
	CostType string `yaml:"cost_type"`
}

// DefaultChangePointConfig mirrors pelt.py's constructor defaults.
func DefaultChangePointConfig() ChangePointConfig {
	return ChangePointConfig{
		MinConfidence:           0.3,
		GapThresholdSeconds:     900,
		MinSegmentSize:          5,
		PenaltyMultiplier:       1.0,
		MinTransitionGapSeconds: 300,
		CostType:                "l2",
	}
}

// EventBoundaryConfig configures internal/detect's event-boundary detector.
type EventBoundaryConfig struct {
	MinConfidence       float64 `yaml:"min_confidence"`
	GapThresholdSeconds int     `yaml:"gap_threshold_seconds"`
}

// DefaultEventBoundaryConfig mirrors categorical.py's base defaults.
func DefaultEventBoundaryConfig() EventBoundaryConfig {
	return EventBoundaryConfig{MinConfidence: 0.3, GapThresholdSeconds: 300}
}

// CategoricalConfig configures internal/detect's categorical-change detector.
type CategoricalConfig struct {
	MinConfidence       float64 `yaml:"min_confidence"`
	GapThresholdSeconds int     `yaml:"gap_threshold_seconds"`
	MinValueDuration    int     `yaml:"min_value_duration"`
}

// DefaultCategoricalConfig mirrors categorical.py's base defaults.
func DefaultCategoricalConfig() CategoricalConfig {
	return CategoricalConfig{MinConfidence: 0.3, GapThresholdSeconds: 300, MinValueDuration: 0}
}

// Signal is a named measurement produced by a stream's processor.
type Signal struct {
	Name          string        `yaml:"name"`
	Stream        string        `yaml:"stream"`
	ValueType     ValueType     `yaml:"value_type"`
	Enabled       bool          `yaml:"enabled"`
	Detector      DetectorKind  `yaml:"detector"`
	ChangePoint   *ChangePointConfig   `yaml:"change_point,omitempty"`
	EventBoundary *EventBoundaryConfig `yaml:"event_boundary,omitempty"`
	Categorical   *CategoricalConfig   `yaml:"categorical,omitempty"`

	// Unit is the physical or logical unit of signal_value (e.g. "m/s",
	// "meters", "boolean"). Mandatory: validated at load.
	Unit string `yaml:"unit"`
	// Weight scales this signal's contribution to event/day-segment
	// clustering relative to other signals feeding the same window.
	Weight float64 `yaml:"weight"`
	// DedupStrategy overrides how this signal's idempotency key is built;
	// defaults by ValueType if omitted (see applySignalDefaults).
	DedupStrategy DedupStrategy `yaml:"dedup_strategy"`
	// FidelityScore is the baseline confidence multiplier a processor
	// applies to every record of this signal; defaults to 1.0 if omitted.
	FidelityScore float64 `yaml:"fidelity_score"`
}

// DaySegmentPolicy controls how the day segmenter treats a partially-covered
// day.
type DaySegmentPolicy string

const (
	DaySegmentStrict            DaySegmentPolicy = "strict"
	DaySegmentExtendToMidnight  DaySegmentPolicy = "extend_to_midnight"
	DaySegmentDataBounded       DaySegmentPolicy = "data_bounded"
)

// Registry is the compiled, queryable catalog.
type Registry struct {
	Sources map[string]Source
	Streams map[string]Stream
	Signals map[string]Signal

	DaySegmentPolicy DaySegmentPolicy
}

type sourceFile struct {
	Source Source `yaml:"source"`
}

type streamFile struct {
	Streams []Stream `yaml:"streams"`
}

type signalFile struct {
	Signals []Signal `yaml:"signals"`
}

// Load walks root and parses every source.yaml/streams.yaml/signals.yaml it
// finds into a compiled Registry. The directory layout follows
// root/<source_name>/{source.yaml,streams.yaml,signals.yaml}.
func Load(root string) (*Registry, error) {
	reg := &Registry{
		Sources:          make(map[string]Source),
		Streams:          make(map[string]Stream),
		Signals:          make(map[string]Signal),
		DaySegmentPolicy: DaySegmentDataBounded,
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading registry root %s: %w", root, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())

		if err := reg.loadSource(filepath.Join(dir, "source.yaml")); err != nil {
			return nil, err
		}
		if err := reg.loadStreams(filepath.Join(dir, "streams.yaml")); err != nil {
			return nil, err
		}
		if err := reg.loadSignals(filepath.Join(dir, "signals.yaml")); err != nil {
			return nil, err
		}
	}

	if err := reg.validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) loadSource(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var sf sourceFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	r.Sources[sf.Source.Name] = sf.Source
	return nil
}

func (r *Registry) loadStreams(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var sf streamFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, s := range sf.Streams {
		r.Streams[s.Name] = s
	}
	return nil
}

func (r *Registry) loadSignals(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var sf signalFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, sig := range sf.Signals {
		applyDetectorDefaults(&sig)
		applySignalDefaults(&sig)
		r.Signals[sig.Name] = sig
	}
	return nil
}

// applySignalDefaults fills in a signal's DedupStrategy and FidelityScore
// when the YAML record omits them: events default to multiple-dedup (two
// events can land in the same instant), everything else defaults to single;
// fidelity defaults to full confidence.
func applySignalDefaults(sig *Signal) {
	if sig.DedupStrategy == "" {
		if sig.ValueType == ValueTypeEvent {
			sig.DedupStrategy = DedupStrategyMultiple
		} else {
			sig.DedupStrategy = DedupStrategySingle
		}
	}
	if sig.FidelityScore == 0 {
		sig.FidelityScore = 1.0
	}
}

func applyDetectorDefaults(sig *Signal) {
	switch sig.Detector {
	case DetectorChangePoint:
		if sig.ChangePoint == nil {
			cfg := DefaultChangePointConfig()
			sig.ChangePoint = &cfg
		} else if sig.ChangePoint.CostType == "" {
			sig.ChangePoint.CostType = "l2"
		}
	case DetectorEventBoundary:
		if sig.EventBoundary == nil {
			cfg := DefaultEventBoundaryConfig()
			sig.EventBoundary = &cfg
		}
	case DetectorCategorical:
		if sig.Categorical == nil {
			cfg := DefaultCategoricalConfig()
			sig.Categorical = &cfg
		}
	}
}

// validate checks the four load-time rules any failure of which aborts
// startup: every stream's source exists; every non-semantic stream has at
// least one signal; every signal has a unit and a recognized detector
// binding (explicit none included); signal names are prefixed by their
// source's name.
func (r *Registry) validate() error {
	for _, stream := range r.Streams {
		if _, ok := r.Sources[stream.Source]; !ok {
			return fmt.Errorf("stream %q references unknown source %q", stream.Name, stream.Source)
		}
	}

	signalsByStream := make(map[string]int, len(r.Streams))
	for _, sig := range r.Signals {
		stream, ok := r.Streams[sig.Stream]
		if !ok {
			return fmt.Errorf("signal %q references unknown stream %q", sig.Name, sig.Stream)
		}
		signalsByStream[sig.Stream]++

		if sig.Unit == "" {
			return fmt.Errorf("signal %q has no unit", sig.Name)
		}
		if !isValidDetectorKind(sig.Detector) {
			return fmt.Errorf("signal %q has unrecognized detector binding %q", sig.Name, sig.Detector)
		}

		prefix := stream.Source + "_"
		if !strings.HasPrefix(sig.Name, prefix) {
			return fmt.Errorf("signal %q is not prefixed by its source name %q", sig.Name, stream.Source)
		}
	}

	for _, stream := range r.Streams {
		if stream.Semantic {
			continue
		}
		if signalsByStream[stream.Name] == 0 {
			return fmt.Errorf("stream %q has no signals bound to it", stream.Name)
		}
	}

	return nil
}

func isValidDetectorKind(d DetectorKind) bool {
	switch d {
	case DetectorNone, DetectorChangePoint, DetectorEventBoundary, DetectorCategorical:
		return true
	default:
		return false
	}
}

// StreamsForSource returns every stream bound to the named source.
func (r *Registry) StreamsForSource(sourceName string) []Stream {
	var out []Stream
	for _, s := range r.Streams {
		if s.Source == sourceName {
			out = append(out, s)
		}
	}
	return out
}

// SignalsForStream returns every enabled signal bound to the named stream.
func (r *Registry) SignalsForStream(streamName string) []Signal {
	var out []Signal
	for _, sig := range r.Signals {
		if sig.Stream == streamName && sig.Enabled {
			out = append(out, sig)
		}
	}
	return out
}

// IsSignalEnabled reports whether a signal is in the catalog and enabled.
func (r *Registry) IsSignalEnabled(name string) bool {
	sig, ok := r.Signals[name]
	return ok && sig.Enabled
}
