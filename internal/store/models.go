// Package store is the relational store: GORM models and CRUD for every row
// type the pipeline persists (sources, streams, signals, signal records,
// semantics, transitions, day segments, pipeline activity).
package store

import (
	"time"

	"gorm.io/gorm"
)

// SourceRow tracks per-user OAuth/device-token state for a registered
// source (the registry holds the static catalog; this table holds the
// live, per-user credential and cursor state).
type SourceRow struct {
	gorm.Model
	Name              string `gorm:"uniqueIndex;size:128"`
	AuthType          string
	AccessTokenEnc    []byte `gorm:"type:bytea"`
	RefreshTokenEnc   []byte `gorm:"type:bytea"`
	DeviceTokenHash   string
	TokenExpiresAt    *time.Time
	TokenState        string `gorm:"size:32"` // valid, near_expiry, refreshing, refresh_failed
}

// StreamRow tracks per-stream sync cursor state.
type StreamRow struct {
	gorm.Model
	Name         string `gorm:"uniqueIndex;size:128"`
	SourceName   string `gorm:"index;size:128"`
	Enabled      bool
	LastSyncedAt *time.Time
	SyncCursor   string `gorm:"type:text"` // opaque per-source cursor/sync-token blob (JSON)
}

// SignalRecord is a single normalized measurement, unique per
// (source_name, signal_name, idempotency_key).
type SignalRecord struct {
	gorm.Model
	SourceName      string `gorm:"index:idx_signal_identity,unique;size:128"`
	SignalName      string `gorm:"index:idx_signal_identity,unique;size:128"`
	IdempotencyKey  string `gorm:"index:idx_signal_identity,unique;size:256"`
	Timestamp       time.Time `gorm:"index"`
	Value           float64
	ValueText       string `gorm:"type:text"`
	Confidence      float64 // in [0,1]; signal.fidelity_score unless a processor overrides per-record
	Latitude        *float64
	Longitude       *float64
	SourceMetadata  string `gorm:"type:text"` // JSON blob, processor-specific
}

// Semantic is a derived, higher-level document body (e.g. a Notion page),
// versioned per (source_name, semantic_id): exactly one row is is_latest at
// a time, flipped to false and superseded by version+1 when content_hash
// changes. Full body lives in the object store; this row is the index entry.
type Semantic struct {
	gorm.Model
	SourceName     string `gorm:"index:idx_semantic_version,unique;size:128"`
	SemanticID     string `gorm:"index:idx_semantic_version,unique;size:256"`
	Version        int    `gorm:"index:idx_semantic_version,unique"`
	Name           string `gorm:"index;size:128"`
	IsLatest       bool   `gorm:"index"`
	ContentHash    string `gorm:"size:64"`
	UserTimeStart  time.Time `gorm:"index"`
	UserTimeEnd    time.Time
	ObjectStoreKey string `gorm:"size:512"`
}

// Transition is one detector output (change-point, event-boundary, or
// categorical-change).
type Transition struct {
	gorm.Model
	SignalName        string `gorm:"index;size:128"`
	TransitionTime     time.Time `gorm:"index"`
	TransitionType     string `gorm:"size:64"`
	ChangeMagnitude    float64
	ChangeDirection    string `gorm:"size:16"`
	BeforeMean         float64
	BeforeStd          float64
	AfterMean          float64
	AfterStd           float64
	Confidence         float64
	DetectionMethod    string `gorm:"size:64"`
	MergedCount        int
	MergedTransitions  string `gorm:"type:text"` // JSON array of merged transition timestamps
}

// DaySegment is one contiguous segment produced by the day segmenter, with
// dominant-source, activity-intensity, and cluster-provenance summary
// columns (cluster_id -1 marks an "unknown" gap-filler segment).
type DaySegment struct {
	gorm.Model
	UserDate            string `gorm:"index;size:16"` // YYYY-MM-DD
	StartTime           time.Time `gorm:"index"`
	EndTime             time.Time
	ClusterID           int
	DominantSource      string `gorm:"size:128"`
	ActivityIntensity   float64
	AvgConfidence       float64
	ContributingSignals string `gorm:"type:text"` // JSON signal_name -> count histogram
	DistinctSources     string `gorm:"type:text"` // JSON array of source names
	Label               string `gorm:"size:64"`
}

// PipelineActivity is an audit row for one scheduler-dispatched task.
type PipelineActivity struct {
	gorm.Model
	TaskID      string `gorm:"uniqueIndex;size:64"`
	TaskKind    string `gorm:"index;size:64"`
	SourceName  string `gorm:"index;size:128"`
	StreamName  string `gorm:"size:128"`
	Status      string `gorm:"index;size:32"` // running, completed, failed
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  int64
	Error       string `gorm:"type:text"`
	RecordsProcessed int
}

// AllModels lists every model for AutoMigrate, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&SourceRow{},
		&StreamRow{},
		&SignalRecord{},
		&Semantic{},
		&Transition{},
		&DaySegment{},
		&PipelineActivity{},
	}
}
