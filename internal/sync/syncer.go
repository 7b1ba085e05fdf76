package sync

import (
	"context"
	"time"
)

// Batch is a page of raw provider data pulled by a Syncer, ready to be
// landed in the object store before processing.
type Batch struct {
	StreamName string
	FetchedAt  time.Time
	Records    []map[string]interface{}
	// Cursor is the opaque per-stream sync-token/cursor state to persist
	// after a successful batch, following
	// original_source/sources/google/calendar/sync.py's per-calendar token map.
	Cursor string
}

// Syncer is the contract every pull-mode source implements, ported from
// original_source/sources/base/interfaces/sync.py's BaseSync.
type Syncer interface {
	// SourceName identifies which registry source this syncer implements.
	SourceName() string

	// TestConnection verifies the stored credentials are usable without
	// pulling data.
	TestConnection(ctx context.Context) error

	// RequiredConfigFields lists the stream.settings keys this syncer needs
	// (e.g. "calendar_ids").
	RequiredConfigFields() []string

	// Sync pulls one batch of new data for streamName since the given
	// cursor (opaque, syncer-owned). A nil/empty cursor means full sync.
	Sync(ctx context.Context, streamName string, cursor string) (*Batch, error)
}

// Stats summarizes one SyncStream invocation for the pipeline-activity row.
type Stats struct {
	RecordsFetched int
	NewCursor      string
	ObjectKey      string
}
