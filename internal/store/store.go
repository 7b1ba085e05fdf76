package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jaces.io/core/internal/envconfig"
)

// Store is the relational store handle shared by the sync runtime, stream
// processors, detectors, segmenter, and scheduler.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and tunes the connection pool, the way
// db/postgres.go's PGInfo configures SetMaxIdleConns/SetMaxOpenConns, but
// returning an error instead of panicking.
func Open(cfg envconfig.DatabaseConfig) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &Store{db: db}, nil
}

// Migrate runs AutoMigrate over every model.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}

// DB exposes the underlying *gorm.DB for packages that need custom queries
// (detectors reading ordered time series, the segmenter's atomic rewrite).
func (s *Store) DB() *gorm.DB { return s.db }

// UpsertSignalRecord inserts a signal record, and on a duplicate
// (source_name, signal_name, idempotency_key) updates the mutable fields a
// re-delivered or corrected observation may carry instead of dropping it —
// the conflict-update contract stream processors depend on.
func (s *Store) UpsertSignalRecord(ctx context.Context, rec *SignalRecord) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source_name"}, {Name: "signal_name"}, {Name: "idempotency_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"timestamp", "value", "value_text", "confidence", "latitude", "longitude", "source_metadata",
			}),
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("upserting signal record: %w", err)
	}
	return nil
}

// SignalRecordsInRange returns records for a signal ordered by timestamp,
// the series internal/detect and internal/segment operate over.
func (s *Store) SignalRecordsInRange(ctx context.Context, signalName string, start, end time.Time) ([]SignalRecord, error) {
	var recs []SignalRecord
	err := s.db.WithContext(ctx).
		Where("signal_name = ? AND timestamp >= ? AND timestamp < ?", signalName, start, end).
		Order("timestamp asc").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("querying signal records: %w", err)
	}
	return recs, nil
}

// ReplaceTransitionsInRange deletes existing transitions for a signal over
// a window and inserts the freshly-detected set in one transaction — the
// delete-then-reinsert semantics spec §5 requires for DetectOneSignal.
func (s *Store) ReplaceTransitionsInRange(ctx context.Context, signalName string, start, end time.Time, fresh []Transition) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("signal_name = ? AND transition_time >= ? AND transition_time < ?", signalName, start, end).
			Delete(&Transition{}).Error; err != nil {
			return fmt.Errorf("deleting stale transitions: %w", err)
		}
		if len(fresh) == 0 {
			return nil
		}
		if err := tx.Create(&fresh).Error; err != nil {
			return fmt.Errorf("inserting transitions: %w", err)
		}
		return nil
	})
}

// ReplaceDaySegments atomically rewrites the segment set for one user-date,
// the serialized atomic rewrite spec §5 requires for SegmentDay.
func (s *Store) ReplaceDaySegments(ctx context.Context, userDate string, fresh []DaySegment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_date = ?", userDate).Delete(&DaySegment{}).Error; err != nil {
			return fmt.Errorf("deleting stale day segments: %w", err)
		}
		if len(fresh) == 0 {
			return nil
		}
		if err := tx.Create(&fresh).Error; err != nil {
			return fmt.Errorf("inserting day segments: %w", err)
		}
		return nil
	})
}

// StartActivity records the start of a scheduler-dispatched task, adapted
// from statemanager.Manager.StartOperation onto a durable row.
func (s *Store) StartActivity(ctx context.Context, taskID, taskKind, sourceName, streamName string) error {
	row := PipelineActivity{
		TaskID:     taskID,
		TaskKind:   taskKind,
		SourceName: sourceName,
		StreamName: streamName,
		Status:     "running",
		StartedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("starting activity %s: %w", taskID, err)
	}
	return nil
}

// CompleteActivity records completion (success or failure) of a task,
// adapted from statemanager.Manager.CompleteOperation.
func (s *Store) CompleteActivity(ctx context.Context, taskID string, recordsProcessed int, taskErr error) error {
	now := time.Now()
	updates := map[string]interface{}{
		"completed_at":      now,
		"records_processed": recordsProcessed,
	}
	if taskErr != nil {
		updates["status"] = "failed"
		updates["error"] = taskErr.Error()
	} else {
		updates["status"] = "completed"
	}

	var row PipelineActivity
	if err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&row).Error; err != nil {
		return fmt.Errorf("loading activity %s: %w", taskID, err)
	}
	updates["duration_ms"] = now.Sub(row.StartedAt).Milliseconds()

	if err := s.db.WithContext(ctx).Model(&PipelineActivity{}).Where("task_id = ?", taskID).Updates(updates).Error; err != nil {
		return fmt.Errorf("completing activity %s: %w", taskID, err)
	}
	return nil
}

// ConnectionID resolves the stable per-source connection identifier used in
// the object-store key layout. This is a single-connection-per-source
// system (no multi-tenant account concept), so the source row's own primary
// key already is the connection: it is created once when the source's
// credentials are registered and never recycled.
func (s *Store) ConnectionID(ctx context.Context, sourceName string) (string, error) {
	var row SourceRow
	if err := s.db.WithContext(ctx).Where("name = ?", sourceName).First(&row).Error; err != nil {
		return "", fmt.Errorf("resolving connection id for %s: %w", sourceName, err)
	}
	return fmt.Sprintf("%d", row.ID), nil
}

// UpsertSemantic implements the semantic versioning invariant: the current
// latest row for (source_name, semantic_id) is compared by content_hash; an
// unchanged hash is a no-op, a changed hash flips the prior row's is_latest
// to false and inserts sem fresh with version = prior + 1. A first-seen
// semantic_id is inserted as version 1.
func (s *Store) UpsertSemantic(ctx context.Context, sem *Semantic) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Semantic
		err := tx.Where("source_name = ? AND semantic_id = ? AND is_latest = ?", sem.SourceName, sem.SemanticID, true).
			First(&current).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			sem.Version = 1
			sem.IsLatest = true
			if err := tx.Create(sem).Error; err != nil {
				return fmt.Errorf("inserting first semantic version: %w", err)
			}
			return nil
		case err != nil:
			return fmt.Errorf("loading latest semantic %s/%s: %w", sem.SourceName, sem.SemanticID, err)
		}

		if current.ContentHash == sem.ContentHash {
			return nil
		}

		if err := tx.Model(&Semantic{}).Where("id = ?", current.ID).Update("is_latest", false).Error; err != nil {
			return fmt.Errorf("flipping prior semantic version: %w", err)
		}

		sem.Version = current.Version + 1
		sem.IsLatest = true
		if err := tx.Create(sem).Error; err != nil {
			return fmt.Errorf("inserting new semantic version: %w", err)
		}
		return nil
	})
}

// LatestSemantic returns the current is_latest row for a semantic_id.
func (s *Store) LatestSemantic(ctx context.Context, sourceName, semanticID string) (*Semantic, error) {
	var sem Semantic
	err := s.db.WithContext(ctx).
		Where("source_name = ? AND semantic_id = ? AND is_latest = ?", sourceName, semanticID, true).
		First(&sem).Error
	if err != nil {
		return nil, fmt.Errorf("loading latest semantic %s/%s: %w", sourceName, semanticID, err)
	}
	return &sem, nil
}

// CleanupActivityOlderThan deletes pipeline_activity rows past retention,
// the CleanupAuditRows cron job's backing query.
func (s *Store) CleanupActivityOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Where("started_at < ?", cutoff).Delete(&PipelineActivity{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleaning up activity rows: %w", result.Error)
	}
	return result.RowsAffected, nil
}
