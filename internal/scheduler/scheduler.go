// Package scheduler runs the cron-driven task producers: CheckScheduledSyncs,
// RefreshExpiringTokens, CleanupAuditRows, DetectAllSignals, SegmentDay.
// Each producer enqueues
// work onto internal/queue for the worker pool to drain; the scheduler
// itself never executes task bodies.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"jaces.io/core/internal/queue"
	"jaces.io/core/internal/registry"
	"jaces.io/core/internal/store"
)

// Scheduler owns the cron producers and the registry/store/queue they read
// from and write to.
type Scheduler struct {
	cron     *cron.Cron
	reg      *registry.Registry
	st       *store.Store
	q        *queue.Queue
	logger   zerolog.Logger
	location *time.Location
}

// New builds a scheduler bound to a registry, store, and queue, running
// cron evaluation in the given default timezone.
func New(reg *registry.Registry, st *store.Store, q *queue.Queue, location *time.Location, logger zerolog.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	c := cron.New(cron.WithLocation(location), cron.WithParser(
		cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow),
	))
	return &Scheduler{cron: c, reg: reg, st: st, q: q, logger: logger, location: location}
}

// Start registers every cron producer and begins the cron scheduler's
// internal goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("* * * * *", func() { s.checkScheduledSyncs(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 * * * *", func() { s.refreshExpiringTokens(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 4 * * *", func() { s.cleanupAuditRows(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 3 * * *", func() { s.detectAllSignals(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("15 3 * * *", func() { s.segmentDay(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info().Msg("scheduler started")
	return nil
}

// Stop halts the cron scheduler, waiting for in-flight producer runs to
// finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")
}

// CheckScheduledSyncsNow runs the scheduled-sync scan immediately, for the
// worker pool's KindCheckScheduledSyncs handler (an on-demand trigger
// alongside the cron's own per-minute invocation).
func (s *Scheduler) CheckScheduledSyncsNow(ctx context.Context) {
	s.checkScheduledSyncs(ctx)
}

// checkScheduledSyncs enumerates pull streams with a cron schedule and an
// active source, fans out SyncStream for every one whose next scheduled
// fire has already passed.
func (s *Scheduler) checkScheduledSyncs(ctx context.Context) {
	now := time.Now().In(s.location)

	for _, stream := range s.reg.Streams {
		if !stream.Enabled {
			continue
		}
		src, ok := s.reg.Sources[stream.Source]
		if !ok || src.SyncMode != registry.SyncModePull || src.CronSchedule == "" {
			continue
		}

		var row store.StreamRow
		err := s.st.DB().WithContext(ctx).Where("name = ?", stream.Name).First(&row).Error
		if err != nil {
			s.logger.Warn().Err(err).Str("stream", stream.Name).Msg("no stream cursor row yet; skipping")
			continue
		}

		lastSync := time.Unix(0, 0)
		if row.LastSyncedAt != nil {
			lastSync = *row.LastSyncedAt
		}

		schedule, err := cron.ParseStandard(src.CronSchedule)
		if err != nil {
			s.logger.Error().Err(err).Str("source", src.Name).Msg("invalid cron schedule")
			continue
		}

		if !schedule.Next(lastSync).After(now) {
			task := queue.NewTask(queue.KindSyncStream, map[string]any{
				"stream_name": stream.Name,
				"manual":      false,
			})
			if err := s.q.Enqueue(ctx, task); err != nil {
				s.logger.Error().Err(err).Str("stream", stream.Name).Msg("failed to enqueue sync")
			}
		}
	}
}

func (s *Scheduler) refreshExpiringTokens(ctx context.Context) {
	task := queue.NewTask(queue.KindRefreshExpiringTokens, nil)
	if err := s.q.Enqueue(ctx, task); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue token refresh sweep")
	}
}

func (s *Scheduler) cleanupAuditRows(ctx context.Context) {
	task := queue.NewTask(queue.KindCleanupAuditRows, map[string]any{"days": 30})
	if err := s.q.Enqueue(ctx, task); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue audit cleanup")
	}
}

func (s *Scheduler) detectAllSignals(ctx context.Context) {
	date := time.Now().In(s.location).AddDate(0, 0, -1).Format("2006-01-02")
	task := queue.NewTask(queue.KindDetectAllSignals, map[string]any{
		"date": date,
		"tz":   s.location.String(),
	})
	if err := s.q.Enqueue(ctx, task); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue daily detection")
	}
}

func (s *Scheduler) segmentDay(ctx context.Context) {
	date := time.Now().In(s.location).AddDate(0, 0, -1).Format("2006-01-02")
	task := queue.NewTask(queue.KindSegmentDay, map[string]any{
		"date": date,
		"tz":   s.location.String(),
	})
	if err := s.q.Enqueue(ctx, task); err != nil {
		s.logger.Error().Err(err).Msg("failed to enqueue day segmentation")
	}
}
