package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"jaces.io/core/internal/audit"
	"jaces.io/core/internal/detect"
	"jaces.io/core/internal/objectstore"
	"jaces.io/core/internal/observability"
	"jaces.io/core/internal/perr"
	"jaces.io/core/internal/processor"
	"jaces.io/core/internal/queue"
	"jaces.io/core/internal/registry"
	"jaces.io/core/internal/scheduler"
	"jaces.io/core/internal/segment"
	"jaces.io/core/internal/store"
	"jaces.io/core/internal/sync"
)

// taskHandler implements workerpool.Handler, dispatching each dequeued task
// to the pipeline stage it names. It holds every long-lived collaborator
// the stages need; building one of these is what cmd/pipeline's serve
// command spends most of its time doing.
type taskHandler struct {
	reg          *registry.Registry
	st           *store.Store
	objects      *objectstore.Client
	q            *queue.Queue
	orchestrator *sync.Orchestrator
	tokens       *sync.TokenManager
	syncers      map[string]sync.Syncer
	processors   *processor.Registry
	segmenter    *segment.Segmenter
	recorder     *audit.Recorder
	metrics      *observability.Metrics
	scheduler    *scheduler.Scheduler
	logger       zerolog.Logger
	location     *time.Location
}

// Timeout bounds how long one task kind may run, sized by what the stage
// actually does: syncs and detection wait on I/O and O(n^2) DP respectively,
// everything else is a handful of queries.
func (h *taskHandler) Timeout(t queue.Task) time.Duration {
	switch t.Kind {
	case queue.KindSyncStream:
		return 2 * time.Minute
	case queue.KindProcessStreamBatch:
		return time.Minute
	case queue.KindDetectOneSignal:
		return 2 * time.Minute
	case queue.KindDetectAllSignals:
		return 5 * time.Minute
	case queue.KindSegmentDay:
		return 2 * time.Minute
	case queue.KindRefreshExpiringTokens:
		return time.Minute
	case queue.KindCleanupAuditRows:
		return time.Minute
	case queue.KindCheckScheduledSyncs:
		return 30 * time.Second
	default:
		return time.Minute
	}
}

func (h *taskHandler) Handle(ctx context.Context, t queue.Task) error {
	switch t.Kind {
	case queue.KindSyncStream:
		return h.handleSyncStream(ctx, t)
	case queue.KindProcessStreamBatch:
		return h.handleProcessStreamBatch(ctx, t)
	case queue.KindDetectOneSignal:
		return h.handleDetectOneSignal(ctx, t)
	case queue.KindDetectAllSignals:
		return h.handleDetectAllSignals(ctx, t)
	case queue.KindSegmentDay:
		return h.handleSegmentDay(ctx, t)
	case queue.KindRefreshExpiringTokens:
		return h.handleRefreshExpiringTokens(ctx, t)
	case queue.KindCleanupAuditRows:
		return h.handleCleanupAuditRows(ctx, t)
	case queue.KindCheckScheduledSyncs:
		h.scheduler.CheckScheduledSyncsNow(ctx)
		return nil
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

func (h *taskHandler) handleSyncStream(ctx context.Context, t queue.Task) error {
	streamName, _ := t.Kwargs["stream_name"].(string)
	if streamName == "" {
		return fmt.Errorf("sync_stream task missing stream_name")
	}
	manual, _ := t.Kwargs["manual"].(bool)

	stream, ok := h.reg.Streams[streamName]
	if !ok {
		return fmt.Errorf("unknown stream %q", streamName)
	}
	if !stream.Enabled {
		if !manual {
			return nil
		}
		return perr.Wrap(perr.KindValidation, perr.ErrStreamDisabled)
	}
	src, ok := h.reg.Sources[stream.Source]
	if !ok {
		return fmt.Errorf("unknown source %q", stream.Source)
	}
	if src.SyncMode != registry.SyncModePull && !manual {
		return nil
	}

	syncer, ok := h.syncers[stream.Source]
	if !ok {
		return fmt.Errorf("no syncer registered for source %q", stream.Source)
	}

	started := time.Now()
	if err := h.recorder.Start(ctx, t.ID, string(t.Kind), stream.Source, streamName); err != nil {
		h.logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to record sync start")
	}

	stats, syncErr := h.orchestrator.SyncStream(ctx, syncer, streamName)

	if h.metrics != nil {
		status := "ok"
		if syncErr != nil {
			status = "error"
			h.metrics.SyncErrors.WithLabelValues(stream.Source, "sync").Inc()
		}
		h.metrics.SyncDuration.WithLabelValues(stream.Source, streamName, status).Observe(time.Since(started).Seconds())
	}
	if err := h.recorder.Complete(ctx, t.ID, string(t.Kind), started, stats.RecordsFetched, syncErr); err != nil {
		h.logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to record sync completion")
	}
	if syncErr != nil {
		return syncErr
	}

	if stats.ObjectKey != "" {
		next := queue.NewTask(queue.KindProcessStreamBatch, map[string]any{
			"object_key":  stats.ObjectKey,
			"stream_name": streamName,
		})
		if err := h.q.Enqueue(ctx, next); err != nil {
			return fmt.Errorf("enqueuing batch processing for %s: %w", streamName, err)
		}
	}
	return nil
}

func (h *taskHandler) handleProcessStreamBatch(ctx context.Context, t queue.Task) error {
	objectKey, _ := t.Kwargs["object_key"].(string)
	streamName, _ := t.Kwargs["stream_name"].(string)
	if objectKey == "" {
		return fmt.Errorf("process_stream_batch task missing object_key")
	}

	data, err := h.objects.Get(ctx, objectKey)
	if err != nil {
		return fmt.Errorf("fetching raw batch %s: %w", objectKey, err)
	}
	raw, err := processor.DecodeRawBatch(data)
	if err != nil {
		return err
	}

	stream, ok := h.reg.Streams[streamName]
	if !ok {
		return fmt.Errorf("unknown stream %q", streamName)
	}
	proc, ok := h.processors.Get(stream.Processor)
	if !ok {
		return fmt.Errorf("no processor registered for %q", stream.Processor)
	}

	records, procErr := proc.Process(ctx, h.reg, raw)
	if h.metrics != nil {
		status := "ok"
		if procErr != nil {
			status = "error"
		}
		h.metrics.BatchesProcessed.WithLabelValues(streamName, status).Inc()
	}
	if procErr != nil {
		return fmt.Errorf("processing batch %s: %w", objectKey, procErr)
	}

	for i := range records {
		if err := h.st.UpsertSignalRecord(ctx, &records[i]); err != nil {
			return fmt.Errorf("upserting signal record for %s: %w", records[i].SignalName, err)
		}
		if h.metrics != nil {
			h.metrics.SignalRecordsWritten.WithLabelValues(records[i].SignalName).Inc()
		}
	}

	h.logger.Info().Str("object_key", objectKey).Int("records", len(records)).Msg("processed raw batch")
	return nil
}

func (h *taskHandler) handleDetectOneSignal(ctx context.Context, t queue.Task) error {
	signalName, _ := t.Kwargs["signal_name"].(string)
	startStr, _ := t.Kwargs["start"].(string)
	endStr, _ := t.Kwargs["end"].(string)

	sig, ok := h.reg.Signals[signalName]
	if !ok || !sig.Enabled || sig.Detector == registry.DetectorNone {
		return nil
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return fmt.Errorf("invalid start %q: %w", startStr, err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return fmt.Errorf("invalid end %q: %w", endStr, err)
	}

	records, err := h.st.SignalRecordsInRange(ctx, signalName, start, end)
	if err != nil {
		return err
	}

	started := time.Now()
	var transitions []detect.Transition

	switch sig.Detector {
	case registry.DetectorChangePoint:
		cfg := registry.DefaultChangePointConfig()
		if sig.ChangePoint != nil {
			cfg = *sig.ChangePoint
		}
		samples := make([]detect.Sample, 0, len(records))
		for _, r := range records {
			samples = append(samples, detect.Sample{
				Timestamp: r.Timestamp, Value: r.Value, ValueText: r.ValueText, SourceName: r.SourceName,
			})
		}
		transitions = detect.NewChangePointDetector(cfg).Detect(signalName, samples, start, end)

	case registry.DetectorCategorical:
		cfg := registry.DefaultCategoricalConfig()
		if sig.Categorical != nil {
			cfg = *sig.Categorical
		}
		samples := make([]detect.CategoricalSample, 0, len(records))
		for _, r := range records {
			samples = append(samples, detect.CategoricalSample{Timestamp: r.Timestamp, Value: r.ValueText})
		}
		transitions = detect.NewCategoricalDetector(cfg).Detect(signalName, samples, start, end)

	case registry.DetectorEventBoundary:
		cfg := registry.DefaultEventBoundaryConfig()
		if sig.EventBoundary != nil {
			cfg = *sig.EventBoundary
		}
		events := make([]detect.Event, 0, len(records))
		for _, r := range records {
			if ev, ok := eventFromRecord(r); ok {
				events = append(events, ev)
			}
		}
		transitions = detect.NewEventBoundaryDetector(cfg).Detect(signalName, events, start, end)
	}

	if h.metrics != nil {
		h.metrics.DetectionDuration.WithLabelValues(signalName, string(sig.Detector)).Observe(time.Since(started).Seconds())
		h.metrics.TransitionsFound.WithLabelValues(signalName, string(sig.Detector)).Add(float64(len(transitions)))
	}

	rows := make([]store.Transition, 0, len(transitions))
	for _, tr := range transitions {
		rows = append(rows, toStoreTransition(tr))
	}
	return h.st.ReplaceTransitionsInRange(ctx, signalName, start, end, rows)
}

func (h *taskHandler) handleDetectAllSignals(ctx context.Context, t queue.Task) error {
	dateStr, _ := t.Kwargs["date"].(string)
	loc := h.locationFromKwargs(t)

	start, end, err := dayBounds(dateStr, loc)
	if err != nil {
		return err
	}

	for name, sig := range h.reg.Signals {
		if !sig.Enabled || sig.Detector == registry.DetectorNone {
			continue
		}
		next := queue.NewTask(queue.KindDetectOneSignal, map[string]any{
			"signal_name": name,
			"start":       start.UTC().Format(time.RFC3339),
			"end":         end.UTC().Format(time.RFC3339),
		})
		if err := h.q.Enqueue(ctx, next); err != nil {
			return fmt.Errorf("enqueuing detection for %s: %w", name, err)
		}
	}
	return nil
}

func (h *taskHandler) handleSegmentDay(ctx context.Context, t queue.Task) error {
	dateStr, _ := t.Kwargs["date"].(string)
	loc := h.locationFromKwargs(t)

	start, end, err := dayBounds(dateStr, loc)
	if err != nil {
		return err
	}

	var inputs []segment.TransitionInput
	for name := range h.reg.Signals {
		var rows []store.Transition
		if err := h.st.DB().WithContext(ctx).
			Where("signal_name = ? AND transition_time >= ? AND transition_time < ?", name, start, end).
			Find(&rows).Error; err != nil {
			return fmt.Errorf("loading transitions for %s: %w", name, err)
		}
		for _, r := range rows {
			inputs = append(inputs, segment.TransitionInput{
				Time:       r.TransitionTime,
				SignalName: r.SignalName,
				SourceName: h.sourceForSignal(r.SignalName),
				Magnitude:  r.ChangeMagnitude,
				Confidence: r.Confidence,
			})
		}
	}

	started := time.Now()
	segments, err := h.segmenter.Segment(dateStr, inputs)
	if h.metrics != nil {
		h.metrics.SegmentationDuration.Observe(time.Since(started).Seconds())
	}
	if err != nil {
		return err
	}

	rows := make([]store.DaySegment, 0, len(segments))
	for _, s := range segments {
		contributing, err := json.Marshal(s.ContributingSignals)
		if err != nil {
			return fmt.Errorf("marshaling contributing signals for %s: %w", dateStr, err)
		}
		distinct, err := json.Marshal(s.DistinctSources)
		if err != nil {
			return fmt.Errorf("marshaling distinct sources for %s: %w", dateStr, err)
		}
		rows = append(rows, store.DaySegment{
			UserDate:            dateStr,
			StartTime:           s.StartTime,
			EndTime:             s.EndTime,
			ClusterID:           s.ClusterID,
			DominantSource:      s.DominantSource,
			ActivityIntensity:   s.ActivityIntensity,
			AvgConfidence:       s.AvgConfidence,
			ContributingSignals: string(contributing),
			DistinctSources:     string(distinct),
			Label:               s.Label,
		})
	}
	return h.st.ReplaceDaySegments(ctx, dateStr, rows)
}

func (h *taskHandler) handleRefreshExpiringTokens(ctx context.Context, t queue.Task) error {
	for _, name := range h.tokens.RegisteredSources() {
		if h.tokens.State(name) != sync.TokenNearExpiry {
			continue
		}
		_, err := h.tokens.Token(ctx, name)
		outcome := "ok"
		if err != nil {
			outcome = "error"
			h.logger.Error().Err(err).Str("source", name).Msg("token refresh failed")
		}
		if h.metrics != nil {
			h.metrics.TokenRefreshes.WithLabelValues(name, outcome).Inc()
		}
	}
	return nil
}

func (h *taskHandler) handleCleanupAuditRows(ctx context.Context, t queue.Task) error {
	days := 30
	if d, ok := t.Kwargs["days"].(float64); ok {
		days = int(d)
	}
	_, err := h.recorder.CleanupAuditRows(ctx, days)
	return err
}

func (h *taskHandler) locationFromKwargs(t queue.Task) *time.Location {
	if tz, ok := t.Kwargs["tz"].(string); ok && tz != "" {
		if parsed, err := time.LoadLocation(tz); err == nil {
			return parsed
		}
	}
	return h.location
}

func (h *taskHandler) sourceForSignal(signalName string) string {
	sig, ok := h.reg.Signals[signalName]
	if !ok {
		return ""
	}
	stream, ok := h.reg.Streams[sig.Stream]
	if !ok {
		return ""
	}
	return stream.Source
}

// dayBounds parses a YYYY-MM-DD local date into its [start, end) instants
// in loc, the same local-midnight convention internal/segment uses.
func dayBounds(dateStr string, loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation("2006-01-02", dateStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: %w", dateStr, err)
	}
	return start, start.AddDate(0, 0, 1), nil
}

// eventFromRecord reconstructs a detect.Event from a SignalRecord written
// by GoogleCalendarProcessor: timestamp is the event start, SourceMetadata
// carries the end boundary and status alongside it.
func eventFromRecord(r store.SignalRecord) (detect.Event, bool) {
	var meta struct {
		Status string `json:"status"`
		End    string `json:"end"`
	}
	if r.SourceMetadata == "" {
		return detect.Event{}, false
	}
	if err := json.Unmarshal([]byte(r.SourceMetadata), &meta); err != nil {
		return detect.Event{}, false
	}
	end := r.Timestamp
	if meta.End != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, meta.End); err == nil {
			end = parsed
		}
	}
	return detect.Event{Start: r.Timestamp, End: end, Status: meta.Status}, true
}

// toStoreTransition maps one detector output onto its persisted row shape.
func toStoreTransition(tr detect.Transition) store.Transition {
	merged, _ := json.Marshal(tr.MergedTimes)
	return store.Transition{
		SignalName:        tr.SignalName,
		TransitionTime:     tr.Time,
		TransitionType:     string(tr.Type),
		ChangeMagnitude:    tr.Magnitude,
		ChangeDirection:    string(tr.Direction),
		BeforeMean:         tr.BeforeMean,
		BeforeStd:          tr.BeforeStd,
		AfterMean:          tr.AfterMean,
		AfterStd:           tr.AfterStd,
		Confidence:         tr.Confidence,
		DetectionMethod:    tr.Method,
		MergedCount:        tr.MergedCount,
		MergedTransitions:  string(merged),
	}
}
