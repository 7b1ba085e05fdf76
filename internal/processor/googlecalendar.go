package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jaces.io/core/internal/registry"
	"jaces.io/core/internal/store"
)

// GoogleCalendarProcessor turns Calendar API event payloads into
// google_calendar_events signal records, one per event, keyed by
// event-start + event-id (the "multiple" dedup strategy), grounded on
// original_source/sources/google/calendar/.
type GoogleCalendarProcessor struct{}

const googleCalendarSignalName = "google_calendar_events"

func (p *GoogleCalendarProcessor) Process(ctx context.Context, reg *registry.Registry, batch *RawBatch) ([]store.SignalRecord, error) {
	sig, ok := reg.Signals[googleCalendarSignalName]
	if !ok || !sig.Enabled {
		return nil, nil
	}

	var out []store.SignalRecord
	for _, rec := range batch.Records {
		startStr, err := eventStart(rec)
		if err != nil {
			continue // malformed event, skip rather than fail the whole batch
		}

		key := idempotencyFor(sig.DedupStrategy, startStr, rec)

		metadata, err := eventMetadata(rec)
		if err != nil {
			metadata = "{}"
		}

		summary, _ := stringField(rec, "summary")

		out = append(out, store.SignalRecord{
			SourceName:     "google_calendar",
			SignalName:     googleCalendarSignalName,
			IdempotencyKey: key,
			Timestamp:      startStr,
			ValueText:      summary,
			Confidence:     sig.FidelityScore,
			SourceMetadata: metadata,
		})
	}
	return out, nil
}

func eventStart(rec map[string]interface{}) (time.Time, error) {
	return parseEventTime(rec, "start")
}

// eventEnd parses the event's end boundary and returns an error when the
// payload omits it; the record then carries no "end" metadata, and the
// detect stage's eventFromRecord uses the start as the end instead.
func eventEnd(rec map[string]interface{}) (time.Time, error) {
	return parseEventTime(rec, "end")
}

func parseEventTime(rec map[string]interface{}, field string) (time.Time, error) {
	bound, ok := rec[field].(map[string]interface{})
	if !ok {
		return time.Time{}, fmt.Errorf("event missing %s", field)
	}
	if dt, ok := stringField(bound, "dateTime"); ok {
		return time.Parse(time.RFC3339, dt)
	}
	if d, ok := stringField(bound, "date"); ok {
		return time.Parse("2006-01-02", d)
	}
	return time.Time{}, fmt.Errorf("event %s has neither dateTime nor date", field)
}

// eventMetadata carries the event's end boundary and status alongside the
// record, so a later detection pass can reconstruct a detect.Event without
// re-fetching the raw batch.
func eventMetadata(rec map[string]interface{}) (string, error) {
	status, _ := stringField(rec, "status")
	meta := map[string]interface{}{"status": status}
	if end, err := eventEnd(rec); err == nil {
		meta["end"] = end.UTC().Format(time.RFC3339Nano)
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
