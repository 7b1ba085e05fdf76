package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jaces.io/core/internal/registry"
)

func TestDecodeRawBatch_RoundTrips(t *testing.T) {
	payload := []byte(`{"stream_name":"google_calendar_primary","fetched_at":"2026-01-02T03:04:05Z","records":[{"summary":"standup"}]}`)

	batch, err := DecodeRawBatch(payload)
	require.NoError(t, err)
	assert.Equal(t, "google_calendar_primary", batch.StreamName)
	assert.Equal(t, "2026-01-02T03:04:05Z", batch.FetchedAt.Format(time.RFC3339))
	require.Len(t, batch.Records, 1)
	assert.Equal(t, "standup", batch.Records[0]["summary"])
}

func TestDecodeRawBatch_FallsBackToNowOnBadTimestamp(t *testing.T) {
	batch, err := DecodeRawBatch([]byte(`{"stream_name":"s","fetched_at":"not-a-time","records":[]}`))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), batch.FetchedAt, time.Minute)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("google_calendar")
	assert.False(t, ok)

	r.Register("google_calendar", &GoogleCalendarProcessor{})
	p, ok := r.Get("google_calendar")
	assert.True(t, ok)
	assert.IsType(t, &GoogleCalendarProcessor{}, p)
}

func testRegistry(signals ...registry.Signal) *registry.Registry {
	reg := &registry.Registry{Signals: make(map[string]registry.Signal)}
	for _, sig := range signals {
		reg.Signals[sig.Name] = sig
	}
	return reg
}

func TestGoogleCalendarProcessor_Process(t *testing.T) {
	reg := testRegistry(registry.Signal{
		Name: googleCalendarSignalName, Stream: "google_calendar_primary",
		ValueType: registry.ValueTypeEvent, Enabled: true,
		DedupStrategy: registry.DedupStrategyMultiple, FidelityScore: 0.98,
	})
	batch := &RawBatch{
		StreamName: "google_calendar_primary",
		Records: []map[string]interface{}{
			{
				"summary": "standup",
				"status":  "confirmed",
				"start":   map[string]interface{}{"dateTime": "2026-01-02T09:00:00Z"},
				"end":     map[string]interface{}{"dateTime": "2026-01-02T09:15:00Z"},
			},
		},
	}

	p := &GoogleCalendarProcessor{}
	out, err := p.Process(context.Background(), reg, batch)
	require.NoError(t, err)
	require.Len(t, out, 1)

	rec := out[0]
	assert.Equal(t, "google_calendar", rec.SourceName)
	assert.Equal(t, googleCalendarSignalName, rec.SignalName)
	assert.Equal(t, "standup", rec.ValueText)
	assert.Equal(t, "2026-01-02T09:00:00Z", rec.Timestamp.UTC().Format(time.RFC3339))
	assert.Equal(t, 0.98, rec.Confidence)

	var meta map[string]string
	require.NoError(t, json.Unmarshal([]byte(rec.SourceMetadata), &meta))
	assert.Equal(t, "confirmed", meta["status"])
	assert.Equal(t, "2026-01-02T09:15:00Z", meta["end"])
}

func TestGoogleCalendarProcessor_SkipsDisabledSignal(t *testing.T) {
	reg := testRegistry(registry.Signal{Name: googleCalendarSignalName, Enabled: false})
	batch := &RawBatch{Records: []map[string]interface{}{{"summary": "x"}}}

	p := &GoogleCalendarProcessor{}
	out, err := p.Process(context.Background(), reg, batch)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGoogleCalendarProcessor_SkipsMalformedEvent(t *testing.T) {
	reg := testRegistry(registry.Signal{Name: googleCalendarSignalName, Enabled: true, ValueType: registry.ValueTypeEvent})
	batch := &RawBatch{Records: []map[string]interface{}{{"summary": "no start"}}}

	p := &GoogleCalendarProcessor{}
	out, err := p.Process(context.Background(), reg, batch)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIOSLocationProcessor_FansOutThreeSignals(t *testing.T) {
	reg := testRegistry(
		registry.Signal{Name: "ios_speed", Enabled: true, ValueType: registry.ValueTypeContinuous, DedupStrategy: registry.DedupStrategySingle, FidelityScore: 1.0},
		registry.Signal{Name: "ios_coordinates", Enabled: true, ValueType: registry.ValueTypeSpatial, DedupStrategy: registry.DedupStrategySingle, FidelityScore: 1.0},
		registry.Signal{Name: "ios_altitude", Enabled: true, ValueType: registry.ValueTypeContinuous, DedupStrategy: registry.DedupStrategySingle, FidelityScore: 1.0},
	)
	batch := &RawBatch{Records: []map[string]interface{}{
		{
			"timestamp": "2026-01-02T09:00:00Z",
			"speed":     3.5,
			"altitude":  12.0,
			"latitude":  37.0,
			"longitude": -122.0,
		},
	}}

	p := &IOSLocationProcessor{}
	out, err := p.Process(context.Background(), reg, batch)
	require.NoError(t, err)
	require.Len(t, out, 3)

	bySignal := make(map[string]int)
	for i, rec := range out {
		bySignal[rec.SignalName] = i
	}

	coordRec := out[bySignal["ios_coordinates"]]
	var coordMeta map[string]float64
	require.NoError(t, json.Unmarshal([]byte(coordRec.SourceMetadata), &coordMeta))
	assert.InDelta(t, 37.0, coordMeta["latitude"], 0.0001)
	assert.InDelta(t, -122.0, coordMeta["longitude"], 0.0001)
	require.NotNil(t, coordRec.Latitude)
	require.NotNil(t, coordRec.Longitude)
	assert.InDelta(t, 37.0, *coordRec.Latitude, 0.0001)
	assert.InDelta(t, -122.0, *coordRec.Longitude, 0.0001)
	assert.Equal(t, 1.0, coordRec.Confidence)

	speedRec := out[bySignal["ios_speed"]]
	assert.Equal(t, 3.5, speedRec.Value)
	assert.JSONEq(t, `{"field":"speed"}`, speedRec.SourceMetadata)
}

func TestIOSLocationProcessor_SkipsRecordMissingTimestamp(t *testing.T) {
	reg := testRegistry(registry.Signal{Name: "ios_speed", Enabled: true})
	batch := &RawBatch{Records: []map[string]interface{}{{"speed": 1.0}}}

	p := &IOSLocationProcessor{}
	out, err := p.Process(context.Background(), reg, batch)
	require.NoError(t, err)
	assert.Empty(t, out)
}
