package processor

import (
	"context"
	"encoding/json"
	"time"

	"jaces.io/core/internal/registry"
	"jaces.io/core/internal/store"
)

// IOSLocationProcessor fans one location sample out into the
// ios_speed/ios_coordinates/ios_altitude signals, each deduplicated by bare
// timestamp (the "single" dedup strategy), grounded on
// original_source/sources/ios/location/.
type IOSLocationProcessor struct{}

var iosLocationSignals = []string{"ios_speed", "ios_coordinates", "ios_altitude"}

func (p *IOSLocationProcessor) Process(ctx context.Context, reg *registry.Registry, batch *RawBatch) ([]store.SignalRecord, error) {
	var out []store.SignalRecord

	for _, rec := range batch.Records {
		ts, err := sampleTimestamp(rec)
		if err != nil {
			continue
		}

		for _, signalName := range iosLocationSignals {
			sig, ok := reg.Signals[signalName]
			if !ok || !sig.Enabled {
				continue
			}

			sample, ok := valueFor(signalName, rec)
			if !ok {
				continue
			}

			key := idempotencyFor(sig.DedupStrategy, ts, rec)
			out = append(out, store.SignalRecord{
				SourceName:     "ios",
				SignalName:     signalName,
				IdempotencyKey: key,
				Timestamp:      ts,
				Value:          sample.Value,
				Confidence:     sig.FidelityScore,
				Latitude:       sample.Lat,
				Longitude:      sample.Lon,
				SourceMetadata: sample.Metadata,
			})
		}
	}
	return out, nil
}

func sampleTimestamp(rec map[string]interface{}) (time.Time, error) {
	ts, ok := stringField(rec, "timestamp")
	if !ok {
		return time.Time{}, errNoTimestamp
	}
	return time.Parse(time.RFC3339, ts)
}

var errNoTimestamp = &missingFieldError{field: "timestamp"}

type missingFieldError struct{ field string }

func (e *missingFieldError) Error() string { return "sample missing field: " + e.field }

// locationSample is one signal's normalized value plus, for spatial signals,
// the real latitude/longitude to persist in SignalRecord's own columns.
type locationSample struct {
	Value    float64
	Lat, Lon *float64
	Metadata string
}

func valueFor(signalName string, rec map[string]interface{}) (locationSample, bool) {
	switch signalName {
	case "ios_speed":
		v, ok := floatField(rec, "speed")
		return locationSample{Value: v, Metadata: `{"field":"speed"}`}, ok
	case "ios_altitude":
		v, ok := floatField(rec, "altitude")
		return locationSample{Value: v, Metadata: `{"field":"altitude"}`}, ok
	case "ios_coordinates":
		lat, latOK := floatField(rec, "latitude")
		lon, lonOK := floatField(rec, "longitude")
		if !latOK || !lonOK {
			return locationSample{}, false
		}
		// Value holds a single comparable magnitude for change-point input;
		// Lat/Lon carry the real coordinates for spatial consumers.
		meta, err := json.Marshal(map[string]float64{"latitude": lat, "longitude": lon})
		if err != nil {
			return locationSample{}, false
		}
		return locationSample{Value: lat*lat + lon*lon, Lat: &lat, Lon: &lon, Metadata: string(meta)}, true
	default:
		return locationSample{}, false
	}
}
