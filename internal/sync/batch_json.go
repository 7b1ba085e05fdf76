package sync

import "encoding/json"

// rawBatchDoc is the JSON shape landed in the object store for a synced
// batch, matching the push adapter's own envelope so stream processors
// read both the same way.
type rawBatchDoc struct {
	StreamName string                   `json:"stream_name"`
	FetchedAt  string                   `json:"fetched_at"`
	Records    []map[string]interface{} `json:"records"`
}

func marshalBatch(b *Batch) ([]byte, error) {
	doc := rawBatchDoc{
		StreamName: b.StreamName,
		FetchedAt:  b.FetchedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		Records:    b.Records,
	}
	return json.Marshal(doc)
}
