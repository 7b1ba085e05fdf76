package audit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildEvent_SuccessHasNoDescription(t *testing.T) {
	r := &Recorder{}
	event := r.buildEvent("task-1", "sync_stream", "completed", 5, nil)
	assert.Equal(t, "task-1", event.Identifier)
	assert.Empty(t, event.Description)
	assert.Equal(t, "completed", event.Result["status"])
	assert.Equal(t, 5, event.Result["recordsProcessed"])
}

func TestBuildEvent_FailureCarriesErrorDescription(t *testing.T) {
	r := &Recorder{}
	event := r.buildEvent("task-2", "process_stream_batch", "failed", 0, errors.New("boom"))
	assert.Equal(t, "boom", event.Description)
	assert.Equal(t, "failed", event.Result["status"])
}
