// Package push implements the push-mode ingestion adapter: devices with a
// bcrypt-hashed token append raw batches directly, mirroring pull-mode
// sync's landing step without an OAuth round-trip.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"jaces.io/core/internal/objectstore"
	"jaces.io/core/internal/perr"
	"jaces.io/core/internal/store"
)

// Adapter accepts device-pushed raw batches for push-mode sources.
type Adapter struct {
	store   *store.Store
	objects *objectstore.Client
}

// New builds a push adapter.
func New(st *store.Store, objects *objectstore.Client) *Adapter {
	return &Adapter{store: st, objects: objects}
}

// HashDeviceToken bcrypt-hashes a device token for storage, the way
// auth/password.go hashes user passwords, applied to device credentials
// instead.
func HashDeviceToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing device token: %w", err)
	}
	return string(hash), nil
}

// authenticate checks a presented device token against the source's stored
// hash, never comparing plaintext, and returns the matched source row so
// callers can resolve its connection id.
func (a *Adapter) authenticate(ctx context.Context, sourceName, presentedToken string) (*store.SourceRow, error) {
	var row store.SourceRow
	err := a.store.DB().WithContext(ctx).Where("name = ?", sourceName).First(&row).Error
	if err != nil {
		return nil, perr.Wrap(perr.KindNotFound, perr.ErrSourceNotFound)
	}
	if row.DeviceTokenHash == "" {
		return nil, perr.Wrap(perr.KindAuth, perr.ErrAuthMissing)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(row.DeviceTokenHash), []byte(presentedToken)); err != nil {
		return nil, perr.Wrap(perr.KindAuth, fmt.Errorf("device token mismatch: %w", perr.ErrAuthExpired))
	}
	return &row, nil
}

// rawBatchDoc mirrors internal/sync's landed batch shape so processors read
// pull- and push-landed batches identically.
type rawBatchDoc struct {
	StreamName string                   `json:"stream_name"`
	DeviceID   string                   `json:"device_id"`
	FetchedAt  string                   `json:"fetched_at"`
	Records    []map[string]interface{} `json:"records"`
}

// AppendRawBatch validates the device token and device id, lands the batch
// in the object store under the same key layout pull-mode sync uses, and
// records a pipeline-activity row. Returns the object store key for callers
// that want to enqueue a processing task immediately.
func (a *Adapter) AppendRawBatch(ctx context.Context, sourceName, streamName, presentedToken, deviceID string, records []map[string]interface{}) (string, error) {
	row, err := a.authenticate(ctx, sourceName, presentedToken)
	if err != nil {
		return "", err
	}
	if deviceID == "" {
		return "", perr.Wrap(perr.KindValidation, perr.ErrDeviceIDMissing)
	}
	if len(records) == 0 {
		return "", perr.Wrap(perr.KindValidation, perr.ErrInvalidBatch)
	}

	now := time.Now()
	doc := rawBatchDoc{
		StreamName: streamName,
		DeviceID:   deviceID,
		FetchedAt:  now.UTC().Format(time.RFC3339Nano),
		Records:    records,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshaling pushed batch: %w", err)
	}

	connectionID := fmt.Sprintf("%d", row.ID)
	key := objectstore.RawBatchKey(sourceName, now.Year(), int(now.Month()), now.Day(), connectionID, uuid.NewString())
	if err := a.objects.Put(ctx, key, payload, "application/json"); err != nil {
		return "", fmt.Errorf("landing pushed batch: %w", err)
	}

	if err := a.recordActivity(ctx, sourceName, streamName, len(records)); err != nil {
		return "", err
	}

	return key, nil
}

func (a *Adapter) recordActivity(ctx context.Context, sourceName, streamName string, recordCount int) error {
	row := store.PipelineActivity{
		TaskID:           fmt.Sprintf("push-%s-%s-%d", sourceName, streamName, time.Now().UnixNano()),
		TaskKind:         "push_append",
		SourceName:       sourceName,
		StreamName:       streamName,
		Status:           "completed",
		StartedAt:        time.Now(),
		RecordsProcessed: recordCount,
	}
	completedAt := time.Now()
	row.CompletedAt = &completedAt

	err := a.store.DB().WithContext(ctx).Create(&row).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return fmt.Errorf("recording push activity: %w", err)
	}
	return nil
}
