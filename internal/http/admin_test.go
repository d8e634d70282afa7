package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/thedusen/booksphere-web-sub002/internal/config"
	"github.com/thedusen/booksphere-web-sub002/internal/model"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
)

// MockCursorRepository is a mock implementation of repository.CursorRepository
type MockCursorRepository struct {
	mock.Mock
}

func (m *MockCursorRepository) GetOrCreate(ctx context.Context, processorName string, organizationID int64) (model.Cursor, error) {
	args := m.Called(ctx, processorName, organizationID)
	return args.Get(0).(model.Cursor), args.Error(1)
}

func (m *MockCursorRepository) Advance(ctx context.Context, processorName string, organizationID int64, eventID string) error {
	args := m.Called(ctx, processorName, organizationID, eventID)
	return args.Error(0)
}

func retentionDefaults() config.RetentionConfig {
	return config.RetentionConfig{
		Window:           72 * time.Hour,
		DeadLetterWindow: 14 * 24 * time.Hour,
		MaxBatch:         5000,
	}
}

func TestPruneHandler_Defaults(t *testing.T) {
	outbox := new(MockOutboxRepository)
	dl := new(MockDeadLetterRepository)

	outbox.On("PruneDelivered", mock.Anything, 72*time.Hour, 5000).Return(int64(120), nil)
	dl.On("PruneOld", mock.Anything, 14*24*time.Hour, 5000).Return(int64(7), nil)

	rec, out := doJSON(t, pruneHandler(outbox, dl, retentionDefaults()), http.MethodPost, "/v1/admin/prune", `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 120, out["events_deleted"])
	assert.EqualValues(t, 7, out["dead_letters_deleted"])
	outbox.AssertExpectations(t)
	dl.AssertExpectations(t)
}

func TestPruneHandler_RequestOverridesDefaults(t *testing.T) {
	outbox := new(MockOutboxRepository)
	dl := new(MockDeadLetterRepository)

	outbox.On("PruneDelivered", mock.Anything, 24*time.Hour, 100).Return(int64(100), nil)
	dl.On("PruneOld", mock.Anything, 14*24*time.Hour, 100).Return(int64(0), nil)

	rec, _ := doJSON(t, pruneHandler(outbox, dl, retentionDefaults()), http.MethodPost,
		"/v1/admin/prune", `{"retention_hours":24,"max_batch":100}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	outbox.AssertExpectations(t)
}

func TestMigrateDeadLettersHandler(t *testing.T) {
	dl := new(MockDeadLetterRepository)
	dl.On("Migrate", mock.Anything, 3, 500).Return(int64(2), nil)

	defaults := config.RetryConfig{MaxAttempts: 3, MigrateBatch: 500}
	rec, out := doJSON(t, migrateDeadLettersHandler(dl, defaults), http.MethodPost,
		"/v1/admin/deadletter/migrate", `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, out["moved"])
	assert.EqualValues(t, 3, out["max_attempts"])
}

func TestMigrateDeadLettersHandler_CeilingOverride(t *testing.T) {
	dl := new(MockDeadLetterRepository)
	dl.On("Migrate", mock.Anything, 5, 500).Return(int64(0), nil)

	defaults := config.RetryConfig{MaxAttempts: 3, MigrateBatch: 500}
	rec, _ := doJSON(t, migrateDeadLettersHandler(dl, defaults), http.MethodPost,
		"/v1/admin/deadletter/migrate", `{"max_attempts":5}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	dl.AssertExpectations(t)
}

func TestGetOrCreateCursorHandler(t *testing.T) {
	cursors := new(MockCursorRepository)
	cursors.On("GetOrCreate", mock.Anything, "realtime-dispatcher", int64(7)).Return(model.Cursor{
		ProcessorName:        "realtime-dispatcher",
		OrganizationID:       7,
		LastProcessedEventID: "",
		LastProcessedAt:      time.Now(),
	}, nil)

	rec, out := doJSON(t, getOrCreateCursorHandler(cursors), http.MethodPost,
		"/v1/admin/cursors", `{"processor_name":"realtime-dispatcher","organization_id":7}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", out["last_processed_event_id"], "fresh cursor starts before all event ids")
}

func TestGetOrCreateCursorHandler_InvalidPayload(t *testing.T) {
	cursors := new(MockCursorRepository)

	rec, _ := doJSON(t, getOrCreateCursorHandler(cursors), http.MethodPost,
		"/v1/admin/cursors", `{"processor_name":"","organization_id":7}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	cursors.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdvanceCursorHandler(t *testing.T) {
	const id = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

	cursors := new(MockCursorRepository)
	cursors.On("Advance", mock.Anything, "realtime-dispatcher", int64(7), id).Return(nil)

	rec, out := doJSON(t, advanceCursorHandler(cursors), http.MethodPut,
		"/v1/admin/cursors", `{"processor_name":"realtime-dispatcher","organization_id":7,"event_id":"`+id+`"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["advanced"])
}

func TestAdvanceCursorHandler_RejectsMalformedID(t *testing.T) {
	cursors := new(MockCursorRepository)

	rec, _ := doJSON(t, advanceCursorHandler(cursors), http.MethodPut,
		"/v1/admin/cursors", `{"processor_name":"realtime-dispatcher","organization_id":7,"event_id":"not-a-ulid"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	cursors.AssertNotCalled(t, "Advance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAdvanceCursorHandler_StaleCursorConflicts(t *testing.T) {
	const id = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

	cursors := new(MockCursorRepository)
	cursors.On("Advance", mock.Anything, "realtime-dispatcher", int64(7), id).Return(repository.ErrStaleCursor)

	rec, _ := doJSON(t, advanceCursorHandler(cursors), http.MethodPut,
		"/v1/admin/cursors", `{"processor_name":"realtime-dispatcher","organization_id":7,"event_id":"`+id+`"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
}
