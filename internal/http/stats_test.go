package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
)

// MockOutboxRepository is a mock implementation of repository.OutboxRepository
type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) Insert(ctx context.Context, tx *sqlx.Tx, e model.Event) error {
	args := m.Called(ctx, tx, e)
	return args.Error(0)
}

func (m *MockOutboxRepository) PruneDelivered(ctx context.Context, retention time.Duration, maxBatch int) (int64, error) {
	args := m.Called(ctx, retention, maxBatch)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxRepository) UndeliveredCounts(ctx context.Context) ([]repository.TenantCount, error) {
	args := m.Called(ctx)
	return args.Get(0).([]repository.TenantCount), args.Error(1)
}

func (m *MockOutboxRepository) OldestUndelivered(ctx context.Context) ([]repository.TenantOldest, error) {
	args := m.Called(ctx)
	return args.Get(0).([]repository.TenantOldest), args.Error(1)
}

func (m *MockOutboxRepository) AvgDeliveryLatency(ctx context.Context, window time.Duration) (time.Duration, bool, error) {
	args := m.Called(ctx, window)
	return args.Get(0).(time.Duration), args.Bool(1), args.Error(2)
}

// MockDeadLetterRepository is a mock implementation of repository.DeadLetterRepository
type MockDeadLetterRepository struct {
	mock.Mock
}

func (m *MockDeadLetterRepository) Migrate(ctx context.Context, maxAttempts, limit int) (int64, error) {
	args := m.Called(ctx, maxAttempts, limit)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDeadLetterRepository) CountSince(ctx context.Context, interval time.Duration) (int64, error) {
	args := m.Called(ctx, interval)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDeadLetterRepository) List(ctx context.Context, organizationID int64, limit int) ([]model.DeadLetterEvent, error) {
	args := m.Called(ctx, organizationID, limit)
	return args.Get(0).([]model.DeadLetterEvent), args.Error(1)
}

func (m *MockDeadLetterRepository) PruneOld(ctx context.Context, retention time.Duration, maxBatch int) (int64, error) {
	args := m.Called(ctx, retention, maxBatch)
	return args.Get(0).(int64), args.Error(1)
}

func doJSON(t *testing.T, h echo.HandlerFunc, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)

	require.NoError(t, h(c))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestPipelineStatsHandler(t *testing.T) {
	outbox := new(MockOutboxRepository)
	dl := new(MockDeadLetterRepository)

	outbox.On("UndeliveredCounts", mock.Anything).Return([]repository.TenantCount{
		{OrganizationID: 1, Count: 5},
		{OrganizationID: 2, Count: 3},
	}, nil)
	outbox.On("OldestUndelivered", mock.Anything).Return([]repository.TenantOldest{
		{OrganizationID: 1, OldestCreated: time.Now().Add(-10 * time.Minute)},
		{OrganizationID: 2, OldestCreated: time.Now().Add(-time.Minute)},
	}, nil)
	outbox.On("AvgDeliveryLatency", mock.Anything, time.Hour).Return(1500*time.Millisecond, true, nil)
	dl.On("CountSince", mock.Anything, time.Hour).Return(int64(4), nil)

	rec, out := doJSON(t, pipelineStatsHandler(outbox, dl), http.MethodGet, "/v1/stats/pipeline", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, out["dead_letters"])
	assert.InDelta(t, 1.5, out["avg_delivery_latency_seconds"], 0.001)

	tenants, ok := out["tenants"].([]any)
	require.True(t, ok)
	require.Len(t, tenants, 2)

	first := tenants[0].(map[string]any)
	assert.EqualValues(t, 1, first["organization_id"])
	assert.EqualValues(t, 5, first["undelivered"])
	assert.Greater(t, first["oldest_age_seconds"].(float64), 590.0)
}

func TestPipelineStatsHandler_NoDeliveriesInWindow(t *testing.T) {
	outbox := new(MockOutboxRepository)
	dl := new(MockDeadLetterRepository)

	outbox.On("UndeliveredCounts", mock.Anything).Return([]repository.TenantCount{}, nil)
	outbox.On("OldestUndelivered", mock.Anything).Return([]repository.TenantOldest{}, nil)
	outbox.On("AvgDeliveryLatency", mock.Anything, mock.Anything).Return(time.Duration(0), false, nil)
	dl.On("CountSince", mock.Anything, mock.Anything).Return(int64(0), nil)

	rec, out := doJSON(t, pipelineStatsHandler(outbox, dl), http.MethodGet, "/v1/stats/pipeline", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	_, present := out["avg_delivery_latency_seconds"]
	assert.False(t, present, "latency omitted when nothing was delivered")
}

func TestListDeadLettersHandler(t *testing.T) {
	dl := new(MockDeadLetterRepository)
	dl.On("List", mock.Anything, int64(9), 50).Return([]model.DeadLetterEvent{
		{ID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", OrganizationID: 9, FailureReason: "broker unreachable"},
	}, nil)

	rec, out := doJSON(t, listDeadLettersHandler(dl), http.MethodGet, "/v1/deadletters?organization_id=9", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, out["count"])
	dl.AssertExpectations(t)
}

func TestListDeadLettersHandler_InvalidOrg(t *testing.T) {
	dl := new(MockDeadLetterRepository)

	rec, _ := doJSON(t, listDeadLettersHandler(dl), http.MethodGet, "/v1/deadletters?organization_id=abc", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	dl.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything)
}
