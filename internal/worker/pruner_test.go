package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

func TestPruner_PruneOnce(t *testing.T) {
	outbox := new(MockOutboxRepository)
	dl := new(MockDeadLetterRepository)

	outbox.On("PruneDelivered", mock.Anything, 72*time.Hour, 5000).Return(int64(1000), nil)
	dl.On("PruneOld", mock.Anything, 14*24*time.Hour, 5000).Return(int64(12), nil)

	p := NewPruner(outbox, dl, zap.NewNop())
	res, err := p.PruneOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.EventsDeleted)
	assert.Equal(t, int64(12), res.DeadLettersDeleted)
	assert.GreaterOrEqual(t, res.Elapsed, time.Duration(0))
	outbox.AssertExpectations(t)
	dl.AssertExpectations(t)
}

func TestPruner_CustomWindowAndBatch(t *testing.T) {
	outbox := new(MockOutboxRepository)
	dl := new(MockDeadLetterRepository)

	outbox.On("PruneDelivered", mock.Anything, 24*time.Hour, 100).Return(int64(100), nil)
	dl.On("PruneOld", mock.Anything, 48*time.Hour, 100).Return(int64(0), nil)

	p := NewPruner(outbox, dl, zap.NewNop())
	p.Retention = 24 * time.Hour
	p.DeadLetterRetention = 48 * time.Hour
	p.MaxBatch = 100

	_, err := p.PruneOnce(context.Background())
	require.NoError(t, err)
	outbox.AssertExpectations(t)
}

func TestPruner_ErrorPropagates(t *testing.T) {
	outbox := new(MockOutboxRepository)
	dl := new(MockDeadLetterRepository)

	outbox.On("PruneDelivered", mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), errors.New("lock wait timeout"))

	p := NewPruner(outbox, dl, zap.NewNop())
	_, err := p.PruneOnce(context.Background())

	assert.Error(t, err)
	dl.AssertNotCalled(t, "PruneOld", mock.Anything, mock.Anything, mock.Anything)
}
