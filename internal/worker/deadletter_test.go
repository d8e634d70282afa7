package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeadLetterManager_MigrateOnce(t *testing.T) {
	dl := new(MockDeadLetterRepository)
	dl.On("Migrate", mock.Anything, 3, 500).Return(int64(7), nil)

	m := NewDeadLetterManager(dl, zap.NewNop())
	moved, err := m.MigrateOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(7), moved)
	dl.AssertExpectations(t)
}

func TestDeadLetterManager_CustomCeiling(t *testing.T) {
	dl := new(MockDeadLetterRepository)
	dl.On("Migrate", mock.Anything, 5, 200).Return(int64(0), nil)

	m := NewDeadLetterManager(dl, zap.NewNop())
	m.MaxAttempts = 5
	m.Batch = 200

	moved, err := m.MigrateOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, moved)
	dl.AssertExpectations(t)
}

func TestDeadLetterManager_MigrateIdempotentWhenEmpty(t *testing.T) {
	dl := new(MockDeadLetterRepository)
	// once migrated, a rerun finds nothing
	dl.On("Migrate", mock.Anything, 3, 500).Return(int64(4), nil).Once()
	dl.On("Migrate", mock.Anything, 3, 500).Return(int64(0), nil)

	m := NewDeadLetterManager(dl, zap.NewNop())

	moved, err := m.MigrateOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), moved)

	moved, err = m.MigrateOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, moved)
}

func TestDeadLetterManager_ErrorPropagates(t *testing.T) {
	dl := new(MockDeadLetterRepository)
	dl.On("Migrate", mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), errors.New("deadlock found"))

	m := NewDeadLetterManager(dl, zap.NewNop())
	_, err := m.MigrateOnce(context.Background())
	assert.Error(t, err)
}
