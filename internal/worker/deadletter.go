package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/thedusen/booksphere-web-sub002/internal/metrics"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
)

// DeadLetterManager quarantines events whose delivery attempts passed the
// retry ceiling. Without it a single poison event would block its tenant's
// cursor forever, starving every event behind it.
type DeadLetterManager struct {
	DeadLetters repository.DeadLetterRepository
	Log         *zap.Logger

	MaxAttempts int           // default 3
	Batch       int           // default 500
	Interval    time.Duration // default 30s
}

func NewDeadLetterManager(dl repository.DeadLetterRepository, log *zap.Logger) *DeadLetterManager {
	return &DeadLetterManager{
		DeadLetters: dl,
		Log:         log,
		MaxAttempts: 3,
		Batch:       500,
		Interval:    30 * time.Second,
	}
}

// Run migrates on a ticker until ctx is cancelled. Migration is idempotent,
// so a failure here is just retried next tick.
func (m *DeadLetterManager) Run(ctx context.Context) error {
	if m.MaxAttempts <= 0 {
		m.MaxAttempts = 3
	}
	if m.Batch <= 0 {
		m.Batch = 500
	}
	if m.Interval <= 0 {
		m.Interval = 30 * time.Second
	}

	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.MigrateOnce(ctx); err != nil && ctx.Err() == nil {
				m.Log.Error("dead-letter migration failed", zap.Error(err))
			}
		}
	}
}

// MigrateOnce moves one bounded batch of exceeded events to the dead-letter
// table. Returns how many events moved.
func (m *DeadLetterManager) MigrateOnce(ctx context.Context) (int64, error) {
	moved, err := m.DeadLetters.Migrate(ctx, m.MaxAttempts, m.Batch)
	if err != nil {
		return 0, err
	}
	if moved > 0 {
		metrics.DeadLetteredTotal.Add(float64(moved))
		m.Log.Warn("events quarantined",
			zap.Int64("moved", moved),
			zap.Int("max_attempts", m.MaxAttempts))
	}
	return moved, nil
}
