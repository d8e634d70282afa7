package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/thedusen/booksphere-web-sub002/internal/metrics"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
)

// Pruner deletes delivered events past the retention window, and sweeps
// old dead letters on a longer window. Deletes run in bounded batches to
// avoid long-held locks; undelivered events are never touched.
type Pruner struct {
	Outbox      repository.OutboxRepository
	DeadLetters repository.DeadLetterRepository
	Log         *zap.Logger

	Retention           time.Duration // default 72h
	DeadLetterRetention time.Duration // default 336h
	MaxBatch            int           // default 5000
	Interval            time.Duration // default 1h
}

func NewPruner(outbox repository.OutboxRepository, dl repository.DeadLetterRepository, log *zap.Logger) *Pruner {
	return &Pruner{
		Outbox:              outbox,
		DeadLetters:         dl,
		Log:                 log,
		Retention:           72 * time.Hour,
		DeadLetterRetention: 14 * 24 * time.Hour,
		MaxBatch:            5000,
		Interval:            time.Hour,
	}
}

// Run prunes on a ticker until ctx is cancelled. Failures are logged and
// retried on the next tick; the pruner never blocks delivery.
func (p *Pruner) Run(ctx context.Context) error {
	if p.Retention <= 0 {
		p.Retention = 72 * time.Hour
	}
	if p.DeadLetterRetention <= 0 {
		p.DeadLetterRetention = 14 * 24 * time.Hour
	}
	if p.MaxBatch <= 0 {
		p.MaxBatch = 5000
	}
	if p.Interval <= 0 {
		p.Interval = time.Hour
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.PruneOnce(ctx); err != nil && ctx.Err() == nil {
				p.Log.Error("prune failed", zap.Error(err))
			}
		}
	}
}

// PruneResult reports one pruner invocation for observability.
type PruneResult struct {
	EventsDeleted      int64         `json:"events_deleted"`
	DeadLettersDeleted int64         `json:"dead_letters_deleted"`
	Elapsed            time.Duration `json:"elapsed"`
}

// PruneOnce runs a single bounded prune pass over both tables.
func (p *Pruner) PruneOnce(ctx context.Context) (PruneResult, error) {
	start := time.Now()

	deleted, err := p.Outbox.PruneDelivered(ctx, p.Retention, p.MaxBatch)
	if err != nil {
		return PruneResult{}, err
	}
	metrics.PrunedRowsTotal.WithLabelValues("events").Add(float64(deleted))

	dlDeleted, err := p.DeadLetters.PruneOld(ctx, p.DeadLetterRetention, p.MaxBatch)
	if err != nil {
		return PruneResult{}, err
	}
	metrics.PrunedRowsTotal.WithLabelValues("dead_letters").Add(float64(dlDeleted))

	res := PruneResult{
		EventsDeleted:      deleted,
		DeadLettersDeleted: dlDeleted,
		Elapsed:            time.Since(start),
	}

	p.Log.Info("prune pass",
		zap.Int64("events_deleted", res.EventsDeleted),
		zap.Int64("dead_letters_deleted", res.DeadLettersDeleted),
		zap.Duration("elapsed", res.Elapsed))

	return res, nil
}
