package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thedusen/booksphere-web-sub002/internal/broadcast"
	"github.com/thedusen/booksphere-web-sub002/internal/metrics"
	"github.com/thedusen/booksphere-web-sub002/internal/model"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
)

// Dispatcher is the event processor: a stateless, restartable loop that
// polls undelivered events per tenant, publishes them to the fan-out, and
// checkpoints through the cursor store.
//
// All durable progress lives in outbox_cursors, so any number of instances
// can run concurrently; the cursor row lock serializes them per tenant and
// a losing instance skips rather than blocks.
type Dispatcher struct {
	// Dependencies
	Store     repository.DeliveryStore
	Broadcast broadcast.Broadcaster
	Log       *zap.Logger

	// Behavior
	ProcessorName string
	BatchSize     int           // max events per publish batch
	PollInterval  time.Duration // idle wait between tenant sweeps
	Workers       int           // concurrent tenants per sweep
}

// NewDispatcher builds a dispatcher with sane defaults.
func NewDispatcher(store repository.DeliveryStore, b broadcast.Broadcaster, log *zap.Logger, processorName string) *Dispatcher {
	return &Dispatcher{
		Store:         store,
		Broadcast:     b,
		Log:           log,
		ProcessorName: processorName,
		BatchSize:     100,
		PollInterval:  time.Second,
		Workers:       8,
	}
}

// Run sweeps tenants until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.ProcessorName == "" {
		return errors.New("dispatcher: empty processor name")
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 100
	}
	if d.PollInterval <= 0 {
		d.PollInterval = time.Second
	}
	if d.Workers <= 0 {
		d.Workers = 8
	}

	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Sweep(ctx); err != nil && ctx.Err() == nil {
				d.Log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep processes every tenant that currently has undelivered events, with
// bounded concurrency. Per-tenant failures are logged, not propagated: one
// tenant's broken publish must not stall the others.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	orgs, err := d.Store.ActiveTenants(ctx)
	if err != nil {
		return err
	}
	if len(orgs) == 0 {
		return nil
	}

	sem := make(chan struct{}, d.Workers)
	var wg sync.WaitGroup
	for _, org := range orgs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(org int64) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.ProcessTenant(ctx, org); err != nil && ctx.Err() == nil {
				d.Log.Warn("tenant delivery stopped",
					zap.Int64("organization_id", org),
					zap.Error(err))
			}
		}(org)
	}
	wg.Wait()
	return nil
}

// ProcessTenant drains one tenant's backlog batch by batch. Each batch is
// one acquire/publish/commit cycle; a publish failure stops the tenant for
// this sweep so ordering is preserved behind the failed batch.
func (d *Dispatcher) ProcessTenant(ctx context.Context, organizationID int64) error {
	for {
		n, err := d.deliverBatch(ctx, organizationID)
		if err != nil {
			return err
		}
		if n < d.BatchSize {
			return nil
		}
	}
}

// deliverBatch runs one critical section: lock cursor, poll, publish, mark
// delivered + advance cursor in one transaction. Returns how many events
// were delivered.
func (d *Dispatcher) deliverBatch(ctx context.Context, organizationID int64) (int, error) {
	sess, err := d.Store.Acquire(ctx, d.ProcessorName, organizationID)
	if errors.Is(err, repository.ErrCursorBusy) {
		// a peer instance is on it; not an error
		metrics.CursorSkipsTotal.Inc()
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() { _ = sess.Close() }()

	events, err := sess.Poll(ctx, d.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	batch := make([]model.Notification, len(events))
	ids := make([]string, len(events))
	for i, e := range events {
		batch[i] = model.NotificationFromEvent(e)
		ids[i] = e.ID
	}

	if perr := d.Broadcast.Publish(ctx, organizationID, batch); perr != nil {
		metrics.PublishFailuresTotal.WithLabelValues(d.Broadcast.Backend()).Inc()

		// Release the cursor lock before bookkeeping; attempts are
		// recorded in a fresh transaction since this one rolls back.
		_ = sess.Close()
		if rerr := d.Store.RecordFailure(ctx, ids, perr.Error()); rerr != nil {
			d.Log.Error("record failure", zap.Error(rerr),
				zap.Int64("organization_id", organizationID))
		}
		return 0, perr
	}

	lastID := ids[len(ids)-1]
	if err := sess.Complete(ctx, ids, lastID); err != nil {
		// Published but not committed: the next run redelivers this
		// batch. Acceptable under at-least-once.
		return 0, err
	}

	now := time.Now()
	for _, e := range events {
		metrics.DeliveryLatency.Observe(now.Sub(e.CreatedAt).Seconds())
	}
	metrics.EventsPublishedTotal.WithLabelValues(d.Broadcast.Backend()).Add(float64(len(events)))

	d.Log.Debug("batch delivered",
		zap.Int64("organization_id", organizationID),
		zap.Int("events", len(events)),
		zap.String("cursor", lastID))

	return len(events), nil
}
