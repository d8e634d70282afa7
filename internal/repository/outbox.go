package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
)

// TenantCount is an undelivered-event count for one tenant.
type TenantCount struct {
	OrganizationID int64 `db:"organization_id"`
	Count          int64 `db:"cnt"`
}

// TenantOldest is the oldest undelivered event time for one tenant.
type TenantOldest struct {
	OrganizationID int64     `db:"organization_id"`
	OldestCreated  time.Time `db:"oldest_created"`
}

// OutboxRepository defines persistence methods for the outbox_events table.
type OutboxRepository interface {
	// Insert writes a single event row. If tx is nil, it opens/commits an
	// internal transaction; otherwise it uses the given tx, so the event
	// commits or rolls back together with the caller's mutation.
	Insert(ctx context.Context, tx *sqlx.Tx, e model.Event) error

	// PruneDelivered deletes at most maxBatch delivered events older than
	// the retention window. Undelivered rows are excluded by the WHERE
	// clause, never by caller discipline.
	PruneDelivered(ctx context.Context, retention time.Duration, maxBatch int) (int64, error)

	// Read-only aggregates for the operational surface.
	UndeliveredCounts(ctx context.Context) ([]TenantCount, error)
	OldestUndelivered(ctx context.Context) ([]TenantOldest, error)
	AvgDeliveryLatency(ctx context.Context, window time.Duration) (time.Duration, bool, error)
}

// OutboxRepositoryImpl is a sqlx-backed implementation.
type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

// NewOutboxRepository constructs an OutboxRepositoryImpl.
func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func (r *OutboxRepositoryImpl) withTx(ctx context.Context, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, e model.Event) error {
	const q = `
		INSERT INTO outbox_events
		    (id, organization_id, event_type, entity_type, entity_id, payload, created_at, delivery_attempts)
		VALUES
		    (?,  ?,               ?,          ?,           ?,         ?,       NOW(3),     0)
	`
	return r.withTx(ctx, tx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			e.ID, e.OrganizationID, e.Type.String(), e.EntityType, e.EntityID, []byte(e.Payload),
		)
		return err
	})
}

func (r *OutboxRepositoryImpl) PruneDelivered(ctx context.Context, retention time.Duration, maxBatch int) (int64, error) {
	const q = `
		DELETE FROM outbox_events
		WHERE delivered_at IS NOT NULL
		  AND delivered_at < NOW(3) - INTERVAL ? SECOND
		LIMIT ?
	`
	res, err := r.db.ExecContext(ctx, q, int64(retention.Seconds()), maxBatch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *OutboxRepositoryImpl) UndeliveredCounts(ctx context.Context) ([]TenantCount, error) {
	const q = `
		SELECT organization_id, COUNT(*) AS cnt
		FROM outbox_events
		WHERE delivered_at IS NULL
		GROUP BY organization_id
		ORDER BY organization_id
	`
	var rows []TenantCount
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) OldestUndelivered(ctx context.Context) ([]TenantOldest, error) {
	const q = `
		SELECT organization_id, MIN(created_at) AS oldest_created
		FROM outbox_events
		WHERE delivered_at IS NULL
		GROUP BY organization_id
		ORDER BY organization_id
	`
	var rows []TenantOldest
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	return rows, nil
}

// AvgDeliveryLatency returns the mean created->delivered latency over the
// trailing window. The bool is false when no events were delivered in it.
func (r *OutboxRepositoryImpl) AvgDeliveryLatency(ctx context.Context, window time.Duration) (time.Duration, bool, error) {
	const q = `
		SELECT AVG(TIMESTAMPDIFF(MICROSECOND, created_at, delivered_at))
		FROM outbox_events
		WHERE delivered_at IS NOT NULL
		  AND delivered_at > NOW(3) - INTERVAL ? SECOND
	`
	var micros *float64
	if err := r.db.QueryRowxContext(ctx, q, int64(window.Seconds())).Scan(&micros); err != nil {
		return 0, false, err
	}
	if micros == nil {
		return 0, false, nil
	}
	return time.Duration(*micros) * time.Microsecond, true, nil
}
