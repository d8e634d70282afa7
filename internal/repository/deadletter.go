package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
)

// DeadLetterRepository quarantines events whose delivery attempts exceeded
// the retry ceiling, and serves dead-letter housekeeping.
type DeadLetterRepository interface {
	// Migrate copies events with delivery_attempts >= maxAttempts and no
	// delivered_at into outbox_dead_letters and deletes the originals, in
	// one transaction, at most limit rows. Re-running finds nothing once
	// migrated. Returns the number of events moved.
	Migrate(ctx context.Context, maxAttempts, limit int) (int64, error)

	// CountSince returns how many events were dead-lettered in the
	// trailing interval.
	CountSince(ctx context.Context, interval time.Duration) (int64, error)

	// List returns recent dead letters for a tenant, newest first.
	List(ctx context.Context, organizationID int64, limit int) ([]model.DeadLetterEvent, error)

	// PruneOld deletes dead letters older than the retention window, in
	// bounded batches.
	PruneOld(ctx context.Context, retention time.Duration, maxBatch int) (int64, error)
}

type DeadLetterRepositoryImpl struct {
	db *sqlx.DB
}

func NewDeadLetterRepository(db *sqlx.DB) *DeadLetterRepositoryImpl {
	return &DeadLetterRepositoryImpl{db: db}
}

func (r *DeadLetterRepositoryImpl) Migrate(ctx context.Context, maxAttempts, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the candidate rows so a concurrent migrator run skips them
	// instead of double-copying.
	const selectQ = `
		SELECT id FROM outbox_events
		WHERE delivery_attempts >= ? AND delivered_at IS NULL
		ORDER BY id
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`
	var ids []string
	if err := tx.SelectContext(ctx, &ids, selectQ, maxAttempts, limit); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, tx.Commit()
	}

	const copyQ = `
		INSERT IGNORE INTO outbox_dead_letters
		    (id, organization_id, event_type, entity_type, entity_id, payload,
		     created_at, delivery_attempts, failure_reason, moved_at)
		SELECT id, organization_id, event_type, entity_type, entity_id, payload,
		       created_at, delivery_attempts, COALESCE(last_error, 'unknown'), NOW(3)
		FROM outbox_events
		WHERE id IN (?)
	`
	q, args, err := sqlx.In(copyQ, ids)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, r.db.Rebind(q), args...); err != nil {
		return 0, err
	}

	const deleteQ = `DELETE FROM outbox_events WHERE id IN (?)`
	q, args, err = sqlx.In(deleteQ, ids)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return 0, err
	}
	moved, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *DeadLetterRepositoryImpl) CountSince(ctx context.Context, interval time.Duration) (int64, error) {
	const q = `
		SELECT COUNT(*) FROM outbox_dead_letters
		WHERE moved_at > NOW(3) - INTERVAL ? SECOND
	`
	var n int64
	if err := r.db.GetContext(ctx, &n, q, int64(interval.Seconds())); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *DeadLetterRepositoryImpl) List(ctx context.Context, organizationID int64, limit int) ([]model.DeadLetterEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	const q = `
		SELECT id, organization_id, event_type, entity_type, entity_id, payload,
		       created_at, delivery_attempts, failure_reason, moved_at
		FROM outbox_dead_letters
		WHERE organization_id = ?
		ORDER BY moved_at DESC
		LIMIT ?
	`
	var rows []model.DeadLetterEvent
	if err := r.db.SelectContext(ctx, &rows, q, organizationID, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *DeadLetterRepositoryImpl) PruneOld(ctx context.Context, retention time.Duration, maxBatch int) (int64, error) {
	const q = `
		DELETE FROM outbox_dead_letters
		WHERE moved_at < NOW(3) - INTERVAL ? SECOND
		LIMIT ?
	`
	res, err := r.db.ExecContext(ctx, q, int64(retention.Seconds()), maxBatch)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
