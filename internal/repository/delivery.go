package repository

import (
	"context"
	"database/sql"
	"errors"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
)

// ErrCursorBusy means another processor instance holds the cursor lock for
// this (processor, tenant). The caller skips the tenant this cycle.
var ErrCursorBusy = errors.New("cursor held by another processor instance")

// maxErrorLen bounds last_error so provider stack traces don't bloat rows.
const maxErrorLen = 512

// TenantSession is one locked delivery cycle for a single tenant. The
// cursor row lock is held from Acquire until Complete or Close, so the
// publish step runs under per-tenant mutual exclusion.
type TenantSession interface {
	Cursor() model.Cursor

	// Poll returns up to limit undelivered events past the cursor that are
	// still below the retry ceiling, oldest first by event id. Events at
	// the ceiling belong to the dead-letter migrator.
	Poll(ctx context.Context, limit int) ([]model.Event, error)

	// Complete marks the batch delivered and advances the cursor to
	// lastEventID in the same transaction, then commits. A crash between
	// publish and this commit redelivers the batch on the next run.
	Complete(ctx context.Context, eventIDs []string, lastEventID string) error

	// Close rolls back if Complete has not run. Safe to call twice.
	Close() error
}

// DeliveryStore is the event processor's view of the outbox tables.
type DeliveryStore interface {
	// ActiveTenants lists organizations that currently have undelivered
	// events.
	ActiveTenants(ctx context.Context) ([]int64, error)

	// Acquire locks the (processor, tenant) cursor row with lock-and-skip
	// semantics, creating it lazily on first use. Returns ErrCursorBusy
	// when a concurrent instance already holds it.
	Acquire(ctx context.Context, processorName string, organizationID int64) (TenantSession, error)

	// RecordFailure increments delivery_attempts and stores the failure
	// reason for the batch's events. Runs in its own transaction: the
	// delivery transaction has already rolled back by the time this runs.
	RecordFailure(ctx context.Context, eventIDs []string, reason string) error
}

type DeliveryStoreImpl struct {
	db *sqlx.DB

	// MaxAttempts is the retry ceiling. Events at or past it are left to
	// the dead-letter migrator rather than polled again, so the dispatcher
	// and the migrator never race over the same row.
	MaxAttempts int
}

func NewDeliveryStore(db *sqlx.DB) *DeliveryStoreImpl {
	return &DeliveryStoreImpl{db: db, MaxAttempts: 3}
}

func (s *DeliveryStoreImpl) ActiveTenants(ctx context.Context) ([]int64, error) {
	const q = `
		SELECT DISTINCT organization_id
		FROM outbox_events
		WHERE delivered_at IS NULL
		ORDER BY organization_id
	`
	var orgs []int64
	if err := s.db.SelectContext(ctx, &orgs, q); err != nil {
		return nil, err
	}
	return orgs, nil
}

const cursorLockQ = `
	SELECT processor_name, organization_id, last_processed_event_id, last_processed_at
	FROM outbox_cursors
	WHERE processor_name = ? AND organization_id = ?
	FOR UPDATE SKIP LOCKED
`

const cursorExistsQ = `
	SELECT 1 FROM outbox_cursors
	WHERE processor_name = ? AND organization_id = ?
`

func (s *DeliveryStoreImpl) Acquire(ctx context.Context, processorName string, organizationID int64) (TenantSession, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}

	cur, err := lockCursor(ctx, tx, processorName, organizationID)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	return &tenantSession{tx: tx, cursor: cur, maxAttempts: s.MaxAttempts}, nil
}

// lockCursor locks the cursor row, creating it first if it does not exist.
// SKIP LOCKED returns no row both when the row is missing and when a peer
// holds it. The two cases must be told apart with a plain read before any
// insert: INSERT IGNORE on an existing locked row waits on the peer's lock
// for the duplicate-key check, which would turn lock-and-skip into
// lock-and-block.
func lockCursor(ctx context.Context, tx *sqlx.Tx, processorName string, organizationID int64) (model.Cursor, error) {
	var cur model.Cursor
	err := tx.GetContext(ctx, &cur, cursorLockQ, processorName, organizationID)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Cursor{}, err
	}

	var one int
	err = tx.GetContext(ctx, &one, cursorExistsQ, processorName, organizationID)
	if err == nil {
		// row exists but the locking select missed it: a peer holds it
		return model.Cursor{}, ErrCursorBusy
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Cursor{}, err
	}

	if _, err := tx.ExecContext(ctx, cursorInsertQ, processorName, organizationID); err != nil {
		return model.Cursor{}, err
	}
	err = tx.GetContext(ctx, &cur, cursorLockQ, processorName, organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		// a peer created and locked the row first
		return model.Cursor{}, ErrCursorBusy
	}
	if err != nil {
		return model.Cursor{}, err
	}
	return cur, nil
}

func (s *DeliveryStoreImpl) RecordFailure(ctx context.Context, eventIDs []string, reason string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	reason = truncateReason(reason)
	const base = `
		UPDATE outbox_events
		SET delivery_attempts = delivery_attempts + 1, last_error = ?
		WHERE id IN (?) AND delivered_at IS NULL
	`
	q, args, err := sqlx.In(base, reason, eventIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(q), args...)
	return err
}

// truncateReason caps the stored failure reason without splitting a
// multi-byte rune; strict-mode MySQL rejects invalid UTF-8 for VARCHAR.
func truncateReason(s string) string {
	if len(s) <= maxErrorLen {
		return s
	}
	cut := maxErrorLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

type tenantSession struct {
	tx          *sqlx.Tx
	cursor      model.Cursor
	maxAttempts int
	done        bool
}

func (t *tenantSession) Cursor() model.Cursor { return t.cursor }

func (t *tenantSession) Poll(ctx context.Context, limit int) ([]model.Event, error) {
	const q = `
		SELECT id, organization_id, event_type, entity_type, entity_id, payload,
		       created_at, delivered_at, delivery_attempts, last_error
		FROM outbox_events
		WHERE organization_id = ?
		  AND delivered_at IS NULL
		  AND id > ?
		  AND delivery_attempts < ?
		ORDER BY id ASC
		LIMIT ?
	`
	var events []model.Event
	err := t.tx.SelectContext(ctx, &events, q,
		t.cursor.OrganizationID, t.cursor.LastProcessedEventID, t.maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (t *tenantSession) Complete(ctx context.Context, eventIDs []string, lastEventID string) error {
	if len(eventIDs) == 0 {
		return errors.New("complete called with empty batch")
	}

	const markBase = `UPDATE outbox_events SET delivered_at = NOW(3) WHERE id IN (?)`
	q, args, err := sqlx.In(markBase, eventIDs)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, t.tx.Rebind(q), args...); err != nil {
		return err
	}

	const advanceQ = `
		UPDATE outbox_cursors
		SET last_processed_event_id = ?, last_processed_at = NOW(3)
		WHERE processor_name = ? AND organization_id = ?
		  AND last_processed_event_id < ?
	`
	if _, err := t.tx.ExecContext(ctx, advanceQ,
		lastEventID, t.cursor.ProcessorName, t.cursor.OrganizationID, lastEventID); err != nil {
		return err
	}

	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.done = true
	return nil
}

func (t *tenantSession) Close() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
