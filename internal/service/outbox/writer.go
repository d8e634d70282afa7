// Package outbox provides the transactional hook that records a state
// change in the same transaction as the mutation that caused it. An event
// exists if and only if the mutation committed.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
	"github.com/thedusen/booksphere-web-sub002/internal/repository"
	"github.com/thedusen/booksphere-web-sub002/internal/util"
)

var (
	// ErrNoTransaction is returned when Append is called without a caller
	// transaction. The whole point of the outbox is atomicity with the
	// mutation, so a standalone insert is refused.
	ErrNoTransaction = errors.New("outbox: append requires the mutation's transaction")

	ErrPayloadTooLarge = errors.New("outbox: payload exceeds budget")
	ErrInvalidEvent    = errors.New("outbox: invalid event")
)

// Writer appends events to the outbox inside domain transactions.
type Writer struct {
	db     *sqlx.DB
	outbox repository.OutboxRepository
}

func NewWriter(db *sqlx.DB, outboxRepo repository.OutboxRepository) *Writer {
	return &Writer{db: db, outbox: outboxRepo}
}

// NewEvent builds an event row for a watched-entity change: ULID id,
// identifiers-only payload. Payload may be nil.
func NewEvent(organizationID int64, eventType model.EventType, entityType, entityID string, payload json.RawMessage) model.Event {
	return model.Event{
		ID:             util.New(),
		OrganizationID: organizationID,
		Type:           eventType,
		EntityType:     entityType,
		EntityID:       entityID,
		Payload:        payload,
	}
}

func validate(e model.Event) error {
	if e.OrganizationID <= 0 {
		return fmt.Errorf("%w: organization_id %d", ErrInvalidEvent, e.OrganizationID)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: event_type %q", ErrInvalidEvent, e.Type)
	}
	if e.EntityType == "" || e.EntityID == "" {
		return fmt.Errorf("%w: empty entity reference", ErrInvalidEvent)
	}
	if len(e.Payload) > model.MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(e.Payload))
	}
	return nil
}

// Append inserts the event using the caller's transaction. Any error must
// fail the enclosing mutation: the caller rolls back, and no committed
// mutation can exist without its event.
func (w *Writer) Append(ctx context.Context, tx *sqlx.Tx, e model.Event) error {
	if tx == nil {
		return ErrNoTransaction
	}
	if err := validate(e); err != nil {
		return err
	}
	if err := w.outbox.Insert(ctx, tx, e); err != nil {
		return fmt.Errorf("outbox insert: %w", err)
	}
	return nil
}

// WithMutation runs the domain mutation and appends the events it returns
// in one transaction. If the mutation or any append fails, everything
// rolls back.
func (w *Writer) WithMutation(ctx context.Context, mutate func(tx *sqlx.Tx) ([]model.Event, error)) error {
	tx, err := w.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	events, err := mutate(tx)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := w.Append(ctx, tx, e); err != nil {
			return err
		}
	}

	return tx.Commit()
}
