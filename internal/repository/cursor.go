package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
)

// ErrStaleCursor is returned when an advance would move the cursor
// backwards. The cursor only ever moves forward.
var ErrStaleCursor = errors.New("cursor advance would move backwards")

// CursorRepository manages outbox_cursors checkpoints for operational
// tooling. The delivery hot path locks cursors through DeliveryStore.
type CursorRepository interface {
	// GetOrCreate returns the cursor for (processor, tenant), creating it
	// lazily on first use.
	GetOrCreate(ctx context.Context, processorName string, organizationID int64) (model.Cursor, error)

	// Advance moves the cursor forward to eventID. Moving backwards fails
	// with ErrStaleCursor.
	Advance(ctx context.Context, processorName string, organizationID int64, eventID string) error
}

type CursorRepositoryImpl struct {
	db *sqlx.DB
}

func NewCursorRepository(db *sqlx.DB) *CursorRepositoryImpl {
	return &CursorRepositoryImpl{db: db}
}

const cursorInsertQ = `
	INSERT IGNORE INTO outbox_cursors
	    (processor_name, organization_id, last_processed_event_id, last_processed_at)
	VALUES (?, ?, '', NOW(3))
`

const cursorSelectQ = `
	SELECT processor_name, organization_id, last_processed_event_id, last_processed_at
	FROM outbox_cursors
	WHERE processor_name = ? AND organization_id = ?
`

func (r *CursorRepositoryImpl) GetOrCreate(ctx context.Context, processorName string, organizationID int64) (model.Cursor, error) {
	var cur model.Cursor
	err := r.db.GetContext(ctx, &cur, cursorSelectQ, processorName, organizationID)
	if err == nil {
		return cur, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.Cursor{}, err
	}

	if _, err := r.db.ExecContext(ctx, cursorInsertQ, processorName, organizationID); err != nil {
		return model.Cursor{}, err
	}
	if err := r.db.GetContext(ctx, &cur, cursorSelectQ, processorName, organizationID); err != nil {
		return model.Cursor{}, err
	}
	return cur, nil
}

func (r *CursorRepositoryImpl) Advance(ctx context.Context, processorName string, organizationID int64, eventID string) error {
	const q = `
		UPDATE outbox_cursors
		SET last_processed_event_id = ?, last_processed_at = NOW(3)
		WHERE processor_name = ? AND organization_id = ?
		  AND last_processed_event_id < ?
	`
	res, err := r.db.ExecContext(ctx, q, eventID, processorName, organizationID, eventID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// either no such cursor or eventID is not past it
		cur, err := r.GetOrCreate(ctx, processorName, organizationID)
		if err != nil {
			return err
		}
		if cur.LastProcessedEventID >= eventID {
			return ErrStaleCursor
		}
		return r.Advance(ctx, processorName, organizationID, eventID)
	}
	return nil
}
