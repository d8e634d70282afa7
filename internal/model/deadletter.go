package model

import (
	"encoding/json"
	"time"
)

// DeadLetterEvent is a quarantined copy of an Event whose delivery attempts
// exceeded the retry ceiling. The original row is removed from outbox_events
// so it cannot block the tenant's cursor.
type DeadLetterEvent struct {
	ID               string          `db:"id"`
	OrganizationID   int64           `db:"organization_id"`
	Type             EventType       `db:"event_type"`
	EntityType       string          `db:"entity_type"`
	EntityID         string          `db:"entity_id"`
	Payload          json.RawMessage `db:"payload"`
	CreatedAt        time.Time       `db:"created_at"`
	DeliveryAttempts int             `db:"delivery_attempts"`
	FailureReason    string          `db:"failure_reason"`
	MovedAt          time.Time       `db:"moved_at"`
}
