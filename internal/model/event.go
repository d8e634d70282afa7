package model

import (
	"encoding/json"
	"strings"
	"time"
)

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

func (t EventType) String() string { return string(t) }

func (t EventType) Valid() bool {
	return t == EventCreated || t == EventUpdated || t == EventDeleted
}

// ParseEventType normalizes input. Returns (value, true) if valid;
// otherwise (created, false).
func ParseEventType(s string) (EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created":
		return EventCreated, true
	case "updated":
		return EventUpdated, true
	case "deleted":
		return EventDeleted, true
	default:
		return EventCreated, false
	}
}

// MaxPayloadBytes caps the stored payload. Events carry identifiers and
// status, never entity bodies; subscribers re-fetch authoritative state.
const MaxPayloadBytes = 1024

// Event is one row in outbox_events. The ID is a ULID, so lexicographic
// order on it is creation order within a tenant.
type Event struct {
	ID               string          `db:"id"`
	OrganizationID   int64           `db:"organization_id"`
	Type             EventType       `db:"event_type"`
	EntityType       string          `db:"entity_type"` // e.g. "stock_item"
	EntityID         string          `db:"entity_id"`
	Payload          json.RawMessage `db:"payload"`
	CreatedAt        time.Time       `db:"created_at"`
	DeliveredAt      *time.Time      `db:"delivered_at"`
	DeliveryAttempts int             `db:"delivery_attempts"`
	LastError        *string         `db:"last_error"`
}

// Delivered reports whether the event has been published to subscribers.
// An event with a nil DeliveredAt is still owed to them.
func (e Event) Delivered() bool { return e.DeliveredAt != nil }
