package model

// Notification is the message published on a tenant channel. It carries
// identifiers only; subscribers re-fetch authoritative state by id and use
// EventID for client-side dedup under at-least-once delivery.
type Notification struct {
	EventID        string    `json:"event_id"`
	EventType      EventType `json:"event_type"`
	EntityType     string    `json:"entity_type"`
	EntityID       string    `json:"entity_id"`
	OrganizationID int64     `json:"organization_id"`
}

// NotificationFromEvent projects an outbox row down to the publish shape.
func NotificationFromEvent(e Event) Notification {
	return Notification{
		EventID:        e.ID,
		EventType:      e.Type,
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		OrganizationID: e.OrganizationID,
	}
}
