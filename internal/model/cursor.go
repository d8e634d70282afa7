package model

import "time"

// Cursor is the durable delivery checkpoint for one (processor, tenant)
// pair. LastProcessedEventID only moves forward; an empty string sorts
// before every ULID and means "nothing processed yet".
type Cursor struct {
	ProcessorName        string    `db:"processor_name"`
	OrganizationID       int64     `db:"organization_id"`
	LastProcessedEventID string    `db:"last_processed_event_id"`
	LastProcessedAt      time.Time `db:"last_processed_at"`
}
