// Package broadcast publishes minimal event payloads to per-tenant
// channels. It is a pure transport step: no retries, no business logic.
// Retry lives in the event processor, which does not advance its cursor
// when a publish fails.
package broadcast

import (
	"context"
	"strconv"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
)

// Broadcaster sends one batch to the channel of a single tenant.
type Broadcaster interface {
	// Publish sends every notification in the batch, in order, to the
	// tenant's channel. An error means the batch must be considered
	// unpublished as a whole.
	Publish(ctx context.Context, organizationID int64, batch []model.Notification) error

	// Backend names the transport for logs and metrics.
	Backend() string

	Close() error
}

// ChannelFor derives the channel name from the organization id alone, one
// channel per tenant. Nothing else may feed into the name: the routing key
// is the tenant isolation boundary.
func ChannelFor(prefix string, organizationID int64) string {
	return prefix + strconv.FormatInt(organizationID, 10)
}
