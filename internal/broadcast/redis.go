package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
)

// RedisBroadcaster publishes notifications over Redis pub/sub, one channel
// per tenant. Dashboards subscribe to their own channel only.
type RedisBroadcaster struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisBroadcaster(rdb *redis.Client, channelPrefix string) *RedisBroadcaster {
	if channelPrefix == "" {
		channelPrefix = "events:org:"
	}
	return &RedisBroadcaster{rdb: rdb, prefix: channelPrefix}
}

func (b *RedisBroadcaster) Backend() string { return "redis" }

func (b *RedisBroadcaster) Publish(ctx context.Context, organizationID int64, batch []model.Notification) error {
	if len(batch) == 0 {
		return nil
	}
	channel := ChannelFor(b.prefix, organizationID)

	pipe := b.rdb.Pipeline()
	for _, n := range batch {
		body, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification %s: %w", n.EventID, err)
		}
		pipe.Publish(ctx, channel, body)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (b *RedisBroadcaster) Close() error { return nil }
