package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/thedusen/booksphere-web-sub002/internal/model"
)

// KafkaBroadcaster publishes notifications to a single topic with the
// organization id as the message key. Per-key partitioning keeps a tenant's
// events in one partition, preserving per-tenant order for consumers.
type KafkaBroadcaster struct {
	w *kafka.Writer
}

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration // default 10s
}

func NewKafkaBroadcaster(c KafkaConfig) *KafkaBroadcaster {
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 10 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: wt,
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaBroadcaster{w: w}
}

func (b *KafkaBroadcaster) Backend() string { return "kafka" }

func (b *KafkaBroadcaster) Publish(ctx context.Context, organizationID int64, batch []model.Notification) error {
	if len(batch) == 0 {
		return nil
	}
	key := []byte(strconv.FormatInt(organizationID, 10))

	msgs := make([]kafka.Message, 0, len(batch))
	for _, n := range batch {
		body, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("marshal notification %s: %w", n.EventID, err)
		}
		msgs = append(msgs, kafka.Message{Key: key, Value: body})
	}

	if err := b.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (b *KafkaBroadcaster) Close() error { return b.w.Close() }
