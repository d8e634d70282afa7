package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "events:org:42", ChannelFor("events:org:", 42))
	assert.Equal(t, "notify.1", ChannelFor("notify.", 1))

	// distinct tenants never share a channel
	assert.NotEqual(t, ChannelFor("events:org:", 1), ChannelFor("events:org:", 11))
}

func TestKafkaBroadcaster_Backend(t *testing.T) {
	b := NewKafkaBroadcaster(KafkaConfig{
		Brokers: []string{"127.0.0.1:9092"},
		Topic:   "booksphere.inventory.events",
	})
	defer b.Close()

	assert.Equal(t, "kafka", b.Backend())
}
