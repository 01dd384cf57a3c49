package notify

import (
	"fmt"

	"github.com/parla/chat-backend/internal/metrics"
)

// BusConfig holds tunable parameters for the event bus.
type BusConfig struct {
	LogCapacity     int // events retained for polling clients
	ChannelCapacity int // per-subscriber queue depth
}

// DefaultBusConfig returns sensible production defaults.
func DefaultBusConfig() BusConfig {
	return BusConfig{
		LogCapacity:     DefaultLogCapacity,
		ChannelCapacity: DefaultChannelCapacity,
	}
}

// Bus orchestrates publishing and subscription lifecycle. It is the sole
// owner of the event log and the subscription registry; all mutation of
// either goes through Bus methods. One Bus instance is constructed by the
// composition root and passed by reference to the handlers that need it.
type Bus struct {
	log      *Log
	registry *Registry
}

// NewBus creates a bus with the given configuration.
func NewBus(config BusConfig) *Bus {
	return &Bus{
		log:      NewLog(config.LogCapacity),
		registry: NewRegistry(config.ChannelCapacity),
	}
}

// Publish constructs an event, appends it to the log, and fans it out to the
// recipient's live subscribers (or to all subscribers when recipient is
// empty). It returns an error only for an invalid event type, before any
// state is touched. Downstream delivery is fire-and-forget: a slow or absent
// subscriber never blocks or fails the publisher.
func (b *Bus) Publish(typ EventType, payload map[string]any, recipient, conversationID string) (*Event, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("notify: invalid event type %q", typ)
	}

	event := NewEvent(typ, payload, recipient, conversationID)
	b.log.Append(event)
	b.registry.FanOut(event)

	metrics.NotifyPublished.WithLabelValues(string(typ)).Inc()
	return event, nil
}

// Subscribe registers a new bounded channel for recipient and returns it.
// The caller becomes responsible for the matching Unsubscribe on every exit
// path of its connection.
func (b *Bus) Subscribe(recipient string) chan *Event {
	return b.registry.Subscribe(recipient)
}

// Unsubscribe releases a channel obtained from Subscribe. It is idempotent.
func (b *Bus) Unsubscribe(recipient string, ch chan *Event) {
	b.registry.Unsubscribe(recipient, ch)
}

// Snapshot returns up to limit recent events for recipient (targeted plus
// broadcast), oldest first. Used by polling consumers; a client that both
// polls and streams may see the same event twice and must de-duplicate by ID.
func (b *Bus) Snapshot(recipient string, limit int) []*Event {
	return b.log.RecentFor(recipient, limit)
}

// Subscribers returns the total number of live subscriber channels.
func (b *Bus) Subscribers() int {
	return b.registry.Count()
}
