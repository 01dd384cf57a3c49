package notify

import (
	"log"
	"sync"

	"github.com/parla/chat-backend/internal/metrics"
)

// DefaultChannelCapacity is the buffer size of each subscriber channel.
const DefaultChannelCapacity = 100

// Registry maps a recipient identity to its set of live subscriber channels.
// A recipient entry exists only while it has at least one channel.
type Registry struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan *Event]struct{}
	capacity    int // per-channel buffer size
}

// NewRegistry creates an empty registry. A capacity <= 0 falls back to
// DefaultChannelCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &Registry{
		subscribers: make(map[string]map[chan *Event]struct{}),
		capacity:    capacity,
	}
}

// Subscribe creates a bounded channel, registers it under recipient, and
// returns it. The caller owns the receiving side and must eventually call
// Unsubscribe with the same channel.
func (r *Registry) Subscribe(recipient string) chan *Event {
	ch := make(chan *Event, r.capacity)

	r.mu.Lock()
	set, ok := r.subscribers[recipient]
	if !ok {
		set = make(map[chan *Event]struct{})
		r.subscribers[recipient] = set
	}
	set[ch] = struct{}{}
	r.mu.Unlock()

	metrics.NotifySubscribers.Inc()
	return ch
}

// Unsubscribe removes the channel from the recipient's set and deletes the
// recipient entry once the set empties. Unsubscribing a channel that was
// already removed is a no-op.
func (r *Registry) Unsubscribe(recipient string, ch chan *Event) {
	r.mu.Lock()
	set, ok := r.subscribers[recipient]
	if ok {
		if _, present := set[ch]; present {
			delete(set, ch)
			metrics.NotifySubscribers.Dec()
		}
		if len(set) == 0 {
			delete(r.subscribers, recipient)
		}
	}
	r.mu.Unlock()
}

// Count returns the total number of live channels across all recipients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.subscribers {
		n += len(set)
	}
	return n
}

// HasRecipient reports whether the recipient has at least one live channel.
func (r *Registry) HasRecipient(recipient string) bool {
	r.mu.RLock()
	_, ok := r.subscribers[recipient]
	r.mu.RUnlock()
	return ok
}

// FanOut delivers the event to every channel registered under its recipient,
// or to every live channel when the event is broadcast. Delivery to each
// subscriber is an independent non-blocking send: a full channel drops the
// event for that one subscriber (its older queued events are preserved) and
// the drop is logged and counted, never surfaced to the publisher.
func (r *Registry) FanOut(event *Event) {
	// Snapshot the target channels under the read lock, then send outside it
	// so registry mutation is never serialized behind delivery.
	r.mu.RLock()
	var targets []chan *Event
	if event.Broadcast() {
		for _, set := range r.subscribers {
			for ch := range set {
				targets = append(targets, ch)
			}
		}
	} else {
		for ch := range r.subscribers[event.Recipient] {
			targets = append(targets, ch)
		}
	}
	r.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			metrics.NotifyDropped.Inc()
			log.Printf("notify: subscriber queue full, dropping event id=%s recipient=%q", event.ID, event.Recipient)
		}
	}
}
