// Package notify implements the in-process event notification bus: a bounded
// log of recent events plus per-user fan-out to live subscriber channels.
// Producers publish fire-and-forget; consumers either hold a subscription
// channel (streaming) or poll a snapshot of the log.
package notify

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of notification being delivered.
type EventType string

// The closed set of event types accepted by the bus.
const (
	TypeMessageReceived     EventType = "message_received"
	TypeConversationUpdated EventType = "conversation_updated"
	TypeUserJoined          EventType = "user_joined"
	TypeUserLeft            EventType = "user_left"
	TypeSystemNotification  EventType = "system_notification"
)

// validTypes is the allow-list consulted by Publish before any state mutation.
var validTypes = map[EventType]bool{
	TypeMessageReceived:     true,
	TypeConversationUpdated: true,
	TypeUserJoined:          true,
	TypeUserLeft:            true,
	TypeSystemNotification:  true,
}

// Valid reports whether t is a member of the closed event type set.
func (t EventType) Valid() bool {
	return validTypes[t]
}

// Event is a single immutable notification record. Once constructed it must
// not be modified; the same pointer is handed to the log and to every
// subscriber channel.
type Event struct {
	ID             string         `json:"event_id"`
	Type           EventType      `json:"event_type"`
	Payload        map[string]any `json:"data"`
	Recipient      string         `json:"user_id,omitempty"`         // empty = broadcast to all subscribers
	ConversationID string         `json:"conversation_id,omitempty"` // correlation only, never used for routing
	CreatedAt      time.Time      `json:"timestamp"`
}

// Broadcast reports whether the event has no recipient and is therefore
// delivered to every live subscriber.
func (e *Event) Broadcast() bool {
	return e.Recipient == ""
}

// eventSeq is a process-wide counter folded into event IDs so that two events
// of the same type created in the same millisecond still get distinct IDs.
var eventSeq atomic.Uint64

// NewEvent constructs an immutable event with a unique ID derived from the
// type and creation time. recipient may be empty for broadcast.
func NewEvent(typ EventType, payload map[string]any, recipient, conversationID string) *Event {
	now := time.Now().UTC()
	return &Event{
		ID:             fmt.Sprintf("%s_%d_%d", typ, now.UnixMilli(), eventSeq.Add(1)),
		Type:           typ,
		Payload:        payload,
		Recipient:      recipient,
		ConversationID: conversationID,
		CreatedAt:      now,
	}
}
