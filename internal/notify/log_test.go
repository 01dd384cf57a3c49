package notify

import (
	"fmt"
	"math"
	"testing"
)

func TestAppendAndRecentFor(t *testing.T) {
	l := NewLog(10)

	l.Append(NewEvent(TypeMessageReceived, map[string]any{"text": "hi"}, "u1", "c1"))
	l.Append(NewEvent(TypeMessageReceived, nil, "u2", ""))
	l.Append(NewEvent(TypeSystemNotification, nil, "", "")) // broadcast

	events := l.RecentFor("u1", 10)
	if len(events) != 2 {
		t.Fatalf("expected 2 events for u1 (targeted + broadcast), got %d", len(events))
	}
	if events[0].Recipient != "u1" {
		t.Errorf("expected first event targeted at u1, got %q", events[0].Recipient)
	}
	if !events[1].Broadcast() {
		t.Errorf("expected second event to be broadcast, got recipient %q", events[1].Recipient)
	}
	if events[0].Payload["text"] != "hi" {
		t.Errorf("expected payload text 'hi', got %v", events[0].Payload["text"])
	}
}

func TestRecentForArrivalOrder(t *testing.T) {
	l := NewLog(10)

	for i := 1; i <= 5; i++ {
		l.Append(NewEvent(TypeMessageReceived, map[string]any{"n": i}, "u1", ""))
	}

	events := l.RecentFor("u1", 10)
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Payload["n"] != i+1 {
			t.Errorf("index %d: expected n=%d, got %v", i, i+1, e.Payload["n"])
		}
	}
}

func TestEvictionBeyondCapacity(t *testing.T) {
	const capacity = 20
	l := NewLog(capacity)

	// Fill to capacity+5; the first 5 must be evicted.
	for i := 1; i <= capacity+5; i++ {
		l.Append(NewEvent(TypeMessageReceived, map[string]any{"n": i}, "u1", ""))
	}

	if l.Len() != capacity {
		t.Fatalf("expected log length %d, got %d", capacity, l.Len())
	}

	events := l.RecentFor("u1", capacity)
	if len(events) != capacity {
		t.Fatalf("expected %d events, got %d", capacity, len(events))
	}
	if events[0].Payload["n"] != 6 {
		t.Errorf("expected oldest surviving event n=6, got %v", events[0].Payload["n"])
	}
	if events[len(events)-1].Payload["n"] != capacity+5 {
		t.Errorf("expected newest event n=%d, got %v", capacity+5, events[len(events)-1].Payload["n"])
	}
}

func TestRecentForLimit(t *testing.T) {
	l := NewLog(100)

	for i := 1; i <= 10; i++ {
		l.Append(NewEvent(TypeMessageReceived, map[string]any{"n": i}, "u1", ""))
	}

	events := l.RecentFor("u1", 3)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// The last 3 published, oldest first.
	for i, e := range events {
		if e.Payload["n"] != 8+i {
			t.Errorf("index %d: expected n=%d, got %v", i, 8+i, e.Payload["n"])
		}
	}
}

func TestRecentForOtherRecipient(t *testing.T) {
	l := NewLog(10)

	l.Append(NewEvent(TypeMessageReceived, nil, "u2", ""))

	events := l.RecentFor("u1", 10)
	if events == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events for u1, got %d", len(events))
	}
}

func TestRecentForExtremeLimit(t *testing.T) {
	l := NewLog(10)

	for i := 1; i <= 3; i++ {
		l.Append(NewEvent(TypeMessageReceived, map[string]any{"n": i}, "u1", ""))
	}

	// The limit is caller-supplied; an absurd value must not allocate for it.
	events := l.RecentFor("u1", math.MaxInt)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Payload["n"] != 1 || events[2].Payload["n"] != 3 {
		t.Errorf("expected arrival order preserved, got %v .. %v", events[0].Payload["n"], events[2].Payload["n"])
	}
}

func TestEventIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		e := NewEvent(TypeMessageReceived, nil, "u1", "")
		if seen[e.ID] {
			t.Fatalf("duplicate event ID %q at iteration %d", e.ID, i)
		}
		seen[e.ID] = true
	}
}

func TestInvalidEventType(t *testing.T) {
	if EventType("not_a_type").Valid() {
		t.Error("expected unknown event type to be invalid")
	}
	for _, typ := range []EventType{
		TypeMessageReceived, TypeConversationUpdated,
		TypeUserJoined, TypeUserLeft, TypeSystemNotification,
	} {
		if !typ.Valid() {
			t.Errorf("expected %q to be valid", typ)
		}
	}
}

func TestRecentForWraparound(t *testing.T) {
	l := NewLog(4)

	for i := 1; i <= 7; i++ {
		l.Append(NewEvent(TypeMessageReceived, map[string]any{"n": fmt.Sprintf("msg-%d", i)}, "u1", ""))
	}

	events := l.RecentFor("u1", 4)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i, e := range events {
		expected := fmt.Sprintf("msg-%d", i+4)
		if e.Payload["n"] != expected {
			t.Errorf("index %d: expected %q, got %v", i, expected, e.Payload["n"])
		}
	}
}
