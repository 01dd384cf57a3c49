package notify

import "sync"

// DefaultLogCapacity is the number of recent events retained in memory.
const DefaultLogCapacity = 1000

// Log is a fixed-capacity ring buffer of recent events. When full, appending
// overwrites the oldest entry. It is goroutine-safe; the Bus is the only
// writer but snapshots may be read concurrently.
type Log struct {
	mu    sync.RWMutex
	items []*Event
	pos   int
	count int
}

// NewLog creates an empty event log. A capacity <= 0 falls back to
// DefaultLogCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{items: make([]*Event, capacity)}
}

// Append inserts an event at the tail. If the log is at capacity the oldest
// event is discarded. Append never fails.
func (l *Log) Append(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items[l.pos] = event
	l.pos = (l.pos + 1) % len(l.items)
	if l.count < len(l.items) {
		l.count++
	}
}

// Len returns the number of events currently retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// RecentFor returns, oldest first, the last limit events that are either
// targeted at recipient or broadcast. Returns an empty slice if none match.
func (l *Log) RecentFor(recipient string, limit int) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || l.count == 0 {
		return []*Event{}
	}

	// Walk backwards from the newest entry collecting up to limit matches,
	// then reverse so the caller sees arrival order. The allocation is sized
	// by the retained count, not the caller's limit, which may be huge.
	matched := make([]*Event, 0, min(limit, l.count))
	newest := (l.pos - 1 + len(l.items)) % len(l.items)
	for i := 0; i < l.count && len(matched) < limit; i++ {
		e := l.items[(newest-i+len(l.items))%len(l.items)]
		if e.Broadcast() || e.Recipient == recipient {
			matched = append(matched, e)
		}
	}

	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	return matched
}
