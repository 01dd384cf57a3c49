package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/parla/chat-backend/internal/notify"
)

// maxSnapshotLimit bounds the caller-supplied limit on the polling endpoint.
// The log never retains more than its capacity, so outsized values are
// clamped rather than rejected.
const maxSnapshotLimit = 1000

// handleNotificationsRecent serves the polling variant: a single snapshot of
// recent events for the caller, targeted plus broadcast, oldest first.
func (s *Server) handleNotificationsRecent(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	limit := s.config.SnapshotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSnapshotLimit)
	}

	events := s.bus.Snapshot(id.UserID, limit)
	writeJSON(w, http.StatusOK, struct {
		Events    []*notify.Event `json:"events"`
		Count     int             `json:"count"`
		Timestamp time.Time       `json:"timestamp"`
	}{
		Events:    events,
		Count:     len(events),
		Timestamp: time.Now().UTC(),
	})
}

// handleNotificationsStream serves the SSE delivery adapter. Lifecycle:
// subscribe, send a connected acknowledgement, then loop forwarding events
// as they arrive and emitting a heartbeat whenever the stream has been idle
// for the heartbeat interval. The subscription is released on every exit
// path; client disconnects surface as request context cancellation.
func (s *Server) handleNotificationsStream(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ch := s.bus.Subscribe(id.UserID)
	defer s.bus.Unsubscribe(id.UserID, ch)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, connectedFrame{Type: "connected", UserID: id.UserID}); err != nil {
		return
	}
	flusher.Flush()

	log.Printf("httpapi: stream opened user=%s (subscribers=%d)", id.UserID, s.bus.Subscribers())
	defer log.Printf("httpapi: stream closed user=%s", id.UserID)

	heartbeat := time.NewTimer(s.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-s.closing:
			return

		case event := <-ch:
			if err := writeSSE(w, event); err != nil {
				log.Printf("httpapi: stream write failed user=%s: %v", id.UserID, err)
				return
			}
			flusher.Flush()
			resetTimer(heartbeat, s.config.HeartbeatInterval)

		case <-heartbeat.C:
			if err := writeSSE(w, heartbeatFrame{Type: "heartbeat", Timestamp: time.Now().UTC()}); err != nil {
				log.Printf("httpapi: heartbeat write failed user=%s: %v", id.UserID, err)
				return
			}
			flusher.Flush()
			heartbeat.Reset(s.config.HeartbeatInterval)
		}
	}
}

// connectedFrame is the acknowledgement sent when a stream opens.
type connectedFrame struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// heartbeatFrame is the keep-alive marker sent on idle streams.
type heartbeatFrame struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// writeSSE serializes v and writes it as one server-sent-events data line.
func writeSSE(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("httpapi: marshal sse frame: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// resetTimer restarts a timer that has not fired yet, draining its channel
// if it fired concurrently.
func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
