package httpapi

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// wsConn wraps a raw WebSocket connection with a write mutex so the event
// writer and the control-frame responder never interleave frame bytes.
type wsConn struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeText(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

func (c *wsConn) writePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.conn, ws.NewPingFrame(nil))
}

func (c *wsConn) writePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.conn, ws.NewPongFrame(payload))
}

// handleNotificationsWS is the WebSocket variant of the delivery adapter.
// It follows the same lifecycle as the SSE stream: subscribe, acknowledge,
// forward events, ping on idle, and unsubscribe on every exit path. Inbound
// frames are consumed only to answer pings and to detect the client closing.
func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("httpapi: ws upgrade failed user=%s: %v", id.UserID, err)
		return
	}

	c := &wsConn{conn: conn}
	ch := s.bus.Subscribe(id.UserID)

	defer func() {
		s.bus.Unsubscribe(id.UserID, ch)
		conn.Close()
		log.Printf("httpapi: ws stream closed user=%s", id.UserID)
	}()

	ack, _ := json.Marshal(connectedFrame{Type: "connected", UserID: id.UserID})
	if err := c.writeText(ack); err != nil {
		log.Printf("httpapi: ws ack failed user=%s: %v", id.UserID, err)
		return
	}

	log.Printf("httpapi: ws stream opened user=%s (subscribers=%d)", id.UserID, s.bus.Subscribers())

	// Reader goroutine: answers pings and reports the connection closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			frame, err := ws.ReadFrame(conn)
			if err != nil {
				return
			}
			frame = ws.UnmaskFrame(frame)

			switch frame.Header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.writePong(frame.Payload); err != nil {
					return
				}
			default:
				// Data and pong frames from the client are ignored; this
				// endpoint is server-to-client only.
			}
		}
	}()

	heartbeat := time.NewTimer(s.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-closed:
			return

		case <-r.Context().Done():
			return

		case <-s.closing:
			return

		case event := <-ch:
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("httpapi: ws marshal event user=%s: %v", id.UserID, err)
				continue
			}
			if err := c.writeText(data); err != nil {
				log.Printf("httpapi: ws write failed user=%s: %v", id.UserID, err)
				return
			}
			resetTimer(heartbeat, s.config.HeartbeatInterval)

		case <-heartbeat.C:
			if err := c.writePing(); err != nil {
				log.Printf("httpapi: ws ping failed user=%s: %v", id.UserID, err)
				return
			}
			heartbeat.Reset(s.config.HeartbeatInterval)
		}
	}
}
