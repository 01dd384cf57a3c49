// Package httpapi exposes the chat backend over HTTP: auth endpoints, the
// chat send/history surface, and the notification delivery adapters
// (SSE stream, WebSocket stream, and polling).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/parla/chat-backend/internal/auth"
	"github.com/parla/chat-backend/internal/chat"
	"github.com/parla/chat-backend/internal/metrics"
	"github.com/parla/chat-backend/internal/notify"
	"github.com/parla/chat-backend/internal/ratelimit"
	"github.com/parla/chat-backend/internal/session"
)

// Config holds tunable parameters for the API server.
type Config struct {
	ListenAddr        string        // address to listen on, e.g. ":8001"
	HeartbeatInterval time.Duration // idle period before a stream heartbeat
	SnapshotLimit     int           // default limit for the polling endpoint
	AllowedOrigins    []string      // CORS allow-list; "*" allows any origin
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:        ":8001",
		HeartbeatInterval: 30 * time.Second,
		SnapshotLimit:     50,
		AllowedOrigins:    []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// SessionStore is the slice of the Redis session store the server needs.
// Satisfied by *session.Store; tests substitute an in-memory fake.
type SessionStore interface {
	Create(ctx context.Context, userID, email string, anonymous bool) error
	Get(ctx context.Context, userID string) (*session.Session, error)
	Touch(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID string) error
}

// RateLimiter is the slice of the rate limiter the server needs.
type RateLimiter interface {
	Allow(ctx context.Context, identifier string, rule ratelimit.Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule ratelimit.Rule) (int, error)
	Reset(ctx context.Context, identifier string, rule ratelimit.Rule) error
}

// Server routes HTTP requests to the chat backend. It holds a reference to
// the single Bus instance owned by the composition root.
type Server struct {
	config     Config
	bus        *notify.Bus
	chat       *chat.Service
	tokens     *auth.Manager
	sessions   SessionStore
	limiter    RateLimiter
	httpServer *http.Server
	startedAt  time.Time

	// closing is closed once on Shutdown so open streams drain promptly;
	// http.Server.Shutdown alone does not cancel in-flight request contexts.
	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer wires the API server to its collaborators.
func NewServer(config Config, bus *notify.Bus, chatSvc *chat.Service, tokens *auth.Manager, sessions SessionStore, limiter RateLimiter) *Server {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}
	if config.SnapshotLimit <= 0 {
		config.SnapshotLimit = DefaultConfig().SnapshotLimit
	}
	return &Server{
		config:   config,
		bus:      bus,
		chat:     chatSvc,
		tokens:   tokens,
		sessions: sessions,
		limiter:  limiter,
		closing:  make(chan struct{}),
	}
}

// routes builds the request multiplexer with all API endpoints.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.Handle("POST /api/auth/login", s.instrument("auth_login", http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /api/auth/refresh", s.authenticated("auth_refresh", s.handleRefresh))
	mux.Handle("GET /api/auth/me", s.authenticated("auth_me", s.handleMe))
	mux.Handle("POST /api/auth/logout", s.authenticated("auth_logout", s.handleLogout))
	mux.Handle("GET /api/auth/validate", s.authenticated("auth_validate", s.handleValidate))

	mux.Handle("POST /api/chat/send", s.authenticated("chat_send", s.handleSend))
	mux.Handle("POST /api/chat/send-stream", s.authenticated("chat_send_stream", s.handleSendStream))
	mux.Handle("GET /api/chat/history/{conversation_id}", s.authenticated("chat_history", s.handleHistory))
	mux.Handle("GET /api/chat/conversations", s.authenticated("chat_conversations", s.handleConversations))
	mux.Handle("DELETE /api/chat/conversations/{conversation_id}", s.authenticated("chat_delete_conversation", s.handleDeleteConversation))
	mux.Handle("POST /api/chat/conversations/new", s.authenticated("chat_new_conversation", s.handleNewConversation))

	mux.Handle("GET /api/notifications/recent", s.authenticated("notifications_recent", s.handleNotificationsRecent))
	mux.Handle("GET /api/notifications/stream", s.authenticated("notifications_stream", s.handleNotificationsStream))
	mux.Handle("GET /api/notifications/ws", s.authenticated("notifications_ws", s.handleNotificationsWS))

	return s.withCORS(mux)
}

// Start begins serving HTTP requests. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	log.Printf("httpapi: server listening on %s (heartbeat=%s, snapshot_limit=%d)",
		s.config.ListenAddr, s.config.HeartbeatInterval, s.config.SnapshotLimit)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: http server error: %w", err)
	}
	return nil
}

// Shutdown performs a graceful shutdown: open streams are signaled to drain
// via the closing channel, the listener stops accepting new requests, and
// in-flight requests get a bounded drain period.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("httpapi: shutting down server...")
	s.closeOnce.Do(func() { close(s.closing) })
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	log.Printf("httpapi: server stopped")
	return nil
}

// handleHealth responds with the server's health status as JSON, including
// the live subscriber count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Subscribers int    `json:"subscribers"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Subscribers: s.bus.Subscribers(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}
