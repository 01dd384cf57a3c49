package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/parla/chat-backend/internal/chat"
	"github.com/parla/chat-backend/internal/ratelimit"
)

// sendRequest is the body of POST /api/chat/send and /api/chat/send-stream.
type sendRequest struct {
	Message        string  `json:"message"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Model          string  `json:"model,omitempty"`
	Temperature    float64 `json:"temperature,omitempty"`
	MaxTokens      int     `json:"max_tokens,omitempty"`
}

// decodeSend parses and rate-limits a send request. It writes the error
// response itself and returns ok=false when the request must not proceed.
func (s *Server) decodeSend(w http.ResponseWriter, r *http.Request) (chat.SendRequest, bool) {
	id, _ := identityFrom(r.Context())

	allowed, _ := s.limiter.Allow(r.Context(), id.UserID, ratelimit.RuleSend)
	if remaining, err := s.limiter.Remaining(r.Context(), id.UserID, ratelimit.RuleSend); err == nil {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "message rate limit exceeded")
		return chat.SendRequest{}, false
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return chat.SendRequest{}, false
	}
	if err := chat.ValidateContent(req.Message); err != nil {
		writeErrorDetail(w, http.StatusBadRequest, "invalid message", err.Error())
		return chat.SendRequest{}, false
	}

	return chat.SendRequest{
		UserID:         id.UserID,
		Email:          id.Email,
		Anonymous:      id.Anonymous,
		Content:        req.Message,
		ConversationID: req.ConversationID,
		Model:          req.Model,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxTokens,
	}, true
}

// handleSend runs the non-streaming send flow.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSend(w, r)
	if !ok {
		return
	}

	result, err := s.chat.Send(r.Context(), req)
	if err != nil {
		log.Printf("httpapi: send failed user=%s: %v", req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSendStream runs the streaming send flow, relaying completion deltas
// to the client as SSE frames and a final frame carrying the message IDs.
func (s *Server) handleSendStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeSend(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	result, err := s.chat.SendStream(r.Context(), req, func(delta string) error {
		frame := struct {
			Content  string `json:"content"`
			Finished bool   `json:"finished"`
		}{Content: delta}
		if err := writeSSE(w, frame); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		log.Printf("httpapi: send-stream failed user=%s: %v", req.UserID, err)
		_ = writeSSE(w, map[string]any{"error": "failed to send message", "finished": true})
		flusher.Flush()
		return
	}

	final := struct {
		Finished           bool   `json:"finished"`
		ConversationID     string `json:"conversation_id"`
		UserMessageID      int64  `json:"user_message_id"`
		AssistantMessageID int64  `json:"assistant_message_id"`
	}{true, result.ConversationID, result.UserMessageID, result.AssistantMessageID}
	if err := writeSSE(w, final); err != nil {
		log.Printf("httpapi: send-stream final frame failed user=%s: %v", req.UserID, err)
		return
	}
	flusher.Flush()
}

// handleHistory returns the last messages of a conversation.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	conversationID := r.PathValue("conversation_id")

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := s.chat.History(r.Context(), id.UserID, conversationID, limit)
	if err != nil {
		log.Printf("httpapi: history failed user=%s conversation=%s: %v", id.UserID, conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		ConversationID string         `json:"conversation_id"`
		Messages       []chat.Message `json:"messages"`
		TotalMessages  int            `json:"total_messages"`
	}{conversationID, messages, len(messages)})
}

// handleConversations lists the caller's conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	conversations, err := s.chat.Conversations(r.Context(), id.UserID, limit)
	if err != nil {
		log.Printf("httpapi: conversations failed user=%s: %v", id.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Conversations []chat.Conversation `json:"conversations"`
		Total         int                 `json:"total"`
	}{conversations, len(conversations)})
}

// handleDeleteConversation removes a conversation and its messages.
func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	conversationID := strings.TrimSpace(r.PathValue("conversation_id"))
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, "missing conversation id")
		return
	}

	deleted, err := s.chat.DeleteConversation(r.Context(), id.UserID, conversationID)
	if err != nil {
		log.Printf("httpapi: delete conversation failed user=%s conversation=%s: %v", id.UserID, conversationID, err)
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "conversation deleted"})
}

// handleNewConversation mints a conversation ID. No state is created until
// the first message is sent.
func (s *Server) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"conversation_id": uuid.New().String(),
	})
}
