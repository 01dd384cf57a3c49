package httpapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/parla/chat-backend/internal/auth"
	"github.com/parla/chat-backend/internal/notify"
	"github.com/parla/chat-backend/internal/ratelimit"
)

// loginRequest is the body of POST /api/auth/login.
type loginRequest struct {
	Anonymous bool   `json:"anonymous"`
	Email     string `json:"email,omitempty"`
}

// tokenResponse is returned by login and refresh.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      string `json:"user_id"`
	Email       string `json:"email,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// handleLogin issues a bearer token. Only anonymous login is supported:
// a fresh identity is minted per login. Federated identity providers are an
// external concern deliberately left out of this backend.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	allowed, _ := s.limiter.Allow(r.Context(), remoteAddr(r), ratelimit.RuleLogin)
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Anonymous {
		writeErrorDetail(w, http.StatusBadRequest, "unsupported login method",
			"set anonymous=true; federated login is handled outside this service")
		return
	}

	id := auth.NewAnonymousIdentity()
	id.Email = req.Email

	token, err := s.tokens.CreateToken(id)
	if err != nil {
		log.Printf("httpapi: create token failed: %v", err)
		writeError(w, http.StatusInternalServerError, "token creation failed")
		return
	}

	if err := s.sessions.Create(r.Context(), id.UserID, id.Email, id.Anonymous); err != nil {
		log.Printf("httpapi: create session failed user=%s: %v", id.UserID, err)
		writeError(w, http.StatusInternalServerError, "session creation failed")
		return
	}

	// Best effort presence signal; never blocks or fails the login.
	if _, err := s.bus.Publish(notify.TypeUserJoined, map[string]any{"user_id": id.UserID}, "", ""); err != nil {
		log.Printf("httpapi: publish user_joined failed: %v", err)
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserID:      id.UserID,
		Email:       id.Email,
		IsAnonymous: id.Anonymous,
		ExpiresIn:   int(s.tokens.TokenTTL() / time.Second),
	})
}

// handleRefresh issues a fresh token for the already-verified caller.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	token, err := s.tokens.CreateToken(id)
	if err != nil {
		log.Printf("httpapi: refresh token failed user=%s: %v", id.UserID, err)
		writeError(w, http.StatusInternalServerError, "token creation failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		UserID:      id.UserID,
		Email:       id.Email,
		IsAnonymous: id.Anonymous,
		ExpiresIn:   int(s.tokens.TokenTTL() / time.Second),
	})
}

// handleMe returns the caller's profile.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	sess, err := s.sessions.Get(r.Context(), id.UserID)
	if err != nil {
		log.Printf("httpapi: session lookup failed user=%s: %v", id.UserID, err)
		writeError(w, http.StatusInternalServerError, "session lookup failed")
		return
	}

	resp := struct {
		ID         string `json:"id"`
		Email      string `json:"email,omitempty"`
		Anonymous  bool   `json:"is_anonymous"`
		CreatedAt  int64  `json:"created_at,omitempty"`
		LastActive int64  `json:"last_active,omitempty"`
	}{
		ID:        id.UserID,
		Email:     id.Email,
		Anonymous: id.Anonymous,
	}
	if sess != nil {
		resp.CreatedAt = sess.CreatedAt
		resp.LastActive = sess.LastActive
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLogout deletes the caller's session, revoking the token server-side.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	if err := s.sessions.Delete(r.Context(), id.UserID); err != nil {
		log.Printf("httpapi: delete session failed user=%s: %v", id.UserID, err)
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}

	// The identity is gone; its send counter in Redis is garbage now.
	if err := s.limiter.Reset(r.Context(), id.UserID, ratelimit.RuleSend); err != nil {
		log.Printf("httpapi: reset send counter failed user=%s: %v", id.UserID, err)
	}

	if _, err := s.bus.Publish(notify.TypeUserLeft, map[string]any{"user_id": id.UserID}, "", ""); err != nil {
		log.Printf("httpapi: publish user_left failed: %v", err)
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// handleValidate reports that the presented token is valid (the middleware
// already rejected anything else).
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	writeJSON(w, http.StatusOK, struct {
		Valid       bool   `json:"valid"`
		UserID      string `json:"user_id"`
		IsAnonymous bool   `json:"is_anonymous"`
	}{true, id.UserID, id.Anonymous})
}
