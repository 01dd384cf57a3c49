package httpapi

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/parla/chat-backend/internal/auth"
	"github.com/parla/chat-backend/internal/metrics"
)

// identityKey is the context key under which the verified caller identity is
// stored by the auth middleware.
type identityKey struct{}

// contextWithIdentity returns a context carrying the verified identity.
func contextWithIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// identityFrom extracts the verified identity placed by the auth middleware.
func identityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// bearerToken extracts the access token from the Authorization header or,
// for EventSource clients that cannot set headers, from the access_token
// query parameter.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// authenticated wraps a handler with token verification, session revocation
// checking, and request instrumentation. The verified identity is placed on
// the request context.
func (s *Server) authenticated(route string, next http.HandlerFunc) http.Handler {
	return s.instrument(route, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		id, err := s.tokens.VerifyToken(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		// A token is only honored while its server-side session is alive;
		// logout deletes the session and thereby revokes the token.
		sess, err := s.sessions.Get(r.Context(), id.UserID)
		if err != nil {
			log.Printf("httpapi: session lookup failed user=%s: %v", id.UserID, err)
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		if sess == nil {
			writeError(w, http.StatusUnauthorized, "session expired or revoked")
			return
		}

		if err := s.sessions.Touch(r.Context(), id.UserID); err != nil {
			log.Printf("httpapi: session touch failed user=%s: %v", id.UserID, err)
		}

		next(w, r.WithContext(contextWithIdentity(r.Context(), id)))
	}))
}

// instrument records request duration for the route and logs completion.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// withCORS answers preflight requests and stamps allowed origins on every
// response so the browser frontend can call the API cross-origin.
func (s *Server) withCORS(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.config.AllowedOrigins))
	wildcard := false
	for _, o := range s.config.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (wildcard || allowed[origin]) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Cache-Control")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteAddr returns the client address used for per-IP rate limiting,
// preferring the first X-Forwarded-For hop set by the load balancer.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i > 0 {
		host = host[:i]
	}
	return host
}
