// Package auth issues and verifies bearer tokens for the chat API. Tokens
// are HS256-signed JWTs carrying the user identity; anonymous users get a
// freshly minted UUID identity. The bus and the rest of the backend treat
// the verified identity as an opaque string.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL is the access token lifetime when none is configured.
const DefaultTokenTTL = 30 * time.Minute

// Identity is the verified caller identity extracted from a bearer token.
type Identity struct {
	UserID    string
	Email     string
	Anonymous bool
}

// Claims is the JWT claim set carried by access tokens.
type Claims struct {
	Email     string `json:"email,omitempty"`
	Anonymous bool   `json:"anon,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and verifies access tokens.
type Manager struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewManager creates a token manager with the given signing secret. A
// ttl <= 0 falls back to DefaultTokenTTL.
func NewManager(secret string, ttl time.Duration) (*Manager, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth: signing secret must not be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Manager{secret: []byte(secret), tokenTTL: ttl}, nil
}

// TokenTTL returns the configured access token lifetime.
func (m *Manager) TokenTTL() time.Duration {
	return m.tokenTTL
}

// NewAnonymousIdentity mints a fresh anonymous identity.
func NewAnonymousIdentity() Identity {
	return Identity{UserID: uuid.New().String(), Anonymous: true}
}

// CreateToken issues a signed access token for the identity.
func (m *Manager) CreateToken(id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:     id.Email,
		Anonymous: id.Anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates the signature and expiry of a bearer token and
// returns the identity it carries.
func (m *Manager) VerifyToken(tokenString string) (Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("auth: verify token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return Identity{}, fmt.Errorf("auth: token missing subject")
	}

	return Identity{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Anonymous: claims.Anonymous,
	}, nil
}
