// Package session manages server-side session records for authenticated
// users, backed by Redis. A session is created at login and deleted at
// logout; the auth middleware requires a live session, which makes bearer
// tokens revocable before they expire.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all session hashes.
	KeyPrefix = "session:"

	// DefaultTTL is the time-to-live for session keys in Redis. It should be
	// at least as long as the bearer token lifetime.
	DefaultTTL = 24 * time.Hour
)

// Session is a user's server-side session state stored in Redis.
type Session struct {
	UserID     string `redis:"user_id"`
	Email      string `redis:"email"`     // empty for anonymous users
	Anonymous  bool   `redis:"anonymous"`
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore connects to Redis and returns a session store. It verifies the
// connection before returning.
func NewStore(redisAddr string, ttl time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, ttl: ttl}, nil
}

// Create stores a new session for the user, replacing any existing one.
func (s *Store) Create(ctx context.Context, userID, email string, anonymous bool) error {
	key := KeyPrefix + userID
	now := time.Now().Unix()

	fields := map[string]interface{}{
		"user_id":     userID,
		"email":       email,
		"anonymous":   anonymous,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session. Returns nil if the user has no live session.
func (s *Store) Get(ctx context.Context, userID string) (*Session, error) {
	key := KeyPrefix + userID
	var session Session
	if err := s.client.HGetAll(ctx, key).Scan(&session); err != nil {
		return nil, err
	}
	if session.UserID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// Touch updates the session's last-active timestamp and refreshes its TTL.
// Called by the auth middleware on every authenticated request.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session, revoking any tokens bound to it.
func (s *Store) Delete(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (e.g. the rate limiter shares the same connection pool).
func (s *Store) Client() *redis.Client {
	return s.client
}
