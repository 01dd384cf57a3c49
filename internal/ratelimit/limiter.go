// Package ratelimit throttles API actions with Redis fixed-window counters.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule names one throttled action: the Redis key prefix the counters live
// under, the number of requests permitted per window, and the window length.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleSend caps chat sends at 20 per minute per user.
	RuleSend = Rule{Key: "rl:send:", Limit: 20, Window: time.Minute}

	// RuleLogin caps login attempts at 10 per minute per remote address.
	RuleLogin = Rule{Key: "rl:login:", Limit: 10, Window: time.Minute}
)

// Limiter counts actions in Redis. A Redis outage fails open: chat traffic
// keeps flowing and the error is surfaced to the caller for logging only.
type Limiter struct {
	rdb *redis.Client
}

func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

// Allow records one occurrence of the action for identifier and reports
// whether it stays within rule. The increment and the window expiry are
// pipelined into a single round trip; EXPIRE NX only arms the TTL on the
// first hit of a window, so a counter can never be left without an expiry.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ratelimit] pipeline failed key=%s: %v (allowing)", key, err)
		return true, err
	}

	return incr.Val() <= int64(rule.Limit), nil
}

// Remaining reports how many requests identifier has left in the current
// window. A missing counter means the window has not started.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	used, err := l.rdb.Get(ctx, rule.Key+identifier).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] lookup failed key=%s: %v (allowing)", rule.Key+identifier, err)
		return rule.Limit, err
	}
	if used >= rule.Limit {
		return 0, nil
	}
	return rule.Limit - used, nil
}

// Reset clears the identifier's counter for rule, reopening the window.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	return l.rdb.Del(ctx, rule.Key+identifier).Err()
}
