package deposit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chickfarms/chickfarms-api/internal/pkg/logger"
	"github.com/chickfarms/chickfarms-api/internal/pkg/nowpayments"
)

const statusKeyPrefix = "deposit:gateway_status:"

// StatusCache keeps recent gateway answers so clients polling the status
// endpoint do not hit the gateway on every request. A nil client disables it.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: ttl}
}

// Get returns the cached payment, or nil on a miss. Redis errors count as misses.
func (c *StatusCache) Get(ctx context.Context, paymentID string) *nowpayments.Payment {
	if c == nil || c.rdb == nil || c.ttl <= 0 {
		return nil
	}

	raw, err := c.rdb.Get(ctx, statusKeyPrefix+paymentID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("transaction_id", paymentID).Msg("Status cache read failed")
		return nil
	}

	var p nowpayments.Payment
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	return &p
}

// Set stores p for the cache TTL.
func (c *StatusCache) Set(ctx context.Context, paymentID string, p *nowpayments.Payment) {
	if c == nil || c.rdb == nil || c.ttl <= 0 || p == nil {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, statusKeyPrefix+paymentID, raw, c.ttl).Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("transaction_id", paymentID).Msg("Status cache write failed")
	}
}

// Invalidate drops the cached entry once the deposit reaches a terminal state.
func (c *StatusCache) Invalidate(ctx context.Context, paymentID string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, statusKeyPrefix+paymentID).Err()
}
