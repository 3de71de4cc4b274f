// Package lease serializes sync cycles across devices that share an
// account. The Redis implementation takes a short-lived exclusive lock for
// the duration of one push/pull window; deployments without Redis run with
// the noop lease and rely on last-writer-wins alone.
package lease

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/nekosync/internal/syncing/domain"
)

// releaseScript deletes the lease only if this device still holds it, so a
// lease that expired and was taken by another device is never released from
// under them.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease implements domain.Lease with SET NX + TTL.
type RedisLease struct {
	client   *redis.Client
	key      string
	deviceID string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewRedisLease creates a lease for the account, held under this device's id.
func NewRedisLease(client *redis.Client, accountID, deviceID string, ttl time.Duration, logger *slog.Logger) *RedisLease {
	return &RedisLease{
		client:   client,
		key:      fmt.Sprintf("nekosync:lease:%s", accountID),
		deviceID: deviceID,
		ttl:      ttl,
		logger:   logger,
	}
}

// Acquire takes the lease. Returns domain.ErrLeaseHeld while another device
// is mid-cycle; Redis being unreachable reads as a network failure so the
// cycle follows the ordinary retry ladder.
func (l *RedisLease) Acquire(ctx context.Context) error {
	ok, err := l.client.SetNX(ctx, l.key, l.deviceID, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: lease store unreachable: %v", domain.ErrNetworkUnavailable, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, l.key).Result()
		l.logger.Debug("sync lease held elsewhere", "holder", holder)
		return fmt.Errorf("%w: held by %s", domain.ErrLeaseHeld, holder)
	}
	return nil
}

// Release gives the lease back. Failures are logged, not returned; the TTL
// bounds how long a stuck lease can block other devices.
func (l *RedisLease) Release(ctx context.Context) {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.deviceID).Err(); err != nil && err != redis.Nil {
		l.logger.Warn("failed to release sync lease", "error", err)
	}
}

// NoopLease always grants. Used when no Redis is configured.
type NoopLease struct{}

// Acquire always succeeds.
func (NoopLease) Acquire(ctx context.Context) error { return nil }

// Release does nothing.
func (NoopLease) Release(ctx context.Context) {}

var (
	_ domain.Lease = (*RedisLease)(nil)
	_ domain.Lease = NoopLease{}
)
