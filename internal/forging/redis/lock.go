package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tradinta-forging/internal/logger"
)

const (
	pledgeLockPrefix = "pledge_lock:"
	leasePrefix      = "forging_lease:"
)

// releaseScript deletes the key only while it still holds the caller's token,
// so an expired lock that someone else re-acquired is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client  *redis.Client
	LockTTL time.Duration
	Logger  *logger.Logger
}

func NewRedis(client *redis.Client, lockTTL time.Duration, log *logger.Logger) *Redis {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &Redis{
		Client:  client,
		LockTTL: lockTTL,
		Logger:  log,
	}
}

func pledgeKey(eventID, buyerID string) string {
	return fmt.Sprintf("%s%s:%s", pledgeLockPrefix, eventID, buyerID)
}

// LockPledge claims the (event, buyer) slot for token. It returns false when
// another request for the same buyer is already in flight.
func (r *Redis) LockPledge(ctx context.Context, eventID, buyerID, token string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, pledgeKey(eventID, buyerID), token, r.LockTTL).Result()
	if err != nil {
		r.Logger.Error("REDIS", fmt.Sprintf("Failed to lock pledge %s/%s: %v", eventID, buyerID, err))
		return false, err
	}
	return ok, nil
}

// UnlockPledge releases the slot if token still owns it.
func (r *Redis) UnlockPledge(ctx context.Context, eventID, buyerID, token string) error {
	return r.release(ctx, pledgeKey(eventID, buyerID), token)
}

// IsPledgeLocked reports whether a pledge for this buyer is in flight.
func (r *Redis) IsPledgeLocked(ctx context.Context, eventID, buyerID string) (bool, error) {
	_, err := r.Client.Get(ctx, pledgeKey(eventID, buyerID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AcquireLease takes a named lease for ttl, used so only one replica runs a
// periodic job at a time.
func (r *Redis) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	ok, err := r.Client.SetNX(ctx, leasePrefix+name, holder, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		r.Logger.Debug("REDIS", fmt.Sprintf("Lease %s acquired by %s for %s", name, holder, ttl))
	}
	return ok, nil
}

func (r *Redis) ReleaseLease(ctx context.Context, name, holder string) error {
	return r.release(ctx, leasePrefix+name, holder)
}

func (r *Redis) release(ctx context.Context, key, token string) error {
	err := releaseScript.Run(ctx, r.Client, []string{key}, token).Err()
	if err == redis.Nil {
		return nil
	}
	return err
}
