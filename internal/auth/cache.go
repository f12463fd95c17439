package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tradinta-forging/internal/logger"
)

const (
	identityCachePrefix = "auth_identity:"
	// TokenExpiryBuffer drops cached identities this long before the token expires
	TokenExpiryBuffer = 30 * time.Second
)

// CachedVerifier remembers verified identities in Redis, keyed by a hash of
// the token, so repeated requests skip signature and JWKS checks.
type CachedVerifier struct {
	Next   TokenVerifier
	Client *redis.Client
	TTL    time.Duration
	Log    *logger.Logger
	now    func() time.Time
}

func NewCachedVerifier(next TokenVerifier, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedVerifier {
	return &CachedVerifier{Next: next, Client: client, TTL: ttl, Log: log, now: time.Now}
}

func cacheKey(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return identityCachePrefix + hex.EncodeToString(sum[:])
}

func (c *CachedVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	key := cacheKey(rawToken)

	cached, err := c.Client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var id Identity
		if jsonErr := json.Unmarshal(cached, &id); jsonErr == nil && c.now().Add(TokenExpiryBuffer).Before(id.ExpiresAt) {
			return id, nil
		}
	case err != redis.Nil:
		c.Log.Warn("AUTH", fmt.Sprintf("Identity cache read failed: %v", err))
	}

	id, err := c.Next.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	ttl := c.TTL
	if !id.ExpiresAt.IsZero() {
		if left := id.ExpiresAt.Sub(c.now()) - TokenExpiryBuffer; left < ttl {
			ttl = left
		}
	}
	if ttl > 0 {
		payload, _ := json.Marshal(id)
		if err := c.Client.Set(ctx, key, payload, ttl).Err(); err != nil {
			c.Log.Warn("AUTH", fmt.Sprintf("Identity cache write failed: %v", err))
		}
	}
	return id, nil
}
