package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBlacklist tracks revoked token ids until their natural expiry.
type TokenBlacklist interface {
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(client *redis.Client) *RedisBlacklist {
	return &RedisBlacklist{client: client}
}

func (r *RedisBlacklist) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := r.client.Exists(ctx, "blacklist:"+jti).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

func (r *RedisBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return r.client.Set(ctx, "blacklist:"+jti, "revoked", ttl).Err()
}

// NopBlacklist is used when redis is not configured; nothing is ever revoked.
type NopBlacklist struct{}

func (NopBlacklist) IsBlacklisted(context.Context, string) (bool, error) { return false, nil }
func (NopBlacklist) Revoke(context.Context, string, time.Duration) error { return nil }
