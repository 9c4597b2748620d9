package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const revokedKeyPrefix = "obar:revoked:"

type RedisTokenBlacklist struct {
	client *redis.Client
}

func NewRedisTokenBlacklist(addr string, password string, db int) *RedisTokenBlacklist {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisTokenBlacklist{client: client}
}

func (b *RedisTokenBlacklist) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisTokenBlacklist) Close() error {
	return b.client.Close()
}

func (b *RedisTokenBlacklist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	return b.client.Set(ctx, revokedKeyPrefix+tokenID, 1, ttl).Err()
}

func (b *RedisTokenBlacklist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	err := b.client.Get(ctx, revokedKeyPrefix+tokenID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
