package relay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresence stores presence as a hash {state, updated_at} with a TTL.
type RedisPresence struct {
	client *redis.Client
}

var _ PresenceStore = (*RedisPresence)(nil)

func NewRedisPresence(client *redis.Client) *RedisPresence {
	return &RedisPresence{client: client}
}

func DialRedis(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (p *RedisPresence) SetState(ctx context.Context, key, state string, ttl time.Duration) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, "state", state, "updated_at", time.Now().Unix())
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	return err
}

func (p *RedisPresence) Clear(ctx context.Context, key string) error {
	return p.client.Del(ctx, key).Err()
}
