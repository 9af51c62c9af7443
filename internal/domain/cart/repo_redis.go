package cart

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// cartKeyPrefix namespaces cart snapshots in redis.
const cartKeyPrefix = "cart:"

// redisRepo stores carts as JSON values under "cart:<session>" with a TTL,
// and publishes a change notice on the same channel so other app instances
// can invalidate their view.
type redisRepo struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisRepo creates a redis-backed Repository. ttl of zero disables
// expiry.
func NewRedisRepo(client *redis.Client, ttl time.Duration, logger zerolog.Logger) Repository {
	return &redisRepo{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "cart_redis_repo").Logger(),
	}
}

func (r *redisRepo) key(session string) string {
	return cartKeyPrefix + session
}

func (r *redisRepo) Load(ctx context.Context, session string) (*Cart, error) {
	data, err := r.client.Get(ctx, r.key(session)).Bytes()
	if err == redis.Nil {
		return &Cart{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		// Corrupt payload: purge and start over with an empty cart.
		r.logger.Warn().Str("session", session).Err(err).Msg("discarding corrupt cart value")
		_ = r.client.Del(ctx, r.key(session)).Err()
		return &Cart{}, nil
	}
	return &Cart{Items: items}, nil
}

func (r *redisRepo) Save(ctx context.Context, session string, c *Cart) error {
	data, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(session), data, r.ttl)
	pipe.Publish(ctx, r.key(session), "updated")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save cart: %w", err)
	}
	return nil
}

func (r *redisRepo) Delete(ctx context.Context, session string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(session))
	pipe.Publish(ctx, r.key(session), "cleared")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}
