package burden

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const DefaultCacheTTL = 15 * time.Minute

// Cache stores computed patient scores. A miss is (nil, nil).
type Cache interface {
	Get(ctx context.Context, key string) (*PatientBurden, error)
	Set(ctx context.Context, key string, v PatientBurden) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// RedisCache keeps scores as JSON strings under a TTL.
type RedisCache struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		panic("burden: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("trialflow.internal.burden.cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*PatientBurden, error) {
	ctx, span := c.tracer.Start(ctx, "burden.cache_get")
	defer span.End()

	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("burden: load cached score: %w", err)
	}

	var out PatientBurden
	if err := json.Unmarshal(data, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("burden: decode cached score: %w", err)
	}
	return &out, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, v PatientBurden) error {
	ctx, span := c.tracer.Start(ctx, "burden.cache_set")
	defer span.End()

	data, err := json.Marshal(v)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("burden: encode score: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("burden: store score: %w", err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *RedisCache) DeletePrefix(ctx context.Context, prefix string) error {
	ctx, span := c.tracer.Start(ctx, "burden.cache_invalidate")
	defer span.End()

	iter := c.redis.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("burden: scan cached scores: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("burden: delete cached scores: %w", err)
	}
	return nil
}
