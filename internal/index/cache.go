package index

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	errx "github.com/hybridqa-core/server/internal/core/error"
)

// VectorCache persists document embeddings across process restarts.
type VectorCache interface {
	Load(ctx context.Context, namespace string, kind Kind) (map[string][]float64, error)
	Store(ctx context.Context, namespace string, kind Kind, vectors map[string][]float64) error
}

// RedisVectorCache keeps one hash per namespace and kind, field id to JSON vector.
type RedisVectorCache struct {
	rdb *redis.Client
}

func NewRedisVectorCache(rdb *redis.Client) *RedisVectorCache {
	return &RedisVectorCache{rdb: rdb}
}

func (c *RedisVectorCache) key(namespace string, kind Kind) string {
	return fmt.Sprintf("hybridqa:vectors:%s:%s", namespace, kind)
}

func (c *RedisVectorCache) Load(ctx context.Context, namespace string, kind Kind) (map[string][]float64, error) {
	raw, err := c.rdb.HGetAll(ctx, c.key(namespace, kind)).Result()
	if err != nil {
		return nil, errx.WrapRedis(err)
	}
	out := make(map[string][]float64, len(raw))
	for id, v := range raw {
		var vec []float64
		if err := json.Unmarshal([]byte(v), &vec); err != nil {
			return nil, fmt.Errorf("decode cached vector %q: %w", id, err)
		}
		out[id] = vec
	}
	return out, nil
}

func (c *RedisVectorCache) Store(ctx context.Context, namespace string, kind Kind, vectors map[string][]float64) error {
	if len(vectors) == 0 {
		return nil
	}
	fields := make(map[string]any, len(vectors))
	for id, vec := range vectors {
		b, err := json.Marshal(vec)
		if err != nil {
			return fmt.Errorf("encode vector %q: %w", id, err)
		}
		fields[id] = string(b)
	}
	if err := c.rdb.HSet(ctx, c.key(namespace, kind), fields).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}
