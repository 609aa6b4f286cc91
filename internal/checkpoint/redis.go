package checkpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fliupa/cni-scrapy/internal/harvest"
	"github.com/fliupa/cni-scrapy/internal/tabular"
)

// RedisClient is the subset of redis.Cmdable the store needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps the checkpoint as one CSV value under a single key.
type RedisStore struct {
	client RedisClient
	key    string
	schema harvest.Schema
}

// NewRedisStore builds a store on client under key.
func NewRedisStore(client RedisClient, key string, schema harvest.Schema) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("redis key is required")
	}
	return &RedisStore{client: client, key: key, schema: schema}, nil
}

// Load fetches and decodes the checkpoint. A missing key is an empty checkpoint.
func (s *RedisStore) Load(ctx context.Context) ([]harvest.Record, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint %s: %w", s.key, err)
	}
	records, err := tabular.Decode(bytes.NewReader(data), s.schema)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", s.key, err)
	}
	harvest.SortByIndex(records)
	return records, nil
}

// Save overwrites the key with the full record set.
func (s *RedisStore) Save(ctx context.Context, records []harvest.Record) error {
	data, err := tabular.Marshal(s.schema, sorted(records))
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set checkpoint %s: %w", s.key, err)
	}
	return nil
}

// Clear deletes the key.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", s.key, err)
	}
	return nil
}
