package logstore

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/valyala/fastjson"

	"secuflow/pkg/models"
)

// RedisConfig configures the Redis list store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisStore reads records from a Redis list, one JSON object per element.
type RedisStore struct {
	client *redis.Client
	key    string
	parser fastjson.ParserPool
}

// NewRedisStore creates a Redis-backed store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("redis key is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisStore{client: client, key: cfg.Key}, nil
}

// Load returns every list element in list order.
func (s *RedisStore) Load(ctx context.Context) ([]models.LogRecord, error) {
	n, err := s.client.Exists(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("check redis key %s: %w", s.key, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: redis key %s does not exist", ErrNotFound, s.key)
	}

	values, err := s.client.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read redis list %s: %w", s.key, err)
	}

	p := s.parser.Get()
	defer s.parser.Put(p)

	records := make([]models.LogRecord, 0, len(values))
	for i, raw := range values {
		v, err := p.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis list %s: element %d: %w", s.key, i, err)
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return nil, fmt.Errorf("parse redis list %s: element %d: %w", s.key, i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Describe returns the list key.
func (s *RedisStore) Describe() string {
	return "redis:" + s.key
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
