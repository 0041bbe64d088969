package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlasview/layerd/internal/layer"
	"github.com/atlasview/layerd/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// RedisStore is an alternative durable tier. Entries expire from redis only
// after TTL plus the stale retention window, so stale-if-error still works
// while keeping growth bounded.
type RedisStore struct {
	client         *redis.Client
	staleRetention time.Duration
	logger         logger.Logger
}

type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	StaleRetention time.Duration
}

type redisEntry struct {
	Payload   []byte `json:"payload"`
	Source    string `json:"source"`
	CreatedAt int64  `json:"createdAt"`
	TTLMs     int64  `json:"ttlMs"`
}

func NewRedisStore(cfg RedisConfig, l logger.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	retention := cfg.StaleRetention
	if retention == 0 {
		retention = 72 * time.Hour // default stale retention
	}

	return &RedisStore{
		client:         client,
		staleRetention: retention,
		logger:         l,
	}, nil
}

var _ DurableStore = (*RedisStore)(nil)

func (s *RedisStore) GetEntry(key string) (Entry, bool, error) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis get error: %w", err)
	}

	var re redisEntry
	if err := json.Unmarshal(data, &re); err != nil {
		// Corrupted value: purge it and report a miss.
		s.logger.Warn("purging corrupt redis cache value", "key", key, "error", err)
		if err := s.DeleteEntry(key); err != nil {
			s.logger.Error("failed to purge corrupt redis cache value", "key", key, "error", err)
		}
		return Entry{}, false, nil
	}

	kind, _ := layer.ParseSourceKind(re.Source)

	return Entry{
		Key:       key,
		Payload:   re.Payload,
		Source:    kind,
		CreatedAt: time.UnixMilli(re.CreatedAt),
		TTL:       time.Duration(re.TTLMs) * time.Millisecond,
	}, true, nil
}

func (s *RedisStore) PutEntry(e Entry) error {
	ctx := context.Background()

	data, err := json.Marshal(redisEntry{
		Payload:   e.Payload,
		Source:    e.Source.String(),
		CreatedAt: e.CreatedAt.UnixMilli(),
		TTLMs:     e.TTL.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("redis entry encode error: %w", err)
	}

	if err := s.client.Set(ctx, e.Key, data, e.TTL+s.staleRetention).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

func (s *RedisStore) DeleteEntry(key string) error {
	if err := s.client.Del(context.Background(), key).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}

func (s *RedisStore) Purge() error {
	ctx := context.Background()

	iter := s.client.Scan(ctx, 0, "layer:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis purge error: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis purge scan error: %w", err)
	}

	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
