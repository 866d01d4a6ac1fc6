// Package store provides the durable store backends behind the cache: the
// Redis secondary tier (L2), the coordinator client (L0), and the router
// that selects between them once at startup.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// RedisConfig holds the L2 Redis connection and behavior settings
type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	Database     int           `yaml:"database"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
	ScanCount    int64         `yaml:"scan_count"`
}

// DefaultRedisConfig returns default Redis settings
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		KeyPrefix:    "tiercache:",
		ScanCount:    250,
	}
}

// RedisStore implements the Backend contract on Redis (the L2 tier)
type RedisStore struct {
	client    *redis.Client
	config    *RedisConfig
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore creates an L2 store backed by Redis
func NewRedisStore(config *RedisConfig, logger *zap.Logger) *RedisStore {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.ScanCount <= 0 {
		config.ScanCount = 250
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.Database,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	return &RedisStore{
		client:    client,
		config:    config,
		keyPrefix: config.KeyPrefix,
		logger:    logger,
	}
}

// Name identifies the backend in logs and errors
func (s *RedisStore) Name() string {
	return "redis"
}

// Capabilities reports that Redis supports both List and Clear
func (s *RedisStore) Capabilities() types.Capabilities {
	return types.Capabilities{List: true, Clear: true}
}

// Get returns the value for key, or (nil, nil) on a miss
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewBackendUnavailable(s.Name(), err).WithOperation("get")
	}
	return data, nil
}

// Put stores a value with a TTL
func (s *RedisStore) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, data, ttl).Err(); err != nil {
		return errors.NewBackendUnavailable(s.Name(), err).WithOperation("put")
	}
	return nil
}

// Delete removes a key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return errors.NewBackendUnavailable(s.Name(), err).WithOperation("delete")
	}
	return nil
}

// List returns one page of keys matching the prefix, using SCAN so large
// keyspaces never block the server. Cursor semantics follow Redis: an empty
// cursor starts a scan, Complete reports cursor exhaustion.
func (s *RedisStore) List(ctx context.Context, prefix, cursor string) (types.ListResult, error) {
	var scanCursor uint64
	if cursor != "" {
		if _, err := fmt.Sscanf(cursor, "%d", &scanCursor); err != nil {
			return types.ListResult{}, errors.NewError(errors.ErrCodeOperationFailed,
				fmt.Sprintf("invalid list cursor %q", cursor)).WithComponent("store")
		}
	}

	keys, next, err := s.client.Scan(ctx, scanCursor, s.keyPrefix+prefix+"*", s.config.ScanCount).Result()
	if err != nil {
		return types.ListResult{}, errors.NewBackendUnavailable(s.Name(), err).WithOperation("list")
	}

	trimmed := make([]string, 0, len(keys))
	for _, key := range keys {
		trimmed = append(trimmed, key[len(s.keyPrefix):])
	}

	result := types.ListResult{
		Keys:     trimmed,
		Complete: next == 0,
	}
	if next != 0 {
		result.Cursor = fmt.Sprintf("%d", next)
	}
	return result, nil
}

// Clear removes every key under the store's prefix, page by page
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.keyPrefix+"*", s.config.ScanCount).Result()
		if err != nil {
			return errors.NewBackendUnavailable(s.Name(), err).WithOperation("clear")
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return errors.NewBackendUnavailable(s.Name(), err).WithOperation("clear")
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Health pings Redis and reports latency
func (s *RedisStore) Health(ctx context.Context) (types.HealthStatus, error) {
	start := time.Now()
	err := s.client.Ping(ctx).Err()
	status := types.HealthStatus{
		Healthy:   err == nil,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	if err != nil {
		status.Message = err.Error()
		return status, errors.NewBackendUnavailable(s.Name(), err).WithOperation("health")
	}
	return status, nil
}

// Close releases the connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}
