package store

import (
	"go.uber.org/zap"

	"github.com/tiercache/tiercache/internal/config"
	"github.com/tiercache/tiercache/pkg/errors"
)

// FromConfig resolves the configured durable backend and wraps it in a
// router. The selection is made exactly once here; an unknown backend name
// fails fast instead of defaulting.
func FromConfig(cfg *config.Configuration, logger *zap.Logger) (*Router, error) {
	if cfg == nil {
		return nil, errors.NewError(errors.ErrCodeMissingConfig, "store requires a configuration").
			WithComponent("store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Store.Backend {
	case "redis":
		return NewRouter(NewRedisStore(redisConfigFrom(cfg), logger.Named("redis")), nil, logger)

	case "coordinator":
		coordCfg := DefaultCoordinatorConfig()
		if cfg.Store.Coordinator.BaseURL != "" {
			coordCfg.BaseURL = cfg.Store.Coordinator.BaseURL
		}
		if cfg.Store.Coordinator.RequestTimeout > 0 {
			coordCfg.RequestTimeout = cfg.Store.Coordinator.RequestTimeout
		}
		// The coordinator cannot list; the Redis tier serves list requests
		// so prefix invalidation still reaches durable entries.
		fallback := NewRedisStore(redisConfigFrom(cfg), logger.Named("redis"))
		return NewRouter(NewCoordinatorStore(coordCfg, logger.Named("coordinator")), fallback, logger)

	default:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig,
			"unknown store backend: "+cfg.Store.Backend).
			WithComponent("store")
	}
}

func redisConfigFrom(cfg *config.Configuration) *RedisConfig {
	redisCfg := DefaultRedisConfig()
	if cfg.Store.Redis.Addr != "" {
		redisCfg.Address = cfg.Store.Redis.Addr
	}
	redisCfg.Password = cfg.Store.Redis.Password
	redisCfg.Database = cfg.Store.Redis.DB
	if cfg.Store.Redis.KeyPrefix != "" {
		redisCfg.KeyPrefix = cfg.Store.Redis.KeyPrefix
	}
	return redisCfg
}
