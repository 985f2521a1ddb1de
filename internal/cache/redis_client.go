package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rohankatakam/osspulse/internal/config"
	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/sirupsen/logrus"
)

// Redis is the shared cache used by API replicas.
type Redis struct {
	client *redis.Client
	logger logrus.FieldLogger
	ttl    time.Duration
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.CacheConfig, logger logrus.FieldLogger) (*Redis, error) {
	if cfg.RedisAddr == "" {
		return nil, errors.ConfigErrorf("redis address missing")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NetworkError(err, "connect to redis at "+cfg.RedisAddr)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	log := logger.WithField("component", "redis")
	log.WithField("addr", cfg.RedisAddr).Info("redis client connected")
	return &Redis{client: client, logger: log, ttl: ttl}, nil
}

func (c *Redis) Close() error {
	if err := c.client.Close(); err != nil {
		return errors.NetworkError(err, "close redis client")
	}
	return nil
}

// HealthCheck pings the server.
func (c *Redis) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return errors.NetworkError(err, "redis health check failed")
	}
	return nil
}

// Get unmarshals the cached value into target. It reports false on a miss.
func (c *Redis) Get(ctx context.Context, key string, target interface{}) (bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.logger.WithField("key", key).Debug("cache miss")
		return false, nil
	}
	if err != nil {
		return false, errors.NetworkError(err, "redis get "+key)
	}
	if err := json.Unmarshal(val, target); err != nil {
		return false, errors.InternalErrorf("decode cached value %s: %v", key, err)
	}
	c.logger.WithField("key", key).Debug("cache hit")
	return true, nil
}

// Set stores value with the configured TTL.
func (c *Redis) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

func (c *Redis) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.InternalErrorf("encode cached value %s: %v", key, err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return errors.NetworkError(err, "redis set "+key)
	}
	return nil
}

// DeletePattern scans for matching keys and deletes them.
func (c *Redis) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return 0, errors.NetworkError(err, "redis scan "+pattern)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, errors.NetworkError(err, "redis delete "+pattern)
	}
	c.logger.WithFields(logrus.Fields{"pattern": pattern, "deleted": deleted}).Info("cache pattern delete")
	return deleted, nil
}

// Open returns Redis when an address is configured and the in-process
// cache otherwise.
func Open(ctx context.Context, cfg config.CacheConfig, logger logrus.FieldLogger) (Cache, error) {
	if cfg.RedisAddr == "" {
		return NewMemory(cfg.TTL, logger), nil
	}
	r, err := NewRedis(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return r, nil
}
