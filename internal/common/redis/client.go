package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgecomet/banpurge/internal/common/configtypes"
)

// Z is a sorted set member with its score
type Z = redis.Z

type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
	config *configtypes.RedisConfig
}

func NewClient(cfg *configtypes.RedisConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	client := &Client{
		rdb:    rdb,
		logger: logger,
		config: cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Debug("Redis client connected successfully",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return client, nil
}

func (c *Client) Ping(ctx context.Context) error {
	result, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		c.logger.Error("Redis ping failed", zap.Error(err))
		return err
	}
	if result != "PONG" {
		c.logger.Error("Redis ping returned unexpected response", zap.String("response", result))
		return fmt.Errorf("unexpected ping response: %s", result)
	}
	return nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	c.logger.Debug("Redis health check passed", zap.Duration("duration", time.Since(start)))
	return nil
}

// HSetWithExpire writes hash fields and refreshes the key TTL in one round trip
func (c *Client) HSetWithExpire(ctx context.Context, key string, expiration time.Duration, values ...interface{}) error {
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, expiration)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Error("Redis HSET+EXPIRE pipeline failed",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Error(err))
		return fmt.Errorf("redis hset with expire failed: %w", err)
	}
	return nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	result, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.logger.Error("Redis HGETALL failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	return result, nil
}

// ZAdd adds members to a sorted set, updating scores of existing members
func (c *Client) ZAdd(ctx context.Context, key string, members ...Z) error {
	if len(members) == 0 {
		return nil
	}
	if err := c.rdb.ZAdd(ctx, key, members...).Err(); err != nil {
		c.logger.Error("Redis ZADD failed",
			zap.String("key", key),
			zap.Int("members", len(members)),
			zap.Error(err))
		return fmt.Errorf("redis zadd failed: %w", err)
	}
	return nil
}

// ZCard returns the number of members in a sorted set
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	result, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		c.logger.Error("Redis ZCARD failed",
			zap.String("key", key),
			zap.Error(err))
		return 0, fmt.Errorf("redis zcard failed: %w", err)
	}
	return result, nil
}

// ZCount returns count of members with scores between min and max
func (c *Client) ZCount(ctx context.Context, key string, min, max string) (int64, error) {
	result, err := c.rdb.ZCount(ctx, key, min, max).Result()
	if err != nil {
		c.logger.Error("Redis ZCOUNT failed",
			zap.String("key", key),
			zap.String("min", min),
			zap.String("max", max),
			zap.Error(err))
		return 0, fmt.Errorf("redis zcount failed: %w", err)
	}
	return result, nil
}

func (c *Client) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	result, err := c.rdb.Eval(ctx, script, keys, args...).Result()
	if err != nil && err != redis.Nil {
		c.logger.Error("Redis EVAL failed",
			zap.Int("num_keys", len(keys)),
			zap.Int("num_args", len(args)),
			zap.Error(err))
		return nil, fmt.Errorf("redis eval failed: %w", err)
	}
	return result, nil
}

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		c.logger.Error("Failed to close Redis client", zap.Error(err))
		return err
	}
	c.logger.Debug("Redis client closed")
	return nil
}
