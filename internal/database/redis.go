package database

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sandeepkv93/taskmanager-auth/internal/config"
)

// NewRedisClient returns nil when Redis is disabled.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.RedisEnabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  cfg.RedisDialTimeout,
		ReadTimeout:  cfg.RedisReadTimeout,
		WriteTimeout: cfg.RedisReadTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.RedisDialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
