package ratelimit

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/vidaalinhada/alinhada/internal/clock"
	"github.com/vidaalinhada/alinhada/internal/config"
)

var Module = fx.Module("ratelimit",
	fx.Provide(Provide),
)

// Provide picks the Redis bucket when Redis is configured, the
// in-process bucket otherwise.
func Provide(cfg config.Config, clk clock.Clock, log *zap.Logger) Limiter {
	if cfg.Redis.Addr == "" {
		log.Info("rate limiter using in-process buckets")
		return NewLocalBucket(clk)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info("rate limiter using redis", zap.String("addr", cfg.Redis.Addr))
	return NewTokenBucket(client)
}
