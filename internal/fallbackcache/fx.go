package fallbackcache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/vidaalinhada/alinhada/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("fallbackcache",
	fx.Provide(Provide),
)

// Provide picks Redis when configured, the in-process cache otherwise.
func Provide(cfg config.Config, log *zap.Logger) Cache {
	if cfg.Redis.Addr == "" {
		log.Info("fallback cache using in-process store")
		return NewMemory()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Info("fallback cache using redis", zap.String("addr", cfg.Redis.Addr))
	return NewRedis(client)
}
