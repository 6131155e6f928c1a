package auth

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"proxyhub/internal/config"
)

// NewStore builds the grant store named by cfg. A Redis store that cannot be
// reached falls back to memory so the server still starts.
func NewStore(ctx context.Context, cfg config.AuthConfig, log zerolog.Logger) TokenStore {
	if cfg.Store == "redis" {
		addr := cfg.Redis.Host + ":" + cfg.Redis.Port
		store, err := NewRedisStore(ctx, &redis.Options{
			Addr:     addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, log)
		if err != nil {
			log.Warn().Err(err).Str("addr", addr).Msg("⚠️  redis connection failed, falling back to in-memory grant store")
			return NewMemoryStore(log)
		}
		log.Info().Str("addr", addr).Msg("💾 using redis grant store")
		return store
	}

	log.Info().Msg("💾 using in-memory grant store")
	return NewMemoryStore(log)
}
