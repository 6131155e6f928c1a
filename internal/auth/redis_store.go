package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"proxyhub/internal/constants"
)

// RedisStore keeps grants in Redis so several server instances share logins.
// Keys expire with the grant, so no cleanup loop is needed.
type RedisStore struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisStore(ctx context.Context, opts *redis.Options, log zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{
		client: client,
		log:    log.With().Str("component", "token-store").Logger(),
	}, nil
}

func (st *RedisStore) Save(ctx context.Context, grant *Grant) error {
	ttl := time.Until(grant.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(grant)
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}

	if err := st.client.Set(ctx, constants.RedisKeyPrefix+grant.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	st.log.Debug().Str("grant", grant.ID).Dur("ttl", ttl).Msg("💾 saving grant to redis")
	return nil
}

func (st *RedisStore) Get(ctx context.Context, id string) (*Grant, bool) {
	data, err := st.client.Get(ctx, constants.RedisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		st.log.Warn().Err(err).Str("grant", id).Msg("⚠️  failed to get grant from redis")
		return nil, false
	}

	var grant Grant
	if err := json.Unmarshal(data, &grant); err != nil {
		st.log.Warn().Err(err).Str("grant", id).Msg("⚠️  failed to unmarshal grant")
		return nil, false
	}
	if grant.IsExpired(time.Now()) {
		st.client.Del(ctx, constants.RedisKeyPrefix+id)
		return nil, false
	}
	return &grant, true
}

func (st *RedisStore) Delete(ctx context.Context, id string) error {
	if err := st.client.Del(ctx, constants.RedisKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

func (st *RedisStore) Close() error {
	return st.client.Close()
}
