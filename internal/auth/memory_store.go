package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proxyhub/internal/constants"
)

type MemoryStore struct {
	grants sync.Map
	now    func() time.Time
	log    zerolog.Logger
	stop   chan struct{}
	once   sync.Once
}

func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	store := &MemoryStore{
		now:  time.Now,
		log:  log.With().Str("component", "token-store").Logger(),
		stop: make(chan struct{}),
	}
	go store.cleanupLoop()
	return store
}

func (st *MemoryStore) Save(_ context.Context, grant *Grant) error {
	st.log.Debug().Str("grant", grant.ID).Str("operator", grant.Username).Msg("💾 saving grant to memory")
	copied := *grant
	st.grants.Store(grant.ID, &copied)
	return nil
}

func (st *MemoryStore) Get(_ context.Context, id string) (*Grant, bool) {
	val, ok := st.grants.Load(id)
	if !ok {
		return nil, false
	}
	grant := val.(*Grant)
	if grant.IsExpired(st.now()) {
		st.grants.Delete(id)
		return nil, false
	}
	copied := *grant
	return &copied, true
}

func (st *MemoryStore) Delete(_ context.Context, id string) error {
	st.grants.Delete(id)
	return nil
}

func (st *MemoryStore) Close() error {
	st.once.Do(func() { close(st.stop) })
	return nil
}

func (st *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.purge()
		}
	}
}

func (st *MemoryStore) purge() {
	now := st.now()
	st.grants.Range(func(key, value any) bool {
		if value.(*Grant).IsExpired(now) {
			st.grants.Delete(key)
			st.log.Debug().Str("grant", key.(string)).Msg("🗑 expired grant cleaned up")
		}
		return true
	})
}
