package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proxyhub/internal/events"
	"proxyhub/internal/types"
)

var (
	ErrDuplicateSession = errors.New("session already exists")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidSessionID = errors.New("session id is required")
)

// Store is the authoritative registry of active proxy sessions. A single
// mutex guards the map; every mutation publishes its event while still
// holding it, so event order always equals mutation order.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*types.Session
	bus      events.Publisher
	now      func() time.Time
	log      zerolog.Logger
}

func NewStore(bus events.Publisher, log zerolog.Logger) *Store {
	return &Store{
		sessions: make(map[string]*types.Session),
		bus:      bus,
		now:      time.Now,
		log:      log.With().Str("component", "store").Logger(),
	}
}

// CreateSession registers a new session in the connecting state. No event
// is published: connecting is local-only.
func (st *Store) CreateSession(sessionID string, userID *string, proxyHost string, proxyPort int) (types.Session, error) {
	if sessionID == "" {
		return types.Session{}, ErrInvalidSessionID
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, exists := st.sessions[sessionID]; exists {
		return types.Session{}, fmt.Errorf("%w: %s", ErrDuplicateSession, sessionID)
	}

	var uid *string
	if userID != nil {
		v := *userID
		uid = &v
	}

	sess := &types.Session{
		SessionID: sessionID,
		UserID:    uid,
		ProxyHost: proxyHost,
		ProxyPort: proxyPort,
		StartedAt: st.now(),
		Status:    types.StatusConnecting,
	}
	st.sessions[sessionID] = sess

	st.log.Debug().Str("session", sessionID).Str("target", fmt.Sprintf("%s:%d", proxyHost, proxyPort)).Msg("🆕 session created")
	return snapshot(sess), nil
}

// MarkConnected moves a session to connected and publishes session_connected.
// Calling it on an already connected session is a no-op.
func (st *Store) MarkConnected(sessionID string) (types.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[sessionID]
	if !ok {
		return types.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if sess.Status == types.StatusConnected {
		return snapshot(sess), nil
	}

	sess.Status = types.StatusConnected
	snap := snapshot(sess)
	st.publish(events.SessionConnected(snap, st.now()))

	st.log.Info().Str("session", sessionID).Str("target", fmt.Sprintf("%s:%d", snap.ProxyHost, snap.ProxyPort)).Msg("✅ session connected")
	return snap, nil
}

// UpdateLocation records resolved network metadata. Lookups race with
// disconnect, so an absent session is logged and ignored.
func (st *Store) UpdateLocation(sessionID, externalIP, location string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[sessionID]
	if !ok {
		st.log.Debug().Str("session", sessionID).Msg("📍 location update for unknown session ignored")
		return
	}
	sess.ExternalIP = externalIP
	sess.Location = location
}

// Disconnect removes the session and publishes session_disconnected with the
// final snapshot. It returns nil when the session is already gone.
func (st *Store) Disconnect(sessionID, reason string) *types.Session {
	return st.remove(sessionID, types.StatusDisconnected, reason)
}

// Fail removes a session whose connect attempt did not succeed. The
// published snapshot carries status failed.
func (st *Store) Fail(sessionID, reason string) *types.Session {
	return st.remove(sessionID, types.StatusFailed, reason)
}

func (st *Store) remove(sessionID string, final types.Status, reason string) *types.Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[sessionID]
	if !ok {
		return nil
	}
	delete(st.sessions, sessionID)

	if final == types.StatusFailed && sess.Status == types.StatusConnected {
		// a connected session can only end as disconnected
		final = types.StatusDisconnected
	}
	sess.Status = final
	snap := snapshot(sess)
	st.publish(events.SessionDisconnected(snap, reason, st.now()))

	st.log.Info().Str("session", sessionID).Str("reason", reason).Str("status", string(final)).Msg("🔌 session removed")
	return &snap
}

// Get returns a snapshot of the session, or nil.
func (st *Store) Get(sessionID string) *types.Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[sessionID]
	if !ok {
		return nil
	}
	snap := snapshot(sess)
	return &snap
}

// ListActive returns connected sessions, most recently started first.
func (st *Store) ListActive() []types.Session {
	return st.list(func(s *types.Session) bool { return s.Status == types.StatusConnected })
}

// All returns every tracked session including those still connecting.
func (st *Store) All() []types.Session {
	return st.list(func(*types.Session) bool { return true })
}

func (st *Store) Count() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func (st *Store) list(keep func(*types.Session) bool) []types.Session {
	st.mu.Lock()
	out := make([]types.Session, 0, len(st.sessions))
	for _, sess := range st.sessions {
		if keep(sess) {
			out = append(out, snapshot(sess))
		}
	}
	st.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (st *Store) publish(ev events.Event) {
	if st.bus != nil {
		st.bus.Publish(ev)
	}
}

func snapshot(s *types.Session) types.Session {
	out := *s
	if s.UserID != nil {
		v := *s.UserID
		out.UserID = &v
	}
	return out
}
