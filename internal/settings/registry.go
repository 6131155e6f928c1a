package settings

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proxyhub/internal/events"
	"proxyhub/internal/security"
)

var ErrInvalidKey = errors.New("invalid setting key")

const (
	KeySessionPageSize = "admin.session_page_size"
	KeyAuditPageSize   = "admin.audit_page_size"
	KeyMaintenance     = "proxy.maintenance"
)

// Setting is one key/value pair.
type Setting struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Registry holds runtime-tunable settings. It has its own lock, separate from
// the session store, and publishes config_updated on every change.
type Registry struct {
	mu     sync.RWMutex
	values map[string]string
	bus    events.Publisher
	log    zerolog.Logger
}

func NewRegistry(bus events.Publisher, seed map[string]string, log zerolog.Logger) *Registry {
	values := make(map[string]string, len(seed))
	for k, v := range seed {
		values[k] = v
	}
	return &Registry{
		values: values,
		bus:    bus,
		log:    log.With().Str("component", "settings").Logger(),
	}
}

// Set stores value under key. It reports whether the value changed; an
// unchanged value publishes nothing.
func (r *Registry) Set(key, value string) (bool, error) {
	if !security.ValidateSettingKey(key) {
		return false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	value = security.SanitizeInput(value)

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.values[key]; ok && old == value {
		return false, nil
	}
	r.values[key] = value

	// published under the lock so subscribers see updates in write order
	if r.bus != nil {
		r.bus.Publish(events.ConfigUpdated(key, value, time.Now()))
	}
	r.log.Info().Str("key", key).Str("value", value).Msg("⚙️  setting updated")
	return true, nil
}

func (r *Registry) Get(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[key]
	return v, ok
}

// Int returns key parsed as a positive integer, or def.
func (r *Registry) Int(key string, def int) int {
	v, ok := r.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// Bool returns key parsed as a boolean, or false.
func (r *Registry) Bool(key string) bool {
	v, _ := r.Get(key)
	b, _ := strconv.ParseBool(v)
	return b
}

// All returns every setting sorted by key.
func (r *Registry) All() []Setting {
	r.mu.RLock()
	out := make([]Setting, 0, len(r.values))
	for k, v := range r.values {
		out = append(out, Setting{Key: k, Value: v})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
