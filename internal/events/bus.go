package events

import (
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Handler receives one event. A returned error (or a panic) is logged and
// does not affect delivery to other subscribers.
type Handler func(Event) error

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(Event)
}

// Subscription identifies a registered handler.
type Subscription struct {
	id   uint64
	name string
}

func (s Subscription) Name() string { return s.name }

type subscriber struct {
	id      uint64
	name    string
	handler Handler
}

// Bus delivers events synchronously to every handler registered at publish
// time, in subscription order. There is no buffering and no replay.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID uint64
	log    zerolog.Logger
}

func NewBus(log zerolog.Logger) *Bus {
	return &Bus{log: log.With().Str("component", "bus").Logger()}
}

func (b *Bus) Subscribe(name string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, subscriber{id: b.nextID, name: name, handler: h})
	return Subscription{id: b.nextID, name: name}
}

// Unsubscribe removes the handler. It reports false if it was already gone.
func (b *Bus) Unsubscribe(s Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == s.id {
			subs := make([]subscriber, 0, len(b.subs)-1)
			subs = append(subs, b.subs[:i]...)
			b.subs = append(subs, b.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.deliver(sub, ev); err != nil {
			b.log.Warn().Err(err).Str("subscriber", sub.name).Str("event", string(ev.Type)).Msg("⚠️  subscriber failed")
		}
	}
}

func (b *Bus) deliver(sub subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			b.log.Debug().Str("subscriber", sub.name).Msg(string(debug.Stack()))
		}
	}()
	return sub.handler(ev)
}
