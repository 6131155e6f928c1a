package events

import (
	"time"

	"proxyhub/internal/types"
)

// Type tags an Event. The set is closed: every Type has exactly one payload
// type, enforced by the constructors below.
type Type string

const (
	TypeSessionConnected    Type = "session_connected"
	TypeSessionDisconnected Type = "session_disconnected"
	TypeConfigUpdated       Type = "config_updated"
	TypeServiceStatus       Type = "service_status"
	TypeSyncEvent           Type = "sync_event"
)

// Known reports whether t is one of the declared event types.
func (t Type) Known() bool {
	switch t {
	case TypeSessionConnected, TypeSessionDisconnected, TypeConfigUpdated, TypeServiceStatus, TypeSyncEvent:
		return true
	}
	return false
}

// Mirrored reports whether events of this type are relayed to a remote
// aggregator. Remote-originated and administrative events stay local.
func (t Type) Mirrored() bool {
	switch t {
	case TypeSessionConnected, TypeSessionDisconnected, TypeConfigUpdated:
		return true
	}
	return false
}

// Payload is implemented only by the payload types in this package.
type Payload interface {
	isPayload()
}

// SessionPayload accompanies session_connected and session_disconnected.
type SessionPayload struct {
	Session types.Session
	Reason  string
}

// ConfigPayload accompanies config_updated.
type ConfigPayload struct {
	Key   string
	Value string
}

// ServicePayload accompanies service_status.
type ServicePayload struct {
	Status  string
	Message string
}

// SyncPayload accompanies sync_event: an event received from a remote
// gateway, kept as decoded JSON fields.
type SyncPayload struct {
	Origin    string
	EventType Type
	Fields    map[string]any
}

func (SessionPayload) isPayload() {}
func (ConfigPayload) isPayload()  {}
func (ServicePayload) isPayload() {}
func (SyncPayload) isPayload()    {}

// Event is an immutable record of a state change. Timestamp orders events
// within this process only.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   Payload
}

func SessionConnected(s types.Session, at time.Time) Event {
	return Event{Type: TypeSessionConnected, Timestamp: at, Payload: SessionPayload{Session: s}}
}

func SessionDisconnected(s types.Session, reason string, at time.Time) Event {
	return Event{Type: TypeSessionDisconnected, Timestamp: at, Payload: SessionPayload{Session: s, Reason: reason}}
}

func ConfigUpdated(key, value string, at time.Time) Event {
	return Event{Type: TypeConfigUpdated, Timestamp: at, Payload: ConfigPayload{Key: key, Value: value}}
}

func ServiceStatus(status, message string, at time.Time) Event {
	return Event{Type: TypeServiceStatus, Timestamp: at, Payload: ServicePayload{Status: status, Message: message}}
}

func SyncEvent(origin string, remote Type, fields map[string]any, at time.Time) Event {
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Event{Type: TypeSyncEvent, Timestamp: at, Payload: SyncPayload{Origin: origin, EventType: remote, Fields: copied}}
}

// Session returns the session payload, if the event carries one.
func (e Event) Session() (SessionPayload, bool) {
	p, ok := e.Payload.(SessionPayload)
	return p, ok
}
