package protocol

import (
	"encoding/json"
	"fmt"

	"proxyhub/internal/events"
)

// reserved keys are owned by the envelope and never taken from a remote payload
var reserved = map[string]struct{}{"type": {}, "event_type": {}, "origin": {}}

// EncodeEvent renders ev as one flat JSON object keyed by "type".
func EncodeEvent(ev events.Event) ([]byte, error) {
	fields, err := EventFields(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// EventFields flattens ev into the frame's key set.
func EventFields(ev events.Event) (map[string]any, error) {
	m := map[string]any{
		"type":      string(ev.Type),
		"timestamp": ev.Timestamp,
	}

	switch p := ev.Payload.(type) {
	case events.SessionPayload:
		s := p.Session
		m["sessionId"] = s.SessionID
		if s.UserID != nil {
			m["userId"] = *s.UserID
		} else {
			m["userId"] = nil
		}
		m["proxyHost"] = s.ProxyHost
		m["proxyPort"] = s.ProxyPort
		m["startedAt"] = s.StartedAt
		m["status"] = string(s.Status)
		if s.ExternalIP != "" {
			m["externalIp"] = s.ExternalIP
		}
		if s.Location != "" {
			m["location"] = s.Location
		}
		if ev.Type == events.TypeSessionDisconnected {
			m["reason"] = p.Reason
		}
	case events.ConfigPayload:
		m["key"] = p.Key
		m["value"] = p.Value
	case events.ServicePayload:
		m["status"] = p.Status
		if p.Message != "" {
			m["message"] = p.Message
		}
	case events.SyncPayload:
		for k, v := range p.Fields {
			if _, skip := reserved[k]; !skip {
				m[k] = v
			}
		}
		m["event_type"] = string(p.EventType)
		m["origin"] = p.Origin
	default:
		return nil, fmt.Errorf("unsupported payload %T for %s", ev.Payload, ev.Type)
	}
	return m, nil
}

// DecodeRemoteEvent parses an event frame streamed by a remote gateway. Only
// mirrored types are accepted; the remaining keys are returned as fields.
func DecodeRemoteEvent(data []byte) (events.Type, map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return "", nil, malformed("%v", err)
	}
	raw, ok := m["type"].(string)
	if !ok || raw == "" {
		return "", nil, malformed("missing type")
	}
	t := events.Type(raw)
	if !t.Mirrored() {
		return "", nil, unexpected("type %q", raw)
	}
	for k := range reserved {
		delete(m, k)
	}
	return t, m, nil
}
