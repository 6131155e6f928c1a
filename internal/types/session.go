package types

import "time"

// Status is the lifecycle state of a proxy session. Transitions only move
// forward: connecting → connected → disconnected, or connecting → failed.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDisconnected || s == StatusFailed
}

// Session is a point-in-time snapshot of one proxy connection. Values of this
// type are copies; mutating one never affects the store.
type Session struct {
	SessionID  string    `json:"sessionId"`
	UserID     *string   `json:"userId"`
	ProxyHost  string    `json:"proxyHost"`
	ProxyPort  int       `json:"proxyPort"`
	ExternalIP string    `json:"externalIp,omitempty"`
	Location   string    `json:"location,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	Status     Status    `json:"status"`
}

// Anonymous reports whether the session has no authenticated user.
func (s Session) Anonymous() bool {
	return s.UserID == nil || *s.UserID == ""
}

// User returns the user id or "" for anonymous sessions.
func (s Session) User() string {
	if s.UserID == nil {
		return ""
	}
	return *s.UserID
}
