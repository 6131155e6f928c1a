package audit

import (
	"time"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindEvent    Kind = "event"
	KindSecurity Kind = "security"
	KindAdmin    Kind = "admin"
)

// Entry is one row of the audit trail.
type Entry struct {
	ID        string         `gorm:"primaryKey" json:"id"`
	Kind      Kind           `gorm:"index" json:"kind"`
	EventType string         `gorm:"index" json:"event_type"`
	SessionID string         `gorm:"index" json:"session_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Severity  string         `json:"severity"`
	Details   string         `json:"details,omitempty"`
	Payload   datatypes.JSON `json:"payload,omitempty"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (Entry) TableName() string { return "audit_entries" }
