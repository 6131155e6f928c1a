package auth

import (
	"context"
	"time"
)

// Grant is the server-side record behind an operator token. Revoking a
// token deletes its grant; the JWT alone is never sufficient.
type Grant struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (g *Grant) IsExpired(now time.Time) bool {
	return now.After(g.ExpiresAt)
}

type TokenStore interface {
	Save(ctx context.Context, grant *Grant) error
	Get(ctx context.Context, id string) (*Grant, bool)
	Delete(ctx context.Context, id string) error
	Close() error
}
