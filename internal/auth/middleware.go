package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"proxyhub/internal/constants"
)

const grantContextKey = "operator_grant"

// TokenFromRequest reads the session token from the X-Session-Token header
// or an Authorization bearer.
func TokenFromRequest(r *http.Request) string {
	if tok := strings.TrimSpace(r.Header.Get(constants.SessionHeader)); tok != "" {
		return tok
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// Middleware rejects requests without a valid operator token.
func Middleware(v Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		grant, err := v.Verify(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			msg := constants.MsgUnauthorized
			if errors.Is(err, ErrExpiredToken) {
				msg = ErrExpiredToken.Error()
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set(grantContextKey, grant)
		c.Next()
	}
}

// GrantFromContext returns the grant stored by Middleware.
func GrantFromContext(c *gin.Context) (*Grant, bool) {
	v, ok := c.Get(grantContextKey)
	if !ok {
		return nil, false
	}
	g, ok := v.(*Grant)
	return g, ok
}
