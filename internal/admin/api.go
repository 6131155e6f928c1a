package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"proxyhub/internal/audit"
	"proxyhub/internal/auth"
	"proxyhub/internal/constants"
	"proxyhub/internal/gateway"
	"proxyhub/internal/proxy"
	"proxyhub/internal/security"
	"proxyhub/internal/session"
	"proxyhub/internal/settings"
)

// ObserverCounter reports live dashboard observers.
type ObserverCounter interface {
	Count() int
}

// GatewayStatus reports the sync gateway link state.
type GatewayStatus interface {
	State() gateway.State
}

// Deps are the components the API reads and drives. Audit and Gateway may
// be nil.
type Deps struct {
	Store     *session.Store
	Connector *proxy.Connector
	Settings  *settings.Registry
	Auth      *auth.Authenticator
	Guard     *security.BruteForceProtector
	IPs       *security.IPResolver
	Audit     *audit.Trail
	Observers ObserverCounter
	Gateway   GatewayStatus
}

// API serves the admin query and proxy control endpoints.
type API struct {
	deps Deps
	log  zerolog.Logger
}

func New(deps Deps, log zerolog.Logger) *API {
	if deps.IPs == nil {
		deps.IPs, _ = security.NewIPResolver(nil)
	}
	if deps.Guard == nil {
		deps.Guard = security.NewBruteForceProtector(constants.MaxAuthAttempts, constants.BlockDuration)
	}
	return &API{deps: deps, log: log.With().Str("component", "admin").Logger()}
}

// Handler builds the gin router.
func (a *API) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger(), bodyLimit(constants.MaxAPIBodySize))

	api := r.Group("/api")
	api.POST("/auth/login", a.login)

	authed := api.Group("", auth.Middleware(a.deps.Auth))
	authed.POST("/auth/logout", a.logout)

	authed.GET("/sessions", a.listSessions)
	authed.GET("/sessions/:id", a.getSession)
	authed.DELETE("/sessions/:id", a.forceDisconnect)
	authed.GET("/stats", a.stats)

	authed.GET("/config", a.listSettings)
	authed.PUT("/config/:key", a.updateSetting)

	authed.GET("/audit", a.auditLog)

	authed.POST("/proxy/connect", a.connect)
	authed.POST("/proxy/disconnect/:id", a.disconnect)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("ip", a.deps.IPs.ClientIP(c.Request)).
			Msg("📨 api request")
	}
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}

func (a *API) actor(c *gin.Context) string {
	if g, ok := auth.GrantFromContext(c); ok {
		return g.Username
	}
	return ""
}

func (a *API) audit(c *gin.Context, action, sessionID, details string) {
	if a.deps.Audit != nil {
		a.deps.Audit.LogAdmin(a.actor(c), a.deps.IPs.ClientIP(c.Request), action, sessionID, details)
	}
}
