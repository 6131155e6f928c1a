package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"proxyhub/internal/audit"
	"proxyhub/internal/auth"
	"proxyhub/internal/constants"
	"proxyhub/internal/proxy"
	"proxyhub/internal/session"
	"proxyhub/internal/settings"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *API) login(c *gin.Context) {
	ip := a.deps.IPs.ClientIP(c.Request)
	if !a.deps.Guard.Check(ip) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": constants.MsgTooManyAttempts})
		return
	}

	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": constants.MsgInvalidJSON})
		return
	}

	token, grant, err := a.deps.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			a.log.Error().Err(err).Msg("❌ login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": constants.MsgInternalServerError})
			return
		}
		attempts := a.deps.Guard.RecordFailure(ip)
		if a.deps.Audit != nil {
			a.deps.Audit.LogAuthFailure(ip, req.Username, err.Error())
			if attempts >= constants.MaxAuthAttempts {
				a.deps.Audit.LogBruteForce(ip, req.Username, attempts)
			}
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": constants.MsgInvalidCredentials})
		return
	}

	a.deps.Guard.RecordSuccess(ip)
	if a.deps.Audit != nil {
		a.deps.Audit.LogAuthSuccess(ip, grant.Username)
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"username":   grant.Username,
		"expires_at": grant.ExpiresAt,
	})
}

func (a *API) logout(c *gin.Context) {
	if err := a.deps.Auth.Logout(c.Request.Context(), auth.TokenFromRequest(c.Request)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": constants.MsgUnauthorized})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// listSessions answers listActiveSessions: connected sessions, newest first.
func (a *API) listSessions(c *gin.Context) {
	def := constants.DefaultSessionPageSize
	if a.deps.Settings != nil {
		def = a.deps.Settings.Int(settings.KeySessionPageSize, def)
	}
	limit, ok := parseLimit(c, def, constants.MaxSessionPageSize)
	if !ok {
		return
	}

	sessions := a.deps.Store.ListActive()
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	c.JSON(http.StatusOK, sessions)
}

func (a *API) getSession(c *gin.Context) {
	s := a.deps.Store.Get(c.Param("id"))
	if s == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": constants.MsgSessionNotFound})
		return
	}
	c.JSON(http.StatusOK, s)
}

// forceDisconnect always reports success: a session that is already gone
// already satisfies the request.
func (a *API) forceDisconnect(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": constants.MsgInvalidSessionID})
		return
	}

	final := a.deps.Connector.Disconnect(c.Request.Context(), id, constants.ReasonAdminDisconnected)
	if final == nil {
		a.audit(c, "already_disconnected", id, "")
	} else {
		a.audit(c, "force_disconnect", id, string(final.Status))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "was_active": final != nil})
}

// stats answers getStats, extended with the channel and gateway state.
func (a *API) stats(c *gin.Context) {
	stats := session.Stats(a.deps.Store.All())
	if a.deps.Observers != nil {
		stats.Observers = a.deps.Observers.Count()
	}
	stats.GatewayState = "disabled"
	if a.deps.Gateway != nil {
		stats.GatewayState = a.deps.Gateway.State().String()
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) listSettings(c *gin.Context) {
	if a.deps.Settings == nil {
		c.JSON(http.StatusOK, []settings.Setting{})
		return
	}
	c.JSON(http.StatusOK, a.deps.Settings.All())
}

type settingRequest struct {
	Value *string `json:"value" binding:"required"`
}

func (a *API) updateSetting(c *gin.Context) {
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": constants.MsgInvalidJSON})
		return
	}
	if a.deps.Settings == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": constants.MsgInvalidSettingKey})
		return
	}

	key := c.Param("key")
	changed, err := a.deps.Settings.Set(key, *req.Value)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": constants.MsgInvalidSettingKey})
		return
	}
	if changed {
		a.audit(c, "config_update", "", key)
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": *req.Value, "changed": changed})
}

func (a *API) auditLog(c *gin.Context) {
	if a.deps.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": constants.MsgAuditUnavailable})
		return
	}
	def := constants.DefaultAuditPageSize
	if a.deps.Settings != nil {
		def = a.deps.Settings.Int(settings.KeyAuditPageSize, def)
	}
	limit, ok := parseLimit(c, def, constants.MaxAuditPageSize)
	if !ok {
		return
	}

	entries, err := a.deps.Audit.Recent(c.Request.Context(), audit.Query{
		Kind:      audit.Kind(c.Query("kind")),
		SessionID: c.Query("session"),
		Limit:     limit,
	})
	if err != nil {
		a.log.Error().Err(err).Msg("❌ audit query failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": constants.MsgInternalServerError})
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *API) connect(c *gin.Context) {
	var req proxy.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": constants.MsgInvalidJSON})
		return
	}

	sess, err := a.deps.Connector.Connect(c.Request.Context(), req)
	switch {
	case err == nil:
		a.audit(c, "proxy_connect", sess.SessionID, "")
		c.JSON(http.StatusCreated, sess)
	case errors.Is(err, proxy.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, proxy.ErrMaintenance):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		a.log.Warn().Err(err).Str("target", req.ProxyHost).Msg("⚠️  proxy connect failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func (a *API) disconnect(c *gin.Context) {
	final := a.deps.Connector.Disconnect(c.Request.Context(), c.Param("id"), constants.ReasonUserRequested)
	c.JSON(http.StatusOK, gin.H{"success": true, "was_active": final != nil})
}

func parseLimit(c *gin.Context, def, max int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return 0, false
	}
	if n > max {
		n = max
	}
	return n, true
}
