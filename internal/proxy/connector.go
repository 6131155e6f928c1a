package proxy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"proxyhub/internal/constants"
	"proxyhub/internal/security"
	"proxyhub/internal/session"
	"proxyhub/internal/types"
)

var (
	ErrInvalidTarget = errors.New("invalid proxy target")
	ErrMaintenance   = errors.New("new connections are paused for maintenance")
	ErrIDExhausted   = errors.New("could not allocate a unique session id")
)

// Flags exposes runtime switches the connector honours.
type Flags interface {
	Bool(key string) bool
}

// ConnectRequest is a client-initiated connect.
type ConnectRequest struct {
	ProxyHost string  `json:"proxyHost"`
	ProxyPort int     `json:"proxyPort"`
	UserID    *string `json:"userId,omitempty"`
}

// Connector drives a session from connecting to connected and tears the
// tunnel down again on disconnect.
type Connector struct {
	store       *session.Store
	driver      Driver
	resolver    Resolver
	flags       Flags
	maintenance string
	geoTimeout  time.Duration
	newID       func() string

	mu      sync.Mutex
	handles map[string]Handle
	wg      sync.WaitGroup

	log zerolog.Logger
}

type Options struct {
	Resolver Resolver
	Flags    Flags
	// MaintenanceKey names the flag that blocks new connects.
	MaintenanceKey string
	GeoTimeout     time.Duration
}

func NewConnector(store *session.Store, driver Driver, opts Options, log zerolog.Logger) *Connector {
	if opts.GeoTimeout == 0 {
		opts.GeoTimeout = constants.GeoLookupTimeout
	}
	return &Connector{
		store:       store,
		driver:      driver,
		resolver:    opts.Resolver,
		flags:       opts.Flags,
		maintenance: opts.MaintenanceKey,
		geoTimeout:  opts.GeoTimeout,
		newID:       uuid.NewString,
		handles:     make(map[string]Handle),
		log:         log.With().Str("component", "connector").Logger(),
	}
}

// Connect creates a session, starts its tunnel and marks it connected.
func (c *Connector) Connect(ctx context.Context, req ConnectRequest) (types.Session, error) {
	if !security.ValidateHost(req.ProxyHost) {
		return types.Session{}, fmt.Errorf("%w: %s", ErrInvalidTarget, constants.MsgInvalidHost)
	}
	if !security.ValidatePort(req.ProxyPort) {
		return types.Session{}, fmt.Errorf("%w: %s", ErrInvalidTarget, constants.MsgInvalidPort)
	}
	if c.flags != nil && c.maintenance != "" && c.flags.Bool(c.maintenance) {
		return types.Session{}, ErrMaintenance
	}

	id, err := c.create(req)
	if err != nil {
		return types.Session{}, err
	}

	h, err := c.driver.Start(ctx, Target{SessionID: id, Host: req.ProxyHost, Port: req.ProxyPort})
	if err != nil {
		c.store.Fail(id, constants.ReasonConnectFailed)
		return types.Session{}, err
	}

	c.mu.Lock()
	c.handles[id] = h
	c.mu.Unlock()

	sess, err := c.store.MarkConnected(id)
	if err != nil {
		// disconnected while the driver was starting
		c.release(id)
		stopCtx, cancel := context.WithTimeout(context.Background(), constants.DriverStopTimeout)
		h.Stop(stopCtx)
		cancel()
		return types.Session{}, err
	}

	c.wg.Add(1)
	go c.watch(id, h)

	if c.resolver != nil {
		c.wg.Add(1)
		go c.resolve(id, req.ProxyHost)
	}
	return sess, nil
}

func (c *Connector) create(req ConnectRequest) (string, error) {
	for attempt := 0; attempt < constants.MaxCreateAttempts; attempt++ {
		id := c.newID()
		_, err := c.store.CreateSession(id, req.UserID, req.ProxyHost, req.ProxyPort)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, session.ErrDuplicateSession) {
			return "", err
		}
		c.log.Warn().Str("session", id).Msg("♻️  session id collision, retrying")
	}
	return "", ErrIDExhausted
}

// watch disconnects the session if its tunnel exits on its own.
func (c *Connector) watch(id string, h Handle) {
	defer c.wg.Done()
	<-h.Done()
	if !c.release(id) {
		return
	}
	c.log.Warn().Err(h.Err()).Str("session", id).Msg("💥 driver exited")
	c.store.Disconnect(id, constants.ReasonDriverExited)
}

func (c *Connector) resolve(id, host string) {
	defer c.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), c.geoTimeout)
	defer cancel()

	ip, loc, err := c.resolver.Resolve(ctx, host)
	if err != nil {
		c.log.Debug().Err(err).Str("session", id).Msg("📍 location lookup failed")
		return
	}
	c.store.UpdateLocation(id, ip, loc)
}

// release forgets the handle and reports whether it was still tracked.
func (c *Connector) release(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.handles[id]; !ok {
		return false
	}
	delete(c.handles, id)
	return true
}

// Disconnect stops the tunnel and removes the session. It returns the final
// snapshot, or nil when the session was already gone.
func (c *Connector) Disconnect(ctx context.Context, id, reason string) *types.Session {
	c.mu.Lock()
	h, ok := c.handles[id]
	delete(c.handles, id)
	c.mu.Unlock()

	if ok {
		if err := h.Stop(ctx); err != nil {
			c.log.Warn().Err(err).Str("session", id).Msg("⚠️  failed to stop driver")
		}
	}
	return c.store.Disconnect(id, reason)
}

// Shutdown disconnects every session this connector started.
func (c *Connector) Shutdown(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.handles))
	for id := range c.handles {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		c.Disconnect(ctx, id, constants.ReasonServerShuttingDown)
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
