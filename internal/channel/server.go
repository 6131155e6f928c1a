package channel

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"proxyhub/internal/auth"
	"proxyhub/internal/config"
	"proxyhub/internal/constants"
	"proxyhub/internal/events"
	"proxyhub/internal/protocol"
	"proxyhub/internal/security"
)

// SecurityRecorder receives authentication outcomes for the audit trail.
type SecurityRecorder interface {
	LogAuthFailure(ip, subject, reason string)
	LogAuthSuccess(ip, subject string)
	LogConnectionLimit(ip string)
}

type Options struct {
	// Observers verifies dashboard operator tokens on /ws. Required.
	Observers auth.Verifier
	// Ingest verifies remote gateway tokens on /sync. Nil disables ingest.
	Ingest         auth.Verifier
	Audit          SecurityRecorder
	IPs            *security.IPResolver
	AllowedOrigins []string
}

// Server accepts observer connections and fans bus events out to them.
type Server struct {
	cfg      config.ChannelConfig
	bus      *events.Bus
	opts     Options
	limiter  *security.ConnectionLimiter
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*Observer]struct{}
	closing bool
	wg      sync.WaitGroup

	log zerolog.Logger
}

func NewServer(cfg config.ChannelConfig, bus *events.Bus, opts Options, log zerolog.Logger) *Server {
	if opts.IPs == nil {
		opts.IPs, _ = security.NewIPResolver(nil)
	}
	s := &Server{
		cfg:     cfg,
		bus:     bus,
		opts:    opts,
		limiter: security.NewConnectionLimiter(cfg.MaxConnsPerIP),
		conns:   make(map[*Observer]struct{}),
		log:     log.With().Str("component", "channel").Logger(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  constants.WSReadBufferSize,
		WriteBufferSize: constants.WSWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return security.ValidateOrigin(r, opts.AllowedOrigins)
		},
	}
	return s
}

// ServeObservers is the /ws handler for dashboard observers.
func (s *Server) ServeObservers(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, modeObserver)
}

// ServeSync is the /sync handler for remote gateways.
func (s *Server) ServeSync(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ingest == nil {
		http.NotFound(w, r)
		return
	}
	s.serve(w, r, modeIngest)
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request, m mode) {
	ip := s.opts.IPs.ClientIP(r)
	if !s.limiter.TryConnect(ip) {
		if s.opts.Audit != nil {
			s.opts.Audit.LogConnectionLimit(ip)
		}
		http.Error(w, constants.MsgConnectionLimit, http.StatusTooManyRequests)
		return
	}
	defer s.limiter.Disconnect(ip)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Str("ip", ip).Msg("upgrade failed")
		return
	}

	o := &Observer{
		id:    uuid.NewString(),
		ip:    ip,
		mode:  m,
		conn:  conn,
		send:  make(chan outbound, s.cfg.SendQueue),
		quit:  make(chan struct{}),
		wrote: make(chan struct{}),
	}
	o.log = s.log.With().Str("observer", o.id).Str("ip", ip).Logger()

	if !s.track(o) {
		conn.Close()
		return
	}
	defer s.wg.Done()

	o.setState(StateAccepted)
	go o.writeLoop(s.cfg.PingInterval, s.cfg.WriteTimeout)
	o.enqueue(outbound{data: protocol.Welcome(constants.WelcomeMessage)})
	o.setState(StateAwaitingAuth)
	o.log.Debug().Msg("🔗 channel accepted")

	err = s.readLoop(r.Context(), o)
	s.teardown(o, err)
}

func (s *Server) track(o *Observer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[o] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) teardown(o *Observer, cause error) {
	o.setState(StateClosed)
	o.unsubscribe(s.bus)

	s.mu.Lock()
	delete(s.conns, o)
	s.mu.Unlock()

	if errors.Is(cause, errAuthFailed) {
		// let the writer flush auth_error before the socket goes away
		select {
		case <-o.wrote:
		case <-time.After(s.cfg.WriteTimeout):
		}
	}
	o.stop()
	<-o.wrote
	o.conn.Close()

	ev := o.log.Debug()
	if cause != nil && !isNormalClose(cause) {
		ev = o.log.Info().Err(cause)
	}
	ev.Str("operator", o.operator).Msg("🔌 channel closed")
}

func (s *Server) readLoop(ctx context.Context, o *Observer) error {
	conn := o.conn
	conn.SetReadLimit(s.cfg.MaxFrameSize)
	conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	conn.SetPongHandler(func(string) error {
		if o.State() == StateAuthenticated {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			return &protocol.Error{Err: protocol.ErrMalformedFrame, Detail: "binary frame"}
		}
		if o.State() == StateAuthenticated {
			conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}

		if o.mode == modeIngest && o.State() == StateAuthenticated {
			if err := s.handleIngest(o, data); err != nil {
				return err
			}
			continue
		}

		ctrl, err := protocol.DecodeInbound(data)
		if err != nil {
			return err
		}
		switch ctrl.Type {
		case protocol.FramePing:
			if err := o.enqueue(outbound{data: protocol.Pong()}); err != nil {
				return err
			}
		case protocol.FrameAuthenticate:
			if o.State() != StateAwaitingAuth {
				return &protocol.Error{Err: protocol.ErrUnexpectedFrame, Detail: "already authenticated"}
			}
			if err := s.authenticate(ctx, o, ctrl); err != nil {
				return err
			}
		}
	}
}

func (s *Server) authenticate(ctx context.Context, o *Observer, ctrl protocol.Control) error {
	verifier := s.opts.Observers
	if o.mode == modeIngest {
		verifier = s.opts.Ingest
	}

	grant, err := verifier.Verify(ctx, ctrl.SessionID)
	if err != nil {
		if s.opts.Audit != nil {
			s.opts.Audit.LogAuthFailure(o.ip, "channel", err.Error())
		}
		o.log.Warn().Err(err).Msg("🚫 channel authentication failed")
		o.enqueue(outbound{data: protocol.AuthError(constants.AuthFailedMessage), final: true})
		return errAuthFailed
	}

	o.operator = grant.Username
	o.origin = ctrl.Origin
	if o.origin == "" {
		o.origin = o.ip
	}
	if s.opts.Audit != nil {
		s.opts.Audit.LogAuthSuccess(o.ip, grant.Username)
	}

	if err := o.enqueue(outbound{data: protocol.Authenticated(constants.AuthenticatedMessage)}); err != nil {
		return err
	}
	o.setState(StateAuthenticated)
	o.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	if o.mode == modeObserver {
		o.subscribe(s.bus)
		o.log.Info().Str("operator", grant.Username).Msg("👀 observer authenticated")
	} else {
		o.log.Info().Str("origin", o.origin).Msg("🛰  gateway authenticated")
	}
	return nil
}

// handleIngest republishes one remote event frame as sync_event.
func (s *Server) handleIngest(o *Observer, data []byte) error {
	if ctrl, err := protocol.DecodeInbound(data); err == nil {
		if ctrl.Type == protocol.FramePing {
			return o.enqueue(outbound{data: protocol.Pong()})
		}
		return &protocol.Error{Err: protocol.ErrUnexpectedFrame, Detail: "already authenticated"}
	}

	remote, fields, err := protocol.DecodeRemoteEvent(data)
	if err != nil {
		return err
	}
	s.bus.Publish(events.SyncEvent(o.origin, remote, fields, time.Now()))
	return nil
}

// Count returns the number of authenticated dashboard observers.
func (s *Server) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for o := range s.conns {
		if o.mode == modeObserver && o.State() == StateAuthenticated {
			n++
		}
	}
	return n
}

// Connections returns every open channel connection, authenticated or not.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every connection and waits for their handlers to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*Observer, 0, len(s.conns))
	for o := range s.conns {
		conns = append(conns, o)
	}
	s.mu.Unlock()

	for _, o := range conns {
		o.stop()
		o.conn.SetReadDeadline(time.Now())
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Int("closed", len(conns)).Msg("🛑 channel server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
