package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"proxyhub/internal/config"
	"proxyhub/internal/constants"
	"proxyhub/internal/events"
	"proxyhub/internal/protocol"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

var (
	ErrAuthRejected = errors.New("aggregator rejected credentials")
	ErrHandshake    = errors.New("handshake failed")
)

// ConnectError describes one failed attempt to reach the aggregator. It is
// always recovered by backing off and retrying.
type ConnectError struct {
	URL     string
	Attempt int
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("gateway connect %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Gateway mirrors local lifecycle events to a remote aggregator over a
// persistent websocket. Delivery is best effort: events published while the
// link is not open are dropped, and nothing is replayed after a reconnect.
type Gateway struct {
	cfg    config.GatewayConfig
	dialer *websocket.Dialer
	queue  chan []byte
	state  atomic.Int32

	sent    atomic.Uint64
	dropped atomic.Uint64

	errMu   sync.Mutex
	lastErr error

	log zerolog.Logger
}

func New(cfg config.GatewayConfig, log zerolog.Logger) *Gateway {
	return &Gateway{
		cfg: cfg,
		dialer: &websocket.Dialer{
			ReadBufferSize:   constants.WSReadBufferSize,
			WriteBufferSize:  constants.WSWriteBufferSize,
			HandshakeTimeout: cfg.ConnectTimeout,
		},
		queue: make(chan []byte, cfg.SendQueue),
		log:   log.With().Str("component", "gateway").Str("url", cfg.URL).Logger(),
	}
}

func (g *Gateway) State() State { return State(g.state.Load()) }

func (g *Gateway) setState(s State) { g.state.Store(int32(s)) }

// Counters returns how many events were forwarded and dropped.
func (g *Gateway) Counters() (sent, dropped uint64) {
	return g.sent.Load(), g.dropped.Load()
}

// LastError returns the most recent connect or link failure.
func (g *Gateway) LastError() error {
	g.errMu.Lock()
	defer g.errMu.Unlock()
	return g.lastErr
}

func (g *Gateway) setErr(err error) {
	g.errMu.Lock()
	g.lastErr = err
	g.errMu.Unlock()
}

// Handle is the bus subscriber. It never blocks and never fails the
// publisher: anything that cannot be queued right now is dropped.
func (g *Gateway) Handle(ev events.Event) error {
	if !ev.Type.Mirrored() {
		return nil
	}
	if g.State() != StateOpen {
		g.dropped.Add(1)
		return nil
	}
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	select {
	case g.queue <- data:
	default:
		g.dropped.Add(1)
		g.log.Warn().Str("event", string(ev.Type)).Msg("⚠️  gateway queue full, event dropped")
	}
	return nil
}

// Run keeps the link up until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	attempt := 0
	for {
		g.setState(StateConnecting)
		conn, err := g.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				g.setState(StateDisconnected)
				return nil
			}
			attempt++
			cerr := &ConnectError{URL: g.cfg.URL, Attempt: attempt, Err: err}
			g.setErr(cerr)
			g.setState(StateDisconnected)

			delay := Backoff(attempt, g.cfg.InitialBackoff, g.cfg.MaxBackoff)
			g.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("🔁 aggregator unreachable")
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		attempt = 0
		g.drain()
		g.setState(StateOpen)
		g.log.Info().Str("origin", g.cfg.Origin).Msg("🛰  gateway link open")

		err = g.pump(ctx, conn)
		g.setState(StateDisconnected)
		conn.Close()
		if ctx.Err() != nil {
			g.log.Info().Msg("🛑 gateway stopped")
			return nil
		}
		g.setErr(err)
		g.log.Warn().Err(err).Msg("🔌 gateway link lost")

		if !sleep(ctx, g.cfg.InitialBackoff) {
			return nil
		}
	}
}

func (g *Gateway) connect(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, g.cfg.ConnectTimeout)
	defer cancel()

	conn, resp, err := g.dialer.DialContext(dctx, g.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("server returned %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	conn.SetReadLimit(constants.MaxFrameSize)

	if err := g.handshake(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (g *Gateway) handshake(conn *websocket.Conn) error {
	deadline := time.Now().Add(g.cfg.ConnectTimeout)
	conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})

	welcome, err := readControl(conn)
	if err != nil {
		return err
	}
	if welcome.Type != protocol.FrameWelcome {
		return fmt.Errorf("%w: expected welcome, got %s", ErrHandshake, welcome.Type)
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, protocol.Authenticate(g.cfg.Token, g.cfg.Origin)); err != nil {
		return err
	}

	reply, err := readControl(conn)
	if err != nil {
		return err
	}
	switch reply.Type {
	case protocol.FrameAuthenticated:
		return nil
	case protocol.FrameAuthError:
		return fmt.Errorf("%w: %s", ErrAuthRejected, reply.Message)
	default:
		return fmt.Errorf("%w: expected authenticated, got %s", ErrHandshake, reply.Type)
	}
}

func readControl(conn *websocket.Conn) (protocol.Control, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Control{}, err
	}
	return protocol.DecodeServer(data)
}

// pump forwards queued frames until the link breaks or ctx ends. The link
// is considered dead when nothing, pongs included, arrives within
// IdleTimeout.
func (g *Gateway) pump(ctx context.Context, conn *websocket.Conn) error {
	idle, wt := g.cfg.IdleTimeout, g.cfg.WriteTimeout
	refresh := func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	}
	conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(refresh)
	conn.SetPingHandler(func(data string) error {
		refresh(data)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wt))
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			refresh("")
			if _, err := protocol.DecodeServer(data); err != nil {
				readErr <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(g.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
			conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wt))
			return ctx.Err()
		case err := <-readErr:
			return err
		case data := <-g.queue:
			conn.SetWriteDeadline(time.Now().Add(wt))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				g.dropped.Add(1)
				return err
			}
			g.sent.Add(1)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wt)); err != nil {
				return err
			}
		}
	}
}

// drain discards frames left over from a previous link.
func (g *Gateway) drain() {
	for {
		select {
		case <-g.queue:
			g.dropped.Add(1)
		default:
			return
		}
	}
}

// Backoff returns the delay before retry number attempt: initial doubled
// per attempt and capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
