package channel

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"proxyhub/internal/events"
	"proxyhub/internal/protocol"
)

// State is the lifecycle position of one channel connection.
type State int32

const (
	StateAccepted State = iota
	StateAwaitingAuth
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

type mode int

const (
	modeObserver mode = iota
	modeIngest
)

var (
	errSlowConsumer = errors.New("send queue full")
	errAuthFailed   = errors.New("authentication failed")
)

type outbound struct {
	data  []byte
	final bool
}

// Observer is one websocket connection. The read loop runs on the HTTP
// handler goroutine; a single writer goroutine owns every write.
type Observer struct {
	id       string
	ip       string
	mode     mode
	conn     *websocket.Conn
	send     chan outbound
	quit     chan struct{}
	wrote    chan struct{}
	state    atomic.Int32
	overrun  atomic.Bool
	operator string
	origin   string

	subMu      sync.Mutex
	sub        events.Subscription
	subscribed bool

	quitOnce sync.Once
	log      zerolog.Logger
}

func (o *Observer) ID() string       { return o.id }
func (o *Observer) State() State     { return State(o.state.Load()) }
func (o *Observer) setState(s State) { o.state.Store(int32(s)) }

// enqueue hands a frame to the writer without blocking. The first full
// queue kills the connection; later frames are refused until teardown.
func (o *Observer) enqueue(out outbound) error {
	if o.overrun.Load() {
		return errSlowConsumer
	}
	select {
	case <-o.quit:
		return nil
	default:
	}

	select {
	case o.send <- out:
		return nil
	default:
		if o.overrun.CompareAndSwap(false, true) {
			o.log.Warn().Int("queue", cap(o.send)).Msg("🐢 observer too slow, closing")
			o.conn.Close()
		}
		return errSlowConsumer
	}
}

func (o *Observer) deliver(ev events.Event) error {
	if o.State() != StateAuthenticated || o.overrun.Load() {
		return nil
	}
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return o.enqueue(outbound{data: data})
}

func (o *Observer) subscribe(bus *events.Bus) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.subscribed || o.State() == StateClosed {
		return
	}
	o.sub = bus.Subscribe("observer:"+o.id, o.deliver)
	o.subscribed = true
}

func (o *Observer) unsubscribe(bus *events.Bus) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if o.subscribed {
		bus.Unsubscribe(o.sub)
		o.subscribed = false
	}
}

func (o *Observer) stop() {
	o.quitOnce.Do(func() { close(o.quit) })
}

func (o *Observer) writeLoop(pingInterval, writeTimeout time.Duration) {
	defer close(o.wrote)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-o.send:
			o.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := o.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				o.log.Debug().Err(err).Msg("write failed")
				o.conn.Close()
				return
			}
			if out.final {
				o.writeClose(websocket.ClosePolicyViolation, "", writeTimeout)
				return
			}
		case <-ticker.C:
			if err := o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				o.log.Debug().Err(err).Msg("ping failed")
				o.conn.Close()
				return
			}
		case <-o.quit:
			o.writeClose(websocket.CloseNormalClosure, "", writeTimeout)
			return
		}
	}
}

func (o *Observer) writeClose(code int, text string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = o.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
}
