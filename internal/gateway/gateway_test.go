package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"proxyhub/internal/auth"
	"proxyhub/internal/channel"
	"proxyhub/internal/config"
	"proxyhub/internal/constants"
	"proxyhub/internal/events"
	"proxyhub/internal/protocol"
	"proxyhub/internal/testutil"
	"proxyhub/internal/types"
)

const wait = 3 * time.Second

func TestBackoff(t *testing.T) {
	initial, max := 100*time.Millisecond, time.Second
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt, initial, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// aggregator runs a channel server with ingest enabled and one observer
// attached to its /ws endpoint.
type aggregator struct {
	srv      *channel.Server
	http     *httptest.Server
	observer *websocket.Conn
}

func newAggregator(t *testing.T) *aggregator {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	srv := channel.NewServer(config.ChannelConfig{
		IdleTimeout:   5 * time.Second,
		PingInterval:  time.Second,
		WriteTimeout:  time.Second,
		AuthTimeout:   3 * time.Second,
		SendQueue:     64,
		MaxFrameSize:  constants.MaxFrameSize,
		MaxConnsPerIP: 16,
	}, bus, channel.Options{
		Observers: auth.NewStaticVerifier([]string{"operator-token"}),
		Ingest:    auth.NewStaticVerifier([]string{"ingest-token"}),
	}, zerolog.Nop())

	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointObservers, srv.ServeObservers)
	mux.HandleFunc(constants.EndpointSync, srv.ServeSync)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		srv.Shutdown(ctx)
	})

	obs := testutil.DialWS(t, testutil.WSURL(ts, constants.EndpointObservers))
	testutil.ReadFrame(t, obs, wait)
	testutil.SendJSON(t, obs, map[string]string{"type": "authenticate", "sessionId": "operator-token"})
	if f := testutil.ReadFrame(t, obs, wait); f["type"] != "authenticated" {
		t.Fatalf("observer auth = %v", f)
	}
	testutil.Eventually(t, wait, func() bool { return srv.Count() == 1 }, "aggregator observer registered")

	return &aggregator{srv: srv, http: ts, observer: obs}
}

func testGatewayConfig(url, token string) config.GatewayConfig {
	return config.GatewayConfig{
		Enabled:        true,
		URL:            url,
		Token:          token,
		Origin:         "edge-1",
		ConnectTimeout: time.Second,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		SendQueue:      16,
		IdleTimeout:    5 * time.Second,
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
	}
}

func runGateway(t *testing.T, g *Gateway) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.Run(ctx); err != nil {
			t.Errorf("run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, wait, "gateway run loop exit")
	})
}

func TestGatewayMirrorsLifecycleEvents(t *testing.T) {
	agg := newAggregator(t)
	g := New(testGatewayConfig(testutil.WSURL(agg.http, constants.EndpointSync), "ingest-token"), zerolog.Nop())
	runGateway(t, g)
	testutil.Eventually(t, wait, func() bool { return g.State() == StateOpen }, "gateway open")

	now := time.Now()
	s := types.Session{SessionID: "S1", ProxyHost: "10.0.0.5", ProxyPort: 1080, Status: types.StatusConnected}

	// local-only events are not forwarded
	g.Handle(events.ServiceStatus("running", "", now))
	g.Handle(events.SyncEvent("other", events.TypeSessionConnected, map[string]any{"sessionId": "X"}, now))
	g.Handle(events.SessionConnected(s, now))
	g.Handle(events.ConfigUpdated("channel.idle_timeout", "90s", now))

	first := testutil.ReadFrame(t, agg.observer, wait)
	if first["type"] != "sync_event" || first["event_type"] != "session_connected" || first["sessionId"] != "S1" {
		t.Fatalf("first relay = %v", first)
	}
	if first["origin"] != "edge-1" {
		t.Fatalf("origin = %v", first["origin"])
	}
	second := testutil.ReadFrame(t, agg.observer, wait)
	if second["event_type"] != "config_updated" || second["key"] != "channel.idle_timeout" {
		t.Fatalf("second relay = %v", second)
	}

	sent, _ := g.Counters()
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
}

func TestGatewayDropsWhileNotOpen(t *testing.T) {
	g := New(testGatewayConfig("ws://127.0.0.1:1/sync", "t"), zerolog.Nop())
	s := types.Session{SessionID: "S1"}

	if err := g.Handle(events.SessionConnected(s, time.Now())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, dropped := g.Counters(); dropped != 1 {
		t.Fatalf("dropped = %d", dropped)
	}
	if g.State() != StateDisconnected {
		t.Fatalf("state = %s", g.State())
	}
}

func TestGatewayRetriesRejectedCredentials(t *testing.T) {
	agg := newAggregator(t)
	g := New(testGatewayConfig(testutil.WSURL(agg.http, constants.EndpointSync), "wrong-token"), zerolog.Nop())
	runGateway(t, g)

	testutil.Eventually(t, wait, func() bool {
		var cerr *ConnectError
		return errors.As(g.LastError(), &cerr) && cerr.Attempt >= 2 && errors.Is(cerr, ErrAuthRejected)
	}, "repeated auth rejections")
	if g.State() == StateOpen {
		t.Fatal("gateway opened with rejected credentials")
	}
}

func TestGatewayRetriesUnreachableAggregator(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := testutil.WSURL(ts, constants.EndpointSync)
	ts.Close()

	g := New(testGatewayConfig(url, "t"), zerolog.Nop())
	runGateway(t, g)

	testutil.Eventually(t, wait, func() bool {
		var cerr *ConnectError
		return errors.As(g.LastError(), &cerr) && cerr.Attempt >= 3
	}, "repeated connect attempts")
}

func TestGatewayLeavesOpenWhenAggregatorStops(t *testing.T) {
	agg := newAggregator(t)
	g := New(testGatewayConfig(testutil.WSURL(agg.http, constants.EndpointSync), "ingest-token"), zerolog.Nop())
	runGateway(t, g)
	testutil.Eventually(t, wait, func() bool { return g.State() == StateOpen }, "gateway open")

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	agg.srv.Shutdown(ctx)

	testutil.Eventually(t, wait, func() bool { return g.State() != StateOpen }, "gateway noticed link loss")
}

// silentAggregator completes the handshake and then never reads, so pings
// from the gateway go unanswered.
func silentAggregator(t *testing.T, accepted chan<- struct{}) *httptest.Server {
	t.Helper()
	release := make(chan struct{})
	var upgrader websocket.Upgrader
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, protocol.Welcome("hi"))
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, protocol.Authenticated("ok"))
		select {
		case accepted <- struct{}{}:
		default:
		}
		<-release
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(release) })
	return ts
}

func TestGatewayDropsIdleLink(t *testing.T) {
	accepted := make(chan struct{}, 8)
	ts := silentAggregator(t, accepted)

	cfg := testGatewayConfig(testutil.WSURL(ts, constants.EndpointSync), "t")
	cfg.PingInterval = 50 * time.Millisecond
	cfg.IdleTimeout = 200 * time.Millisecond
	g := New(cfg, zerolog.Nop())
	runGateway(t, g)

	for i := 0; i < 2; i++ {
		select {
		case <-accepted:
		case <-time.After(wait):
			t.Fatalf("link %d not established", i+1)
		}
	}
	var nerr net.Error
	if err := g.LastError(); !errors.As(err, &nerr) || !nerr.Timeout() {
		t.Fatalf("last error = %v, want read timeout", err)
	}
}
