package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"proxyhub/internal/constants"
	"proxyhub/internal/events"
	"proxyhub/internal/session"
	"proxyhub/internal/testutil"
	"proxyhub/internal/types"
)

type fakeHandle struct {
	done    chan struct{}
	once    sync.Once
	stopped bool
	mu      sync.Mutex
}

func newFakeHandle() *fakeHandle { return &fakeHandle{done: make(chan struct{})} }

func (h *fakeHandle) Done() <-chan struct{} { return h.done }
func (h *fakeHandle) Err() error            { return errors.New("exit status 1") }

func (h *fakeHandle) Stop(context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.exit()
	return nil
}

func (h *fakeHandle) exit() { h.once.Do(func() { close(h.done) }) }

func (h *fakeHandle) wasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type fakeDriver struct {
	mu      sync.Mutex
	err     error
	handles []*fakeHandle
}

func (d *fakeDriver) Start(context.Context, Target) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	h := newFakeHandle()
	d.handles = append(d.handles, h)
	return h, nil
}

type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
}

func (l *eventLog) Publish(ev events.Event) {
	l.mu.Lock()
	l.evs = append(l.evs, ev)
	l.mu.Unlock()
}

func (l *eventLog) last() (events.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.evs) == 0 {
		return events.Event{}, false
	}
	return l.evs[len(l.evs)-1], true
}

func newTestConnector(d Driver, opts Options) (*Connector, *session.Store, *eventLog) {
	log := &eventLog{}
	store := session.NewStore(log, zerolog.Nop())
	return NewConnector(store, d, opts, zerolog.Nop()), store, log
}

func TestConnectMarksSessionConnected(t *testing.T) {
	c, store, log := newTestConnector(&fakeDriver{}, Options{})

	sess, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "10.0.0.5", ProxyPort: 1080})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if sess.Status != types.StatusConnected {
		t.Fatalf("status = %s", sess.Status)
	}
	if got := store.Get(sess.SessionID); got == nil || got.Status != types.StatusConnected {
		t.Fatalf("store = %+v", got)
	}
	ev, _ := log.last()
	if ev.Type != events.TypeSessionConnected {
		t.Fatalf("last event = %s", ev.Type)
	}
}

func TestConnectValidatesTarget(t *testing.T) {
	c, _, _ := newTestConnector(&fakeDriver{}, Options{})
	for _, req := range []ConnectRequest{
		{ProxyHost: "", ProxyPort: 1080},
		{ProxyHost: "bad host!", ProxyPort: 1080},
		{ProxyHost: "10.0.0.5", ProxyPort: 0},
		{ProxyHost: "10.0.0.5", ProxyPort: 70000},
	} {
		if _, err := c.Connect(context.Background(), req); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("%+v: err = %v", req, err)
		}
	}
}

func TestConnectDriverFailureFailsSession(t *testing.T) {
	c, store, log := newTestConnector(&fakeDriver{err: errors.New("no route")}, Options{})

	if _, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "h", ProxyPort: 1}); err == nil {
		t.Fatal("expected error")
	}
	if store.Count() != 0 {
		t.Fatal("failed session left in store")
	}
	ev, ok := log.last()
	if !ok || ev.Type != events.TypeSessionDisconnected {
		t.Fatalf("event = %+v", ev)
	}
	p, _ := ev.Session()
	if p.Session.Status != types.StatusFailed || p.Reason != constants.ReasonConnectFailed {
		t.Fatalf("payload = %+v", p)
	}
}

func TestConnectRetriesDuplicateID(t *testing.T) {
	c, store, _ := newTestConnector(&fakeDriver{}, Options{})
	store.CreateSession("taken", nil, "h", 1)

	ids := []string{"taken", "fresh"}
	c.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	sess, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "h", ProxyPort: 2})
	if err != nil {
		t.Fatal(err)
	}
	if sess.SessionID != "fresh" {
		t.Fatalf("id = %s", sess.SessionID)
	}
}

func TestConnectGivesUpAfterRepeatedCollisions(t *testing.T) {
	c, store, _ := newTestConnector(&fakeDriver{}, Options{})
	store.CreateSession("taken", nil, "h", 1)
	c.newID = func() string { return "taken" }

	if _, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "h", ProxyPort: 2}); !errors.Is(err, ErrIDExhausted) {
		t.Fatalf("err = %v", err)
	}
}

type flags map[string]bool

func (f flags) Bool(k string) bool { return f[k] }

func TestConnectBlockedByMaintenance(t *testing.T) {
	c, _, _ := newTestConnector(&fakeDriver{}, Options{Flags: flags{"proxy.maintenance": true}, MaintenanceKey: "proxy.maintenance"})
	if _, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "h", ProxyPort: 1}); !errors.Is(err, ErrMaintenance) {
		t.Fatalf("err = %v", err)
	}
}

func TestDriverExitDisconnects(t *testing.T) {
	d := &fakeDriver{}
	c, store, log := newTestConnector(d, Options{})
	sess, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "h", ProxyPort: 1})
	if err != nil {
		t.Fatal(err)
	}

	d.handles[0].exit()
	testutil.Eventually(t, 2*time.Second, func() bool { return store.Get(sess.SessionID) == nil }, "session removed")

	ev, _ := log.last()
	p, _ := ev.Session()
	if p.Reason != constants.ReasonDriverExited {
		t.Fatalf("reason = %q", p.Reason)
	}
}

func TestDisconnectStopsDriver(t *testing.T) {
	d := &fakeDriver{}
	c, store, log := newTestConnector(d, Options{})
	sess, _ := c.Connect(context.Background(), ConnectRequest{ProxyHost: "h", ProxyPort: 1})

	final := c.Disconnect(context.Background(), sess.SessionID, constants.ReasonUserRequested)
	if final == nil || final.Status != types.StatusDisconnected {
		t.Fatalf("final = %+v", final)
	}
	if !d.handles[0].wasStopped() {
		t.Fatal("driver not stopped")
	}
	if c.Disconnect(context.Background(), sess.SessionID, constants.ReasonUserRequested) != nil {
		t.Fatal("second disconnect should return nil")
	}

	c.Shutdown(context.Background())
	if store.Count() != 0 {
		t.Fatal("store not empty")
	}
	ev, _ := log.last()
	if p, _ := ev.Session(); p.Reason != constants.ReasonUserRequested {
		t.Fatalf("watcher published extra event with reason %q", p.Reason)
	}
}

func TestResolverUpdatesLocation(t *testing.T) {
	geo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ip") != "10.0.0.5" {
			http.Error(w, "bad ip", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ip":"203.0.113.7","city":"Berlin","country":"DE"}`))
	}))
	defer geo.Close()

	c, store, _ := newTestConnector(&fakeDriver{}, Options{Resolver: NewHTTPResolver(geo.URL, time.Second)})
	sess, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "10.0.0.5", ProxyPort: 1080})
	if err != nil {
		t.Fatal(err)
	}

	testutil.Eventually(t, 2*time.Second, func() bool {
		got := store.Get(sess.SessionID)
		return got != nil && got.ExternalIP == "203.0.113.7" && got.Location == "Berlin, DE"
	}, "location resolved")
}

func TestShutdownDisconnectsEverything(t *testing.T) {
	c, store, _ := newTestConnector(&fakeDriver{}, Options{})
	for i := 0; i < 3; i++ {
		if _, err := c.Connect(context.Background(), ConnectRequest{ProxyHost: "h", ProxyPort: 1000 + i}); err != nil {
			t.Fatal(err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Shutdown(ctx)
	if store.Count() != 0 {
		t.Fatalf("%d sessions left", store.Count())
	}
}
