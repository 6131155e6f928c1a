package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"proxyhub/internal/auth"
	"proxyhub/internal/channel"
	"proxyhub/internal/config"
	"proxyhub/internal/constants"
	"proxyhub/internal/events"
	"proxyhub/internal/testutil"
	"proxyhub/internal/types"
)

func TestNormalizeServerURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
		skip bool
	}{
		{"localhost:8080", "http://localhost:8080", false},
		{"http://hub.example.com/", "http://hub.example.com", false},
		{"https://127.0.0.1:8443", "https://127.0.0.1:8443", true},
		{"https://hub.example.com", "https://hub.example.com", false},
	}
	for _, tt := range tests {
		got, skip := NormalizeServerURL(tt.in)
		if got != tt.want || skip != tt.skip {
			t.Errorf("NormalizeServerURL(%q) = %q, %v; want %q, %v", tt.in, got, skip, tt.want, tt.skip)
		}
	}

	c := New("https://hub.example.com", "")
	if got := c.WebSocketURL("/ws"); got != "wss://hub.example.com/ws" {
		t.Errorf("ws url = %q", got)
	}
}

func TestClientSendsTokenAndDecodes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token": "tok", "username": "ops"})
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(constants.SessionHeader) != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": constants.MsgUnauthorized})
			return
		}
		json.NewEncoder(w).Encode(types.Stats{ActiveSessions: 2, GatewayState: "open"})
	})
	mux.HandleFunc("/api/sessions/S1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"success": true, "was_active": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(srv.URL, "")
	ctx := context.Background()

	_, err := c.Stats(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != constants.MsgUnauthorized {
		t.Fatalf("stats without token: %v", err)
	}

	if _, err := c.Login(ctx, "ops", "pw"); err != nil {
		t.Fatal(err)
	}
	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.ActiveSessions != 2 || st.GatewayState != "open" {
		t.Fatalf("stats = %+v", st)
	}

	wasActive, err := c.Kick(ctx, "S1")
	if err != nil || !wasActive {
		t.Fatalf("kick = %v, %v", wasActive, err)
	}
}

func TestWatchReceivesEvents(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	verifier := auth.VerifierFunc(func(_ context.Context, token string) (*auth.Grant, error) {
		if token != "tok" {
			return nil, auth.ErrInvalidToken
		}
		return &auth.Grant{ID: "g", Username: "ops"}, nil
	})
	ch := channel.NewServer(config.ChannelConfig{
		IdleTimeout:   5 * time.Second,
		PingInterval:  time.Second,
		WriteTimeout:  time.Second,
		AuthTimeout:   2 * time.Second,
		SendQueue:     16,
		MaxFrameSize:  constants.MaxFrameSize,
		MaxConnsPerIP: 4,
	}, bus, channel.Options{Observers: verifier}, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(ch.ServeObservers))
	defer srv.Close()
	defer ch.Shutdown(context.Background())

	t.Run("rejected token", func(t *testing.T) {
		err := New(srv.URL, "bad").Watch(context.Background(), func(map[string]any) {})
		if !errors.Is(err, ErrAuthRejected) {
			t.Fatalf("err = %v", err)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	frames := make(chan map[string]any, 4)
	done := make(chan error, 1)
	go func() {
		done <- New(srv.URL, "tok").Watch(ctx, func(f map[string]any) { frames <- f })
	}()

	testutil.Eventually(t, 2*time.Second, func() bool { return ch.Count() == 1 }, "watcher registered")
	bus.Publish(events.ConfigUpdated("proxy.maintenance", "true", time.Now()))

	f := testutil.RequireReceive(t, frames, 2*time.Second, "config frame")
	if f["type"] != "config_updated" || f["key"] != "proxy.maintenance" {
		t.Fatalf("frame = %v", f)
	}

	cancel()
	if err := testutil.RequireReceive(t, done, 2*time.Second, "watch returned"); err != nil {
		t.Fatalf("watch: %v", err)
	}
}

func TestFormatEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	line := FormatEvent(map[string]any{
		"type":      "session_disconnected",
		"sessionId": "S1",
		"reason":    "admin_disconnected",
	}, now)
	if !strings.Contains(line, "S1") || !strings.Contains(line, "admin_disconnected") {
		t.Fatalf("line = %q", line)
	}
}

func TestPromptAndTokenFile(t *testing.T) {
	var out bytes.Buffer
	creds, err := PromptCredentials(strings.NewReader("ops\nhunter22\n"), &out, Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	if creds.Username != "ops" || creds.Password != "hunter22" {
		t.Fatalf("creds = %+v", creds)
	}
	if _, err := PromptCredentials(strings.NewReader(""), &out, Credentials{}); err == nil {
		t.Fatal("empty input accepted")
	}

	path := filepath.Join(t.TempDir(), "proxyhub", "token")
	if tok, err := LoadToken(path); err != nil || tok != "" {
		t.Fatalf("missing token file = %q, %v", tok, err)
	}
	if err := SaveToken(path, "tok"); err != nil {
		t.Fatal(err)
	}
	if tok, _ := LoadToken(path); tok != "tok" {
		t.Fatalf("token = %q", tok)
	}
}
