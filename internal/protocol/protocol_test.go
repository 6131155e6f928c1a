package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"proxyhub/internal/events"
	"proxyhub/internal/types"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    FrameType
		wantErr error
	}{
		{"authenticate", `{"type":"authenticate","sessionId":"tok"}`, FrameAuthenticate, nil},
		{"ping", `{"type":"ping"}`, FramePing, nil},
		{"not json", `hello`, "", ErrMalformedFrame},
		{"missing type", `{"sessionId":"tok"}`, "", ErrMalformedFrame},
		{"empty credential", `{"type":"authenticate"}`, "", ErrMalformedFrame},
		{"unknown type", `{"type":"subscribe"}`, "", ErrUnexpectedFrame},
		{"server frame", `{"type":"welcome"}`, "", ErrUnexpectedFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				var perr *Error
				if !errors.As(err, &perr) {
					t.Fatalf("err %T is not *Error", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Type != tt.want {
				t.Fatalf("type = %q, want %q", got.Type, tt.want)
			}
		})
	}
}

func TestControlFrames(t *testing.T) {
	var c Control
	if err := json.Unmarshal(Welcome("hi"), &c); err != nil {
		t.Fatal(err)
	}
	if c.Type != FrameWelcome || c.Message != "hi" {
		t.Fatalf("welcome = %+v", c)
	}

	got, err := DecodeInbound(Authenticate("secret", "edge-1"))
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "secret" || got.Origin != "edge-1" {
		t.Fatalf("authenticate = %+v", got)
	}

	if _, err := DecodeServer(AuthError("no")); err != nil {
		t.Fatalf("auth_error: %v", err)
	}
}

func TestEncodeSessionDisconnected(t *testing.T) {
	user := "u1"
	s := types.Session{
		SessionID: "S1",
		UserID:    &user,
		ProxyHost: "10.0.0.5",
		ProxyPort: 1080,
		StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:    types.StatusDisconnected,
	}
	data, err := EncodeEvent(events.SessionDisconnected(s, "user_requested", time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"type":      "session_disconnected",
		"sessionId": "S1",
		"userId":    "u1",
		"proxyHost": "10.0.0.5",
		"proxyPort": float64(1080),
		"reason":    "user_requested",
		"status":    "disconnected",
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %v, want %v", k, m[k], v)
		}
	}
	if _, ok := m["externalIp"]; ok {
		t.Error("externalIp should be omitted when empty")
	}
}

func TestEncodeAnonymousConnected(t *testing.T) {
	s := types.Session{SessionID: "S2", ProxyHost: "h", ProxyPort: 1, Status: types.StatusConnected}
	data, err := EncodeEvent(events.SessionConnected(s, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if v, ok := m["userId"]; !ok || v != nil {
		t.Fatalf("userId = %v (present %v), want null", v, ok)
	}
	if _, ok := m["reason"]; ok {
		t.Fatal("reason should only be set on disconnect")
	}
}

func TestSyncEventRoundTrip(t *testing.T) {
	s := types.Session{SessionID: "R1", ProxyHost: "h", ProxyPort: 9, Status: types.StatusConnected}
	remote, err := EncodeEvent(events.SessionConnected(s, time.Now()))
	if err != nil {
		t.Fatal(err)
	}

	typ, fields, err := DecodeRemoteEvent(remote)
	if err != nil {
		t.Fatal(err)
	}
	if typ != events.TypeSessionConnected {
		t.Fatalf("type = %q", typ)
	}

	data, err := EncodeEvent(events.SyncEvent("edge-1", typ, fields, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["type"] != "sync_event" || m["event_type"] != "session_connected" || m["origin"] != "edge-1" {
		t.Fatalf("envelope = %v", m)
	}
	if m["sessionId"] != "R1" {
		t.Fatalf("sessionId = %v", m["sessionId"])
	}
}

func TestDecodeRemoteEventRejectsLocalTypes(t *testing.T) {
	for _, frame := range []string{
		`{"type":"sync_event","event_type":"session_connected"}`,
		`{"type":"service_status","status":"starting"}`,
		`{"type":"authenticate","sessionId":"x"}`,
	} {
		if _, _, err := DecodeRemoteEvent([]byte(frame)); !errors.Is(err, ErrUnexpectedFrame) {
			t.Errorf("%s: err = %v", frame, err)
		}
	}
	if _, _, err := DecodeRemoteEvent([]byte(`[1,2]`)); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("array: err = %v", err)
	}
}
