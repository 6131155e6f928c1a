package security

import "testing"

func TestConnectionLimiter(t *testing.T) {
	cl := NewConnectionLimiter(2)
	ip := "203.0.113.7"

	if !cl.TryConnect(ip) || !cl.TryConnect(ip) {
		t.Fatal("connections under the cap rejected")
	}
	if cl.TryConnect(ip) {
		t.Fatal("third connection accepted")
	}
	if !cl.TryConnect("203.0.113.8") {
		t.Fatal("cap shared across addresses")
	}
	if n := cl.Active(ip); n != 2 {
		t.Fatalf("active = %d, want 2", n)
	}

	cl.Disconnect(ip)
	cl.Disconnect(ip)
	cl.Disconnect(ip)
	if n := cl.Active(ip); n != 0 {
		t.Fatalf("active after disconnect = %d", n)
	}
	if !cl.TryConnect(ip) {
		t.Fatal("slot not released")
	}
}

func TestValidators(t *testing.T) {
	hosts := map[string]bool{
		"10.0.0.5":         true,
		"::1":              true,
		"proxy.example.io": true,
		"":                 false,
		"-bad.example":     false,
		"a b":              false,
	}
	for host, want := range hosts {
		if got := ValidateHost(host); got != want {
			t.Errorf("ValidateHost(%q) = %v, want %v", host, got, want)
		}
	}

	for port, want := range map[int]bool{0: false, 1: true, 1080: true, 65535: true, 65536: false} {
		if got := ValidatePort(port); got != want {
			t.Errorf("ValidatePort(%d) = %v, want %v", port, got, want)
		}
	}

	keys := map[string]bool{
		"session.page_size": true,
		"maintenance":       true,
		"Session.PageSize":  false,
		"1abc":              false,
		"":                  false,
	}
	for key, want := range keys {
		if got := ValidateSettingKey(key); got != want {
			t.Errorf("ValidateSettingKey(%q) = %v, want %v", key, got, want)
		}
	}

	if got := SanitizeInput("a\x00b\x07c\n"); got != "abc\n" {
		t.Errorf("SanitizeInput = %q", got)
	}
}
