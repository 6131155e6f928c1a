package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"proxyhub/internal/config"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *MemoryStore) {
	t.Helper()
	hash, err := HashPassword("hunter22", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store := NewMemoryStore(zerolog.Nop())
	t.Cleanup(func() { store.Close() })

	a := NewAuthenticator(config.AuthConfig{
		JWTSecret: "0123456789abcdef0123",
		TokenTTL:  time.Hour,
		Operators: []config.Operator{{Username: "ops", PasswordHash: hash}},
	}, store, zerolog.Nop())
	return a, store
}

func TestLoginAndVerify(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	token, grant, err := a.Login(ctx, "ops", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if grant.Username != "ops" {
		t.Fatalf("grant username = %q", grant.Username)
	}

	got, err := a.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != grant.ID {
		t.Fatalf("verified grant %q, want %q", got.ID, grant.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	if _, _, err := a.Login(ctx, "ops", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err = %v", err)
	}
	if _, _, err := a.Login(ctx, "nobody", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
}

func TestLoginUnknownUserStillComparesHash(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	var hashes [][]byte
	a.compare = func(hash, password []byte) error {
		hashes = append(hashes, hash)
		return bcrypt.CompareHashAndPassword(hash, password)
	}

	if _, _, err := a.Login(context.Background(), "nobody", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err = %v", err)
	}
	if len(hashes) != 1 {
		t.Fatalf("compare called %d times for unknown user, want 1", len(hashes))
	}
	cost, err := bcrypt.Cost(hashes[0])
	if err != nil {
		t.Fatalf("dummy hash: %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Fatalf("dummy hash cost = %d, want the operators' cost %d", cost, bcrypt.MinCost)
	}
}

func TestLogoutRevokes(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	token, _, err := a.Login(ctx, "ops", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := a.Logout(ctx, token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := a.Verify(ctx, token); !errors.Is(err, ErrRevokedToken) {
		t.Fatalf("verify after logout err = %v", err)
	}
	if err := a.Logout(ctx, token); err != nil {
		t.Fatalf("second logout: %v", err)
	}
}

func TestVerifyExpired(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	ctx := context.Background()

	token, _, err := a.Issue(ctx, "ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := a.Verify(ctx, token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsGarbageAndForeignSecret(t *testing.T) {
	a, store := newTestAuthenticator(t)
	ctx := context.Background()

	if _, err := a.Verify(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty token err = %v", err)
	}
	if _, err := a.Verify(ctx, "not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage err = %v", err)
	}

	other := NewAuthenticator(config.AuthConfig{JWTSecret: "another-secret-value"}, store, zerolog.Nop())
	token, _, err := other.Issue(ctx, "ops")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := a.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign token err = %v", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	v := NewStaticVerifier([]string{"alpha", "", "bravo"})
	ctx := context.Background()

	if _, err := v.Verify(ctx, "bravo"); err != nil {
		t.Fatalf("bravo: %v", err)
	}
	if _, err := v.Verify(ctx, "charlie"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("charlie err = %v", err)
	}
	if _, err := v.Verify(ctx, ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("empty err = %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	defer store.Close()
	ctx := context.Background()

	now := time.Now()
	store.now = func() time.Time { return now }
	_ = store.Save(ctx, &Grant{ID: "g1", ExpiresAt: now.Add(time.Minute)})

	if _, ok := store.Get(ctx, "g1"); !ok {
		t.Fatal("grant missing before expiry")
	}
	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	store.purge()
	if _, ok := store.Get(ctx, "g1"); ok {
		t.Fatal("grant still present after expiry")
	}
}
