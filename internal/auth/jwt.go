package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"proxyhub/internal/config"
	"proxyhub/internal/constants"
)

var (
	ErrMissingToken       = errors.New("missing session token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrRevokedToken       = errors.New("token has been revoked")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// Verifier checks a bearer credential presented by an observer or API caller.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Grant, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, token string) (*Grant, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (*Grant, error) {
	return f(ctx, token)
}

// Claims are the JWT claims of an operator token. The jti names the grant
// held in the TokenStore.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator issues and validates operator session tokens.
type Authenticator struct {
	secret    []byte
	ttl       time.Duration
	operators map[string]string
	dummy     []byte
	compare   func(hash, password []byte) error
	store     TokenStore
	now       func() time.Time
	log       zerolog.Logger
}

func NewAuthenticator(cfg config.AuthConfig, store TokenStore, log zerolog.Logger) *Authenticator {
	ops := make(map[string]string, len(cfg.Operators))
	cost := bcrypt.DefaultCost
	for _, op := range cfg.Operators {
		ops[op.Username] = op.PasswordHash
		if c, err := bcrypt.Cost([]byte(op.PasswordHash)); err == nil {
			cost = c
		}
	}
	// unknown usernames are checked against this so they cost a real compare
	dummy, _ := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = constants.OperatorTokenTTL
	}
	return &Authenticator{
		secret:    []byte(cfg.JWTSecret),
		ttl:       ttl,
		operators: ops,
		dummy:     dummy,
		compare:   bcrypt.CompareHashAndPassword,
		store:     store,
		now:       time.Now,
		log:       log.With().Str("component", "auth").Logger(),
	}
}

// Login checks the operator password and issues a signed token backed by a
// new grant.
func (a *Authenticator) Login(ctx context.Context, username, password string) (string, *Grant, error) {
	hash, ok := a.operators[username]
	if !ok {
		a.compare(a.dummy, []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	if err := a.compare([]byte(hash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	return a.Issue(ctx, username)
}

// Issue signs a token for username without checking a password.
func (a *Authenticator) Issue(ctx context.Context, username string) (string, *Grant, error) {
	now := a.now()
	grant := &Grant{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: now,
		ExpiresAt: now.Add(a.ttl),
	}

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        grant.ID,
			Issuer:    constants.JWTIssuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(grant.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}

	if err := a.store.Save(ctx, grant); err != nil {
		return "", nil, err
	}

	a.log.Info().Str("operator", username).Str("grant", grant.ID).Msg("🔑 operator logged in")
	return signed, grant, nil
}

// Verify validates the signature and expiry and checks that the grant has
// not been revoked.
func (a *Authenticator) Verify(ctx context.Context, token string) (*Grant, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims, err := a.parse(token)
	if err != nil {
		return nil, err
	}

	grant, ok := a.store.Get(ctx, claims.ID)
	if !ok {
		return nil, ErrRevokedToken
	}
	return grant, nil
}

// Logout revokes the grant behind token. Revoking an already revoked token
// is not an error.
func (a *Authenticator) Logout(ctx context.Context, token string) error {
	claims, err := a.parse(token)
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, claims.ID); err != nil {
		return err
	}
	a.log.Info().Str("operator", claims.Username).Str("grant", claims.ID).Msg("👋 operator logged out")
	return nil
}

func (a *Authenticator) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	},
		jwt.WithIssuer(constants.JWTIssuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// HashPassword returns a bcrypt hash suitable for the operators config.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = constants.BcryptDefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
