package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chatarra.io/internal/ids"
)

const (
	// DefaultIssuer is the iss claim stamped on and required from tokens.
	DefaultIssuer = "chatarra"
	// DefaultSessionLifetime is the absolute lifetime of a session token.
	DefaultSessionLifetime = time.Hour
	// MinSecretLength is the shortest accepted HS256 signing secret.
	MinSecretLength = 32
)

// Claims represents JWT claims carried by session tokens. Subject holds the
// per-login cursor id and ID a fresh sortable token id.
type Claims struct {
	Username    string    `json:"username"`
	UserID      uuid.UUID `json:"uid"`
	TenantID    uuid.UUID `json:"tid"`
	Permissions []string  `json:"permissions"`
	jwt.RegisteredClaims
}

// TokenRequest describes the token to mint.
type TokenRequest struct {
	SubjectID   string
	Username    string
	UserID      uuid.UUID
	TenantID    uuid.UUID
	Permissions []string
}

// SignedToken is a compact JWS with its timing metadata.
type SignedToken struct {
	Token     string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenIssuer signs and validates HS256 session tokens.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
	ids      *ids.Generator
	parser   *jwt.Parser
}

// TokenOption configures a TokenIssuer.
type TokenOption func(*TokenIssuer)

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) TokenOption {
	return func(t *TokenIssuer) {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			t.issuer = issuer
		}
	}
}

// WithSessionLifetime overrides the token lifetime.
func WithSessionLifetime(d time.Duration) TokenOption {
	return func(t *TokenIssuer) {
		if d > 0 {
			t.lifetime = d
		}
	}
}

// WithTokenClock overrides the clock used for iat, exp and validation.
func WithTokenClock(now func() time.Time) TokenOption {
	return func(t *TokenIssuer) {
		if now != nil {
			t.now = now
		}
	}
}

// WithTokenIDs sets the generator used for jti values.
func WithTokenIDs(g *ids.Generator) TokenOption {
	return func(t *TokenIssuer) {
		if g != nil {
			t.ids = g
		}
	}
}

// NewTokenIssuer returns an issuer for secret. The secret must be at least
// MinSecretLength bytes; there is no built-in default.
func NewTokenIssuer(secret string, opts ...TokenOption) (*TokenIssuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: signing secret must be at least %d bytes", ErrInvalidInput, MinSecretLength)
	}
	t := &TokenIssuer{
		secret:   []byte(secret),
		issuer:   DefaultIssuer,
		lifetime: DefaultSessionLifetime,
		now:      time.Now,
		ids:      ids.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.now),
	)
	return t, nil
}

// Lifetime reports the configured token lifetime.
func (t *TokenIssuer) Lifetime() time.Duration { return t.lifetime }

// Issue signs a token for req. Expiry is absolute: issued-at plus lifetime.
func (t *TokenIssuer) Issue(req TokenRequest) (SignedToken, error) {
	if strings.TrimSpace(req.SubjectID) == "" {
		return SignedToken{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if req.UserID == uuid.Nil {
		return SignedToken{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Username) == "" {
		return SignedToken{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}

	// NumericDate has second precision; truncate so the returned times match
	// what a validator will decode.
	now := t.now().UTC().Truncate(time.Second)
	expiresAt := now.Add(t.lifetime)
	jti := t.ids.NewAt(now).String()

	claims := Claims{
		Username:    req.Username,
		UserID:      req.UserID,
		TenantID:    req.TenantID,
		Permissions: dedupeKeys(req.Permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   req.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return SignedToken{}, unavailable("sign token", err)
	}
	return SignedToken{Token: signed, ID: jti, IssuedAt: now, ExpiresAt: expiresAt}, nil
}

// Validate verifies signature, algorithm, issuer and expiry, and returns the
// decoded claims. Every failure is reported as ErrInvalidToken.
func (t *TokenIssuer) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := t.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := validateClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

func validateClaims(claims *Claims) error {
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.UserID == uuid.Nil {
		return errors.New("user id missing")
	}
	if strings.TrimSpace(claims.Username) == "" {
		return errors.New("username missing")
	}
	if claims.IssuedAt == nil {
		return errors.New("issued-at missing")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func dedupeKeys(keys []string) []string {
	set := NewPermissionSet(keys...)
	return set.Sorted()
}
