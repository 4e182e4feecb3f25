// Package token issues and validates the signed credentials handed out
// by the identity provider: short-lived access tokens, long-lived
// refresh tokens, and password-recovery tokens. Each class is signed
// with its own secret so one can never be replayed as another.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL   = 10 * time.Minute
	DefaultRefreshTTL  = 7 * 24 * time.Hour
	DefaultRecoveryTTL = 10 * time.Minute
)

var (
	// ErrSigning indicates the token could not be produced from the
	// given claims and secret.
	ErrSigning = errors.New("token: signing failed")

	// ErrInvalidToken indicates the token is malformed, expired, or
	// carries a bad signature.
	ErrInvalidToken = errors.New("token: invalid token")
)

// Kind tags which flow a token belongs to.
type Kind string

const (
	KindAccess   Kind = "access"
	KindRefresh  Kind = "refresh"
	KindRecovery Kind = "recovery"
)

// Claims is the payload carried by every issued token. Subject is the
// user id; ProjectID and ACLID are set by the login and refresh flows.
type Claims struct {
	Kind      Kind   `json:"kind"`
	ProjectID string `json:"projectId,omitempty"`
	ACLID     string `json:"aclId,omitempty"`
	jwt.RegisteredClaims
}

// AccessClaims builds claims for an access token.
func AccessClaims(userID, projectID, aclID string) Claims {
	return Claims{
		Kind:             KindAccess,
		ProjectID:        projectID,
		ACLID:            aclID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
}

// RefreshClaims builds claims for a refresh token.
func RefreshClaims(userID, projectID, aclID string) Claims {
	return Claims{
		Kind:             KindRefresh,
		ProjectID:        projectID,
		ACLID:            aclID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
}

// RecoveryClaims builds claims for a password-recovery token.
func RecoveryClaims(userID string) Claims {
	return Claims{
		Kind:             KindRecovery,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
}

// Signer signs and validates tokens using HS256.
type Signer struct {
	now    func() time.Time
	issuer string
}

// Option configures Signer behavior.
type Option func(*Signer)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIssuer sets the issuer claim embedded into every token.
func WithIssuer(issuer string) Option {
	return func(s *Signer) {
		s.issuer = strings.TrimSpace(issuer)
	}
}

// NewSigner constructs a Signer with optional configuration.
func NewSigner(opts ...Option) *Signer {
	s := &Signer{now: time.Now, issuer: "acesso"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue signs claims with the given secret and lifetime. It fails with
// ErrSigning only on malformed input: empty subject, empty secret, or a
// non-positive ttl.
func (s *Signer) Issue(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", fmt.Errorf("%w: subject is required", ErrSigning)
	}
	if len(secret) == 0 {
		return "", fmt.Errorf("%w: secret is empty", ErrSigning)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("%w: ttl must be greater than zero", ErrSigning)
	}
	if claims.Kind == "" {
		return "", fmt.Errorf("%w: kind is required", ErrSigning)
	}

	now := s.now().UTC()
	claims.Issuer = s.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	claims.ID = uuid.NewString()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	return signed, nil
}

// Verify reports whether the token is authentic and unexpired. It never
// returns an error: a failed verification is a normal outcome.
func (s *Signer) Verify(raw string, secret []byte) bool {
	_, err := s.Decode(raw, secret)
	return err == nil
}

// Decode validates the token exactly like Verify and returns its
// claims, failing with ErrInvalidToken so callers cannot silently
// proceed with an unusable payload.
func (s *Signer) Decode(raw string, secret []byte) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(secret) == 0 {
		return Claims{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }))
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}
	if s.issuer != "" && !strings.EqualFold(claims.Issuer, s.issuer) {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}
