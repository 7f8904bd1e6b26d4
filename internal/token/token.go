// Package token mints and verifies the HS256 access and refresh tokens.
// Access and refresh tokens are signed with distinct secrets so a leaked
// access secret cannot forge refresh tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"

	BearerPrefix = "Bearer "

	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("malformed token")
	ErrWrongType        = errors.New("unexpected token type")
)

type Claims struct {
	Email string `json:"email"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

type Issuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if strings.TrimSpace(cfg.AccessSecret) == "" || strings.TrimSpace(cfg.RefreshSecret) == "" {
		return nil, errors.New("access and refresh token secrets are required")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh token secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}

	return &Issuer{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		now:           time.Now,
	}, nil
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken returns the raw JWT and its cookie form "Bearer <jwt>".
func (i *Issuer) IssueAccessToken(email string) (raw string, bearer string, err error) {
	raw, _, err = i.sign(email, TypeAccess, i.accessSecret, i.accessTTL)
	if err != nil {
		return "", "", err
	}
	return raw, BearerPrefix + raw, nil
}

// IssueRefreshToken returns the raw JWT and its expiry.
func (i *Issuer) IssueRefreshToken(email string) (string, time.Time, error) {
	return i.sign(email, TypeRefresh, i.refreshSecret, i.refreshTTL)
}

func (i *Issuer) VerifyAccess(ctx context.Context, raw string) (*Claims, error) {
	return i.verifyType(ctx, raw, i.accessSecret, TypeAccess)
}

func (i *Issuer) VerifyRefresh(ctx context.Context, raw string) (*Claims, error) {
	return i.verifyType(ctx, raw, i.refreshSecret, TypeRefresh)
}

func (i *Issuer) verifyType(ctx context.Context, raw string, secret []byte, want string) (*Claims, error) {
	claims, err := Verify(ctx, raw, secret, jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	if claims.Type != want {
		return nil, ErrWrongType
	}
	return claims, nil
}

func (i *Issuer) sign(email, tokenType string, secret []byte, ttl time.Duration) (string, time.Time, error) {
	now := i.now().UTC()
	expiresAt := now.Add(ttl).Truncate(time.Second)
	claims := Claims{
		Email: email,
		Type:  tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", tokenType, err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and expiry of raw against secret and returns its
// claims. Failures are reported as ErrExpired, ErrInvalidSignature or
// ErrMalformed, each wrapping the underlying jwt error.
func Verify(ctx context.Context, raw string, secret []byte, opts ...jwt.ParserOption) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw) == "" {
		return nil, ErrMalformed
	}

	opts = append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}, opts...)

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %w", ErrExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		default:
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	if !parsed.Valid {
		return nil, ErrMalformed
	}

	return claims, nil
}

// StripBearer removes the "Bearer " prefix of an access-token cookie value.
func StripBearer(value string) (string, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(value), BearerPrefix)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}
