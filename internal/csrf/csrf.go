// Package csrf wires the double-submit cookie protection of gorilla/csrf in
// front of every route and exposes the token endpoint.
package csrf

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"
	"golang.org/x/crypto/hkdf"

	"mock-auth-api/internal/observability"
)

const (
	CookieName = "_csrf"
	HeaderName = "X-CSRF-Token"

	keyInfo = "mock-auth-api csrf cookie key"
)

type Config struct {
	Secret string
	// Secure marks the cookie Secure and keeps the TLS Referer check. When
	// false, requests are treated as plain HTTP.
	Secure         bool
	TrustedOrigins []string
	// Exempt requests skip the token check, e.g. scheduler calls that carry
	// their own secret.
	Exempt func(r *http.Request) bool
}

// DeriveKey stretches secret into the 32-byte key gorilla/csrf expects.
func DeriveKey(secret string) ([]byte, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("csrf secret is required")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive csrf key: %w", err)
	}
	return key, nil
}

// Middleware rejects unsafe requests whose X-CSRF-Token header does not match
// the _csrf cookie.
func Middleware(cfg Config, logger *observability.Logger) (func(http.Handler) http.Handler, error) {
	key, err := DeriveKey(cfg.Secret)
	if err != nil {
		return nil, err
	}

	protect := csrf.Protect(key,
		csrf.CookieName(CookieName),
		csrf.RequestHeader(HeaderName),
		csrf.Path("/"),
		csrf.HttpOnly(true),
		csrf.Secure(cfg.Secure),
		csrf.SameSite(csrf.SameSiteStrictMode),
		csrf.TrustedOrigins(cfg.TrustedOrigins),
		csrf.ErrorHandler(errorHandler(logger)),
	)

	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Secure {
				r = csrf.PlaintextHTTPRequest(r)
			}
			if cfg.Exempt != nil && cfg.Exempt(r) {
				r = csrf.UnsafeSkipCheck(r)
			}
			protected.ServeHTTP(w, r)
		})
	}, nil
}

// TokenHandler serves GET /csrfToken and GET /csrf-token.
func TokenHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrfToken": csrf.Token(r)})
}

// ProbeHandler serves POST /test-csrf; reaching it means the token matched.
func ProbeHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, true)
}

func errorHandler(logger *observability.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason := "unknown"
		if err := csrf.FailureReason(r); err != nil {
			reason = err.Error()
		}
		logger.Warn("csrf_rejected", map[string]any{
			"method":     r.Method,
			"path":       r.URL.Path,
			"reason":     reason,
			"request_id": observability.RequestID(r.Context()),
		})

		writeJSON(w, http.StatusForbidden, map[string]any{
			"status":  http.StatusForbidden,
			"message": "CSRF attack detected!",
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
