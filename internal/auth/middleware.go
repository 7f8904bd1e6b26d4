package auth

import (
	"context"
	"net/http"
	"strings"

	"mock-auth-api/internal/token"
)

type emailKey struct{}

// EmailFromContext returns the email of the verified access token.
func EmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(emailKey{}).(string)
	return email, ok && email != ""
}

// Middleware rejects requests without a valid access-token cookie.
func Middleware(issuer *token.Issuer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(AccessTokenCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid access token.")
			return
		}

		raw, ok := token.StripBearer(cookie.Value)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Invalid access token.")
			return
		}

		claims, err := issuer.VerifyAccess(r.Context(), raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid access token.")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), emailKey{}, claims.Email)))
	})
}

// Gate applies Middleware to every request whose path public does not accept.
func Gate(issuer *token.Issuer, public func(path string) bool, next http.Handler) http.Handler {
	protected := Middleware(issuer, next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if public(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// IsAuthPath reports whether path is /auth or below it.
func IsAuthPath(path string) bool {
	return path == "/auth" || strings.HasPrefix(path, "/auth/")
}
