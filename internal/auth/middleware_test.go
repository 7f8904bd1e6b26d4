package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mock-auth-api/internal/token"
)

func gatedHandler(t *testing.T, issuer *token.Issuer) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, ok := EmailFromContext(r.Context())
		if ok {
			w.Header().Set("X-Email", email)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return Gate(issuer, IsAuthPath, next)
}

func TestGate(t *testing.T) {
	issuer := newTestIssuer(t)
	handler := gatedHandler(t, issuer)

	_, bearer, err := issuer.IssueAccessToken("a@b.com")
	require.NoError(t, err)
	raw, _, err := issuer.IssueAccessToken("a@b.com")
	require.NoError(t, err)
	refresh, _, err := issuer.IssueRefreshToken("a@b.com")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		cookie *http.Cookie
		want   int
	}{
		{name: "valid", path: "/posts", cookie: &http.Cookie{Name: AccessTokenCookie, Value: bearer}, want: http.StatusNoContent},
		{name: "missing cookie", path: "/posts", want: http.StatusUnauthorized},
		{name: "missing bearer prefix", path: "/posts", cookie: &http.Cookie{Name: AccessTokenCookie, Value: raw}, want: http.StatusUnauthorized},
		{name: "empty bearer", path: "/posts", cookie: &http.Cookie{Name: AccessTokenCookie, Value: "Bearer"}, want: http.StatusUnauthorized},
		{name: "tampered", path: "/posts", cookie: &http.Cookie{Name: AccessTokenCookie, Value: bearer + "x"}, want: http.StatusUnauthorized},
		{name: "refresh token", path: "/posts", cookie: &http.Cookie{Name: AccessTokenCookie, Value: "Bearer " + refresh}, want: http.StatusUnauthorized},
		{name: "auth path ungated", path: "/auth/login", want: http.StatusNoContent},
		{name: "auth root ungated", path: "/auth", want: http.StatusNoContent},
		{name: "authors gated", path: "/authors", want: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"status":401,"message":"Invalid access token."}`, rec.Body.String())
			}
		})
	}
}

func TestMiddleware_PutsEmailInContext(t *testing.T) {
	issuer := newTestIssuer(t)
	handler := gatedHandler(t, issuer)

	_, bearer, err := issuer.IssueAccessToken("a@b.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: bearer})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "a@b.com", rec.Header().Get("X-Email"))
}

func TestMiddleware_ExpiredToken(t *testing.T) {
	expiring, err := token.NewIssuer(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     1,
	})
	require.NoError(t, err)
	_, bearer, err := expiring.IssueAccessToken("a@b.com")
	require.NoError(t, err)

	handler := gatedHandler(t, newTestIssuer(t))
	req := httptest.NewRequest(http.MethodGet, "/posts", nil)
	req.AddCookie(&http.Cookie{Name: AccessTokenCookie, Value: bearer})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
