package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mock-auth-api/internal/observability"
	"mock-auth-api/internal/storage"
	"mock-auth-api/internal/storage/memory"
)

type testServer struct {
	handler *Handler
	store   *memory.Store
	mux     *http.ServeMux
	logs    *bytes.Buffer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	service, store := newTestService(t)
	logs := &bytes.Buffer{}
	handler := NewHandler(service, CookieConfig{
		AccessMaxAge:  time.Hour,
		RefreshMaxAge: 7 * 24 * time.Hour,
	}, observability.NewLoggerTo(logs))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", handler.Register)
	mux.HandleFunc("POST /auth/login", handler.Login)
	mux.HandleFunc("POST /auth/refreshToken", handler.Refresh)
	mux.HandleFunc("POST /auth/logout", handler.Logout)
	mux.HandleFunc("GET /auth/me", handler.Me)

	return &testServer{handler: handler, store: store, mux: mux, logs: logs}
}

func (s *testServer) do(t *testing.T, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHandler_Register(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/register", `{"email":"x@y.com","password":"p1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		User         map[string]any `json:"user"`
		AccessToken  string         `json:"accessToken"`
		RefreshToken string         `json:"refreshToken"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body.User["id"])
	assert.Equal(t, "x@y.com", body.User["email"])
	assert.NotContains(t, body.User, "password")
	assert.NotEmpty(t, body.AccessToken)

	access := cookieNamed(rec, AccessTokenCookie)
	require.NotNil(t, access)
	assert.Equal(t, "Bearer "+body.AccessToken, access.Value)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, 3600, access.MaxAge)

	refresh := cookieNamed(rec, RefreshTokenCookie)
	require.NotNil(t, refresh)
	assert.Equal(t, body.RefreshToken, refresh.Value)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, 7*24*3600, refresh.MaxAge)

	userID := cookieNamed(rec, UserIDCookie)
	require.NotNil(t, userID)
	assert.Equal(t, "2", userID.Value)
	assert.False(t, userID.HttpOnly)

	_, err := srv.store.Lookup(t.Context(), body.RefreshToken)
	require.NoError(t, err)
}

func TestHandler_RegisterConflict(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/register", `{"email":"olivier@mail.com","password":"bestPassw0rd"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":401,"message":"Email and Password already exist"}`, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
}

func TestHandler_RegisterBadBody(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/register", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/auth/register", `{"email":"x@y.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RegisterEmptyUserList(t *testing.T) {
	store := memory.New()
	handler := NewHandler(NewService(store, store, newTestIssuer(t)), CookieConfig{}, observability.NewLoggerTo(io.Discard))

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email":"x@y.com","password":"p1"}`))
	rec := httptest.NewRecorder()
	handler.Register(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"status":500,"message":"User list is empty"}`, rec.Body.String())
}

func TestHandler_LoginWrongPassword(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/login", `{"email":"olivier@mail.com","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":401,"message":"Incorrect email or password"}`, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())
}

func TestHandler_RefreshRotation(t *testing.T) {
	srv := newTestServer(t)

	login := srv.do(t, http.MethodPost, "/auth/login", `{"email":"olivier@mail.com","password":"bestPassw0rd"}`)
	require.Equal(t, http.StatusOK, login.Code)
	oldRefresh := cookieNamed(login, RefreshTokenCookie)
	require.NotNil(t, oldRefresh)

	rec := srv.do(t, http.MethodPost, "/auth/refreshToken", "", oldRefresh)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"isRefreshed":true}`, rec.Body.String())

	newRefresh := cookieNamed(rec, RefreshTokenCookie)
	require.NotNil(t, newRefresh)
	assert.NotEqual(t, oldRefresh.Value, newRefresh.Value)
	require.NotNil(t, cookieNamed(rec, AccessTokenCookie))

	rec = srv.do(t, http.MethodPost, "/auth/refreshToken", "", oldRefresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"status":401,"message":"Invalid refresh token"}`, rec.Body.String())
}

func TestHandler_RefreshWithoutCookie(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/refreshToken", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_LogoutThenMe(t *testing.T) {
	srv := newTestServer(t)

	login := srv.do(t, http.MethodPost, "/auth/login", `{"email":"olivier@mail.com","password":"bestPassw0rd"}`)
	require.Equal(t, http.StatusOK, login.Code)
	userID := cookieNamed(login, UserIDCookie)
	refresh := cookieNamed(login, RefreshTokenCookie)

	me := srv.do(t, http.MethodGet, "/auth/me", "", userID)
	require.Equal(t, http.StatusOK, me.Code)
	assert.JSONEq(t, `{"id":1,"email":"olivier@mail.com"}`, me.Body.String())

	logout := srv.do(t, http.MethodPost, "/auth/logout", "", refresh, userID)
	require.Equal(t, http.StatusOK, logout.Code)
	assert.Equal(t, "true\n", logout.Body.String())
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie, UserIDCookie} {
		cleared := cookieNamed(logout, name)
		require.NotNil(t, cleared, name)
		assert.Negative(t, cleared.MaxAge, name)
	}

	_, err := srv.store.Lookup(t.Context(), refresh.Value)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// The browser has dropped the cleared cookies.
	me = srv.do(t, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, me.Code)
	assert.JSONEq(t, `{"status":401,"message":"This user does not exist."}`, me.Body.String())
}

func TestHandler_LogoutWithoutCookies(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MeUnknownUser(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodGet, "/auth/me", "", &http.Cookie{Name: UserIDCookie, Value: "99"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_LoginFormEncoded(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("email=olivier%40mail.com&password=bestPassw0rd"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, cookieNamed(rec, AccessTokenCookie))
}
