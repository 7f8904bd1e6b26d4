package app

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mock-auth-api/internal/config"
	"mock-auth-api/internal/observability"
)

func testConfig(driver string) *config.Config {
	return &config.Config{
		Port:               "0",
		Environment:        "test",
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Hour,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		CSRFSecret:         "csrf-secret",
		CORSOrigin:         "http://localhost:3000",
		Storage:            config.StorageConfig{Driver: driver, RedisPrefix: "test:"},
		SeedUserEmail:      "olivier@mail.com",
		SeedUserPassword:   "bestPassw0rd",
		CronSecret:         "cron-secret",
	}
}

type apiClient struct {
	t         *testing.T
	base      *url.URL
	http      *http.Client
	jar       *cookiejar.Jar
	csrfToken string
}

func startAPI(t *testing.T, cfg *config.Config) *apiClient {
	t.Helper()
	runtime, err := Build(Options{Config: cfg, Logger: observability.NewLoggerTo(io.Discard)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = runtime.Close() })

	srv := httptest.NewServer(runtime.Handler)
	t.Cleanup(srv.Close)

	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &apiClient{t: t, base: base, http: &http.Client{Jar: jar}, jar: jar}
}

func (c *apiClient) fetchCSRF() {
	c.t.Helper()
	var body struct {
		CSRFToken string `json:"csrfToken"`
	}
	status := c.do(http.MethodGet, "/csrfToken", "", &body)
	require.Equal(c.t, http.StatusOK, status)
	require.NotEmpty(c.t, body.CSRFToken)
	c.csrfToken = body.CSRFToken
}

func (c *apiClient) do(method, path, body string, out any) int {
	c.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, c.base.String()+path, reader)
	require.NoError(c.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrfToken != "" {
		req.Header.Set("X-CSRF-Token", c.csrfToken)
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (c *apiClient) cookie(name string) string {
	for _, cookie := range c.jar.Cookies(c.base) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func (c *apiClient) setCookie(name, value string) {
	c.jar.SetCookies(c.base, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

type userBody struct {
	User struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func TestAuthFlow(t *testing.T) {
	api := startAPI(t, testConfig(config.DriverMemory))
	api.fetchCSRF()

	var registered userBody
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/register", `{"email":"x@y.com","password":"p1"}`, &registered))
	assert.Equal(t, int64(2), registered.User.ID)
	assert.Equal(t, "2", api.cookie("userId"))

	var failure map[string]any
	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/auth/register", `{"email":"x@y.com","password":"p1"}`, &failure))
	assert.Equal(t, "Email and Password already exist", failure["message"])

	api.jar, _ = cookiejar.New(nil)
	api.http.Jar = api.jar
	api.fetchCSRF()

	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/auth/login", `{"email":"x@y.com","password":"nope"}`, nil))
	assert.Empty(t, api.cookie("accessToken"))

	var loggedIn userBody
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/login", `{"email":"x@y.com","password":"p1"}`, &loggedIn))
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)
	assert.NotEqual(t, registered.RefreshToken, loggedIn.RefreshToken)
	loginRefresh := api.cookie("refreshToken")
	require.Equal(t, loggedIn.RefreshToken, loginRefresh)

	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/posts", `{"title":"hello"}`, nil))
	var posts []map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/posts", "", &posts))
	require.Len(t, posts, 1)

	var me map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodGet, "/me", "", &me))
	assert.Equal(t, "x@y.com", me["email"])
	assert.NotContains(t, me, "password")

	var refreshed map[string]any
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/refreshToken", "", &refreshed))
	assert.Equal(t, true, refreshed["isRefreshed"])
	assert.NotEqual(t, loginRefresh, api.cookie("refreshToken"))

	current := api.cookie("refreshToken")
	api.setCookie("refreshToken", loginRefresh)
	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/auth/refreshToken", "", &failure))
	assert.Equal(t, "Invalid refresh token", failure["message"])
	api.setCookie("refreshToken", current)

	validAccess := api.cookie("accessToken")
	api.setCookie("accessToken", "Bearer not.a.jwt")
	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/posts", "", &failure))
	assert.Equal(t, "Invalid access token.", failure["message"])
	api.setCookie("accessToken", validAccess)

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/logout", "", nil))
	assert.Empty(t, api.cookie("userId"))
	assert.Empty(t, api.cookie("accessToken"))

	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/auth/me", "", &failure))
	assert.Equal(t, "This user does not exist.", failure["message"])
	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/auth/refreshToken", "", nil))
}

func TestCSRFProtection(t *testing.T) {
	api := startAPI(t, testConfig(config.DriverMemory))

	var body map[string]any
	require.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/auth/login", `{"email":"olivier@mail.com","password":"bestPassw0rd"}`, &body))
	assert.Equal(t, "CSRF attack detected!", body["message"])

	api.fetchCSRF()
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/login", `{"email":"olivier@mail.com","password":"bestPassw0rd"}`, nil))

	var ok bool
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/test-csrf", "", &ok))
	assert.True(t, ok)

	api.csrfToken = "bogus"
	require.Equal(t, http.StatusForbidden, api.do(http.MethodPost, "/test-csrf", "", nil))
}

func TestGateAndPublicRoutes(t *testing.T) {
	api := startAPI(t, testConfig(config.DriverMemory))

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", "", nil))
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/csrf-token", "", nil))
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/posts", "", nil))
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/me", "", nil))

	api.fetchCSRF()
	assert.Equal(t, http.StatusUnauthorized, api.do(http.MethodPost, "/test-csrf", "", nil))

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/login", `{"email":"olivier@mail.com","password":"bestPassw0rd"}`, nil))
	assert.Equal(t, http.StatusNotFound, api.do(http.MethodGet, "/users", "", nil))
}

func TestCORSPreflight(t *testing.T) {
	api := startAPI(t, testConfig(config.DriverMemory))

	req, err := http.NewRequest(http.MethodOptions, api.base.String()+"/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type,x-csrf-token")

	resp, err := api.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req, err = http.NewRequest(http.MethodOptions, api.base.String()+"/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	resp, err = api.http.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMaintenanceCleanup(t *testing.T) {
	api := startAPI(t, testConfig(config.DriverMemory))

	req, err := http.NewRequest(http.MethodPost, api.base.String()+cleanupPath, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer cron-secret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFileDriverPersists(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(config.DriverFile)
	cfg.Storage.DatabaseFile = filepath.Join(dir, "database.json")
	cfg.Storage.RefreshTokensFile = filepath.Join(dir, "refreshTokens.json")

	api := startAPI(t, cfg)
	api.fetchCSRF()
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/register", `{"email":"x@y.com","password":"p1"}`, nil))

	raw, err := os.ReadFile(cfg.Storage.DatabaseFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"x@y.com"`)

	raw, err = os.ReadFile(cfg.Storage.RefreshTokensFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"refreshTokens"`)
	assert.Contains(t, string(raw), api.cookie("refreshToken"))
}

func TestSQLiteDriver(t *testing.T) {
	cfg := testConfig(config.DriverSQLite)
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "mock-auth.db")

	api := startAPI(t, cfg)
	api.fetchCSRF()

	var registered userBody
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/register", `{"email":"x@y.com","password":"p1"}`, &registered))
	assert.Equal(t, int64(2), registered.User.ID)
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/refreshToken", "", nil))
}

func TestRedisRefreshTokens(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(config.DriverMemory)
	cfg.Storage.RedisURL = "redis://" + mr.Addr()

	api := startAPI(t, cfg)
	api.fetchCSRF()

	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/login", `{"email":"olivier@mail.com","password":"bestPassw0rd"}`, nil))
	assert.True(t, mr.Exists("test:refresh:"+api.cookie("refreshToken")))

	old := api.cookie("refreshToken")
	require.Equal(t, http.StatusOK, api.do(http.MethodPost, "/auth/refreshToken", "", nil))
	assert.False(t, mr.Exists("test:refresh:"+old))
}

func TestBuild_RejectsBadConfig(t *testing.T) {
	cfg := testConfig("mongo")
	_, err := Build(Options{Config: cfg, Logger: observability.NewLoggerTo(io.Discard)})
	require.Error(t, err)

	cfg = testConfig(config.DriverMemory)
	cfg.RefreshTokenSecret = cfg.AccessTokenSecret
	_, err = Build(Options{Config: cfg, Logger: observability.NewLoggerTo(io.Discard)})
	require.Error(t, err)
}
