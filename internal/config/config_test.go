package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("ACCESS_TOKEN_SECRET", "access")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh")
	t.Setenv("CSRF_SECRET", "csrf")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, "http://localhost:3000", cfg.CORSOrigin)
	assert.Equal(t, "localhost:3000", cfg.CORSHost())
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, DriverFile, cfg.Storage.Driver)
	assert.Equal(t, "./database.json", cfg.Storage.DatabaseFile)
	assert.Equal(t, "./refreshTokens.json", cfg.Storage.RefreshTokensFile)
	assert.False(t, cfg.RegisterUniqueEmail)
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9000")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "5")
	t.Setenv("REFRESH_TOKEN_TTL_HOURS", "not-a-number")
	t.Setenv("CORS_ORIGIN", "https://app.example.com/")
	t.Setenv("COOKIE_SECURE", "yes")
	t.Setenv("STORAGE_DRIVER", "SQLite")
	t.Setenv("REGISTER_UNIQUE_EMAIL", "1")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 168*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, "https://app.example.com", cfg.CORSOrigin)
	assert.Equal(t, "app.example.com", cfg.CORSHost())
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.True(t, cfg.RegisterUniqueEmail)
}

func TestFromEnv_MissingSecrets(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_SECRET", "")
	t.Setenv("REFRESH_TOKEN_SECRET", "")
	t.Setenv("CSRF_SECRET", "csrf")

	_, err := FromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN_SECRET")
	assert.Contains(t, err.Error(), "REFRESH_TOKEN_SECRET")
	assert.NotContains(t, err.Error(), "CSRF_SECRET")
}

func TestFromEnv_EqualSecrets(t *testing.T) {
	setRequired(t)
	t.Setenv("REFRESH_TOKEN_SECRET", "access")

	_, err := FromEnv()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			AccessTokenSecret:  "a",
			RefreshTokenSecret: "b",
			CORSOrigin:         "http://localhost:3000",
			Storage:            StorageConfig{Driver: DriverMemory},
		}
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.Storage.Driver = DriverPostgres
	require.Error(t, cfg.Validate())
	cfg.Storage.DatabaseURL = "postgres://localhost/db"
	require.NoError(t, cfg.Validate())

	cfg = valid()
	cfg.Storage.Driver = "mongo"
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.CORSOrigin = "localhost"
	require.Error(t, cfg.Validate())

	cfg = valid()
	cfg.SeedUserEmail = "seed@example.com"
	require.Error(t, cfg.Validate())
	cfg.SeedUserPassword = "secret"
	require.NoError(t, cfg.Validate())
}

func TestEnvBoolOrDefault(t *testing.T) {
	t.Setenv("FLAG", "off")
	assert.False(t, EnvBoolOrDefault("FLAG", true))

	t.Setenv("FLAG", "maybe")
	assert.True(t, EnvBoolOrDefault("FLAG", true))

	t.Setenv("FLAG", "")
	assert.False(t, EnvBoolOrDefault("FLAG", false))
}
