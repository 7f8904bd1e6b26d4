package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mock-auth-api/internal/db"
)

const (
	DriverFile     = "file"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        string
	Environment string
	SentryDSN   string

	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	CSRFSecret   string
	CORSOrigin   string
	CookieSecure bool

	Storage StorageConfig

	RegisterUniqueEmail bool
	SeedUserEmail       string
	SeedUserPassword    string
	CronSecret          string
}

type StorageConfig struct {
	Driver            string
	DatabaseFile      string
	RefreshTokensFile string
	SQLitePath        string
	DatabaseURL       string
	RedisURL          string
	RedisPrefix       string
	RunMigrations     bool
	Pool              db.PoolOptions
}

// Load reads .env when loadDotEnv is set and then builds the Config from the
// process environment.
func Load(loadDotEnv bool) (*Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	var missing []string
	require := func(name string) string {
		value := strings.TrimSpace(os.Getenv(name))
		if value == "" {
			missing = append(missing, name)
		}
		return value
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", "8000"),
		Environment: envOrDefault("APP_ENV", "development"),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		AccessTokenSecret:  require("ACCESS_TOKEN_SECRET"),
		RefreshTokenSecret: require("REFRESH_TOKEN_SECRET"),
		AccessTokenTTL:     envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 60),
		RefreshTokenTTL:    envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),

		CSRFSecret:   require("CSRF_SECRET"),
		CORSOrigin:   strings.TrimRight(envOrDefault("CORS_ORIGIN", "http://localhost:3000"), "/"),
		CookieSecure: EnvBoolOrDefault("COOKIE_SECURE", false),

		Storage: StorageConfig{
			Driver:            strings.ToLower(envOrDefault("STORAGE_DRIVER", DriverFile)),
			DatabaseFile:      envOrDefault("DATABASE_FILE", "./database.json"),
			RefreshTokensFile: envOrDefault("REFRESH_TOKENS_FILE", "./refreshTokens.json"),
			SQLitePath:        envOrDefault("SQLITE_PATH", "./mock-auth.db"),
			DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
			RedisURL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
			RedisPrefix:       envOrDefault("REDIS_PREFIX", "mock-auth:"),
			RunMigrations:     EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),
			Pool: db.PoolOptions{
				MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
				MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
				ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
				ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
			},
		},

		RegisterUniqueEmail: EnvBoolOrDefault("REGISTER_UNIQUE_EMAIL", false),
		SeedUserEmail:       strings.TrimSpace(os.Getenv("SEED_USER_EMAIL")),
		SeedUserPassword:    os.Getenv("SEED_USER_PASSWORD"),
		CronSecret:          strings.TrimSpace(os.Getenv("CRON_SECRET")),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}

	origin, err := url.Parse(c.CORSOrigin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return fmt.Errorf("invalid CORS_ORIGIN: %q", c.CORSOrigin)
	}

	switch c.Storage.Driver {
	case DriverFile, DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER: %q", c.Storage.Driver)
	}

	if (c.SeedUserEmail == "") != (c.SeedUserPassword == "") {
		return errors.New("SEED_USER_EMAIL and SEED_USER_PASSWORD must be set together")
	}

	return nil
}

func (c *Config) Addr() string {
	return ":" + c.Port
}

// CORSHost is the host[:port] of the CORS origin, as trusted by the CSRF
// origin check.
func (c *Config) CORSHost() string {
	origin, err := url.Parse(c.CORSOrigin)
	if err != nil {
		return ""
	}
	return origin.Host
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
