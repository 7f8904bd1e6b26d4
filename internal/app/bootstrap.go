package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"

	"mock-auth-api/internal/auth"
	"mock-auth-api/internal/config"
	"mock-auth-api/internal/csrf"
	"mock-auth-api/internal/data"
	"mock-auth-api/internal/maintenance"
	"mock-auth-api/internal/observability"
	"mock-auth-api/internal/storage"
	"mock-auth-api/internal/storage/filestore"
	"mock-auth-api/internal/storage/memory"
	"mock-auth-api/internal/storage/redisstore"
	"mock-auth-api/internal/storage/sqlstore"
	"mock-auth-api/internal/token"
)

const cleanupPath = "/internal/maintenance/cleanup"

type Options struct {
	LoadDotEnv bool
	// Config overrides the environment when set.
	Config *config.Config
	Logger *observability.Logger
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg := options.Config
	if cfg == nil {
		loaded, err := config.Load(options.LoadDotEnv)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	logger := options.Logger
	if logger == nil {
		logger = observability.NewLogger()
	}

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment, ""); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx := context.Background()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	var (
		refreshTokens storage.RefreshTokens = store
		redisStore    *redisstore.Store
	)
	if cfg.Storage.RedisURL != "" {
		redisStore, err = redisstore.Open(ctx, cfg.Storage.RedisURL, cfg.Storage.RedisPrefix)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open redis: %w", err)
		}
		refreshTokens = redisStore
	}

	closeStores := func() error {
		var errs []error
		if redisStore != nil {
			errs = append(errs, redisStore.Close())
		}
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		_ = closeStores()
		return nil, fmt.Errorf("init token issuer: %w", err)
	}

	authService := auth.NewService(store, refreshTokens, issuer).WithUniqueEmail(cfg.RegisterUniqueEmail)
	if err := authService.SeedFromEnv(ctx, cfg.SeedUserEmail, cfg.SeedUserPassword); err != nil {
		_ = closeStores()
		return nil, fmt.Errorf("seed user: %w", err)
	}
	authHandler := auth.NewHandler(authService, auth.CookieConfig{
		Secure:        cfg.CookieSecure,
		AccessMaxAge:  issuer.AccessTTL(),
		RefreshMaxAge: issuer.RefreshTTL(),
	}, logger)

	cleanupHandler := maintenance.NewCleanupHandler(refreshTokens, logger, cfg.CronSecret)
	dataHandler := data.NewHandler(store)

	csrfMiddleware, err := csrf.Middleware(csrf.Config{
		Secret:         cfg.CSRFSecret,
		Secure:         cfg.CookieSecure,
		TrustedOrigins: []string{cfg.CORSHost()},
		Exempt: func(r *http.Request) bool {
			return r.URL.Path == cleanupPath
		},
	}, logger)
	if err != nil {
		_ = closeStores()
		return nil, fmt.Errorf("init csrf: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/register", authHandler.Register)
	mux.HandleFunc("POST /auth/login", authHandler.Login)
	mux.HandleFunc("POST /auth/refreshToken", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.HandleFunc("GET /auth/me", authHandler.Me)
	mux.HandleFunc("GET /me", authHandler.Me)
	mux.HandleFunc("GET /csrfToken", csrf.TokenHandler)
	mux.HandleFunc("GET /csrf-token", csrf.TokenHandler)
	mux.HandleFunc("POST /test-csrf", csrf.ProbeHandler)
	mux.HandleFunc("GET "+cleanupPath, cleanupHandler.Handle)
	mux.HandleFunc("POST "+cleanupPath, cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(store, redisStore))
	dataHandler.Register(mux)

	gated := auth.Gate(issuer, isPublicPath, mux)

	corsPolicy := cors.New(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", csrf.HeaderName, "Authorization", observability.RequestIDHeader},
		ExposedHeaders:   []string{"X-Total-Count", observability.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           600,
	})

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			corsPolicy.Handler(csrfMiddleware(gated))))

	logger.Info("app_ready", map[string]any{
		"storage_driver": cfg.Storage.Driver,
		"redis":          redisStore != nil,
		"environment":    cfg.Environment,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Close: func() error {
			observability.FlushSentry()
			return closeStores()
		},
	}, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverFile:
		store, err := filestore.New(cfg.DatabaseFile, cfg.RefreshTokensFile)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		store, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := sqlstore.OpenPostgres(ctx, cfg.DatabaseURL, cfg.Pool, cfg.RunMigrations)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Driver)
	}
}

// isPublicPath lists what the access gate lets through without a token.
func isPublicPath(path string) bool {
	switch path {
	case "/csrfToken", "/csrf-token", "/health", cleanupPath:
		return true
	}
	return auth.IsAuthPath(path)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func healthHandler(store pinger, redisStore *redisstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}

		var failing []string
		if err := store.Ping(ctx); err != nil {
			failing = append(failing, "storage")
		}
		if redisStore != nil {
			if err := redisStore.Ping(ctx); err != nil {
				failing = append(failing, "redis")
			}
		}
		if len(failing) > 0 {
			status = http.StatusServiceUnavailable
			body = map[string]any{
				"status":  "degraded",
				"failing": strings.Join(failing, ","),
				"time":    time.Now().UTC().Format(time.RFC3339),
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
