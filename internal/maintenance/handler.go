package maintenance

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"mock-auth-api/internal/observability"
	"mock-auth-api/internal/storage"
)

type CleanupResult struct {
	DeletedRefreshTokens int64 `json:"deletedRefreshTokens"`
}

// CleanupHandler purges expired refresh tokens when called by a scheduler
// holding the cron secret.
type CleanupHandler struct {
	tokens     storage.RefreshTokens
	logger     *observability.Logger
	cronSecret string
	now        func() time.Time
}

func NewCleanupHandler(tokens storage.RefreshTokens, logger *observability.Logger, cronSecret string) *CleanupHandler {
	return &CleanupHandler{
		tokens:     tokens,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		now:        time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]any{"status": http.StatusNotFound, "message": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") ||
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"status": http.StatusUnauthorized, "message": "unauthorized"})
		return
	}

	deleted, err := h.tokens.PurgeExpired(r.Context(), h.now().UTC())
	if err != nil {
		sentry.CaptureException(err)
		h.logger.Error("refresh_token_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]any{"status": http.StatusInternalServerError, "message": "cleanup failed"})
		return
	}

	result := CleanupResult{DeletedRefreshTokens: deleted}
	h.logger.Info("refresh_token_cleanup_completed", map[string]any{
		"deleted_refresh_tokens": result.DeletedRefreshTokens,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
