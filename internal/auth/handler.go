package auth

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"mock-auth-api/internal/observability"
	"mock-auth-api/internal/storage"
)

const maxJSONBodyBytes = 1 << 20

type CookieConfig struct {
	Secure        bool
	AccessMaxAge  time.Duration
	RefreshMaxAge time.Duration
}

type Handler struct {
	service *Service
	cookies CookieConfig
	logger  *observability.Logger
}

func NewHandler(service *Service, cookies CookieConfig, logger *observability.Logger) *Handler {
	return &Handler{service: service, cookies: cookies, logger: logger}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.service.Register(r.Context(), body.Email, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrMissingCredentials):
			writeError(w, http.StatusBadRequest, "Email and password are required")
		case errors.Is(err, storage.ErrConflict):
			if h.service.ConflictPolicy() == storage.ConflictOnEmail {
				writeError(w, http.StatusUnauthorized, "Email already exists")
				return
			}
			writeError(w, http.StatusUnauthorized, "Email and Password already exist")
		case errors.Is(err, storage.ErrEmptyUserList):
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "User list is empty")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to register")
		}
		return
	}

	h.setUserIDCookie(w, session.User.ID)
	h.setTokenCookies(w, session)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:         session.User,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	session, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "Incorrect email or password")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	h.setUserIDCookie(w, session.User.ID)
	h.setTokenCookies(w, session)
	writeJSON(w, http.StatusOK, sessionResponse{
		User:         session.User,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = cookie.Value
	}

	session, err := h.service.Refresh(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidRefreshToken) {
			writeError(w, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	h.setTokenCookies(w, session)
	writeJSON(w, http.StatusOK, refreshResponse{IsRefreshed: true})
}

// Logout always succeeds; a failed revocation is only logged.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		if err := h.service.Logout(r.Context(), cookie.Value); err != nil {
			sentry.CaptureException(err)
			h.logger.Warn("refresh_token_revoke_failed", map[string]any{
				"error":      err.Error(),
				"request_id": observability.RequestID(r.Context()),
			})
		}
	}

	h.clearCookie(w, AccessTokenCookie, true)
	h.clearCookie(w, RefreshTokenCookie, true)
	h.clearCookie(w, UserIDCookie, false)
	writeJSON(w, http.StatusOK, true)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(UserIDCookie)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "This user does not exist.")
		return
	}

	user, err := h.service.FindUser(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "This user does not exist.")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) setTokenCookies(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookie,
		Value:    session.AccessCookie,
		Path:     "/",
		MaxAge:   int(h.cookies.AccessMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshTokenCookie,
		Value:    session.RefreshToken,
		Path:     "/",
		MaxAge:   int(h.cookies.RefreshMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) setUserIDCookie(w http.ResponseWriter, id int64) {
	http.SetCookie(w, &http.Cookie{
		Name:     UserIDCookie,
		Value:    strconv.FormatInt(id, 10),
		Path:     "/",
		MaxAge:   int(userIDCookieMaxAge.Seconds()),
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: httpOnly,
		Secure:   h.cookies.Secure,
	})
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form body")
			return credentialsRequest{}, false
		}
		return credentialsRequest{Email: r.PostForm.Get("email"), Password: r.PostForm.Get("password")}, true
	}

	var body credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return credentialsRequest{}, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: status, Message: message})
}
