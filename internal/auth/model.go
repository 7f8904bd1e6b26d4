package auth

import (
	"time"

	"mock-auth-api/internal/storage"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"
	UserIDCookie       = "userId"

	userIDCookieMaxAge = 365 * 24 * time.Hour
)

// Session is the outcome of a successful register, login or refresh.
type Session struct {
	User             storage.PublicUser
	AccessToken      string
	AccessCookie     string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User         storage.PublicUser `json:"user"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
}

type refreshResponse struct {
	IsRefreshed bool `json:"isRefreshed"`
}

type errorResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}
