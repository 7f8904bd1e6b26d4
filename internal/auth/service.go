package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mock-auth-api/internal/storage"
	"mock-auth-api/internal/token"
)

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("user not found")
	ErrMissingCredentials  = errors.New("email and password are required")
)

type Service struct {
	users  storage.Users
	tokens storage.RefreshTokens
	issuer *token.Issuer
	policy storage.ConflictPolicy
	now    func() time.Time
}

func NewService(users storage.Users, tokens storage.RefreshTokens, issuer *token.Issuer) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		issuer: issuer,
		policy: storage.ConflictOnCredentials,
		now:    time.Now,
	}
}

// WithUniqueEmail makes registration reject any existing email, not only an
// exact email and password match.
func (s *Service) WithUniqueEmail(unique bool) *Service {
	if unique {
		s.policy = storage.ConflictOnEmail
	} else {
		s.policy = storage.ConflictOnCredentials
	}
	return s
}

func (s *Service) ConflictPolicy() storage.ConflictPolicy {
	return s.policy
}

func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, ErrMissingCredentials
	}

	user, err := s.users.CreateUser(ctx, email, password, s.policy)
	if err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	return s.issueSession(ctx, user.Public())
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.users.FindUserByCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("find user: %w", err)
	}

	return s.issueSession(ctx, user.Public())
}

// Refresh exchanges a stored, valid refresh token for a new pair. The old
// token is rotated out; presenting it again fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, ErrInvalidRefreshToken
	}

	record, err := s.tokens.Lookup(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, fmt.Errorf("lookup refresh token: %w", err)
	}
	if record.Expired(s.now()) {
		return Session{}, ErrInvalidRefreshToken
	}

	claims, err := s.issuer.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Session{}, ctxErr
		}
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}
	if claims.Email != record.Email {
		return Session{}, ErrInvalidRefreshToken
	}

	session, err := s.mint(record.Email)
	if err != nil {
		return Session{}, err
	}
	session.User = storage.PublicUser{Email: record.Email}

	next := storage.RefreshTokenRecord{Email: record.Email, ExpiresAt: session.RefreshExpiresAt}
	if err := s.tokens.Rotate(ctx, refreshToken, session.RefreshToken, next); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	return session, nil
}

// Logout revokes refreshToken when one is presented.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// FindUser resolves the value of the userId cookie.
func (s *Service) FindUser(ctx context.Context, rawID string) (storage.PublicUser, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		return storage.PublicUser{}, ErrUserNotFound
	}

	user, err := s.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.PublicUser{}, ErrUserNotFound
		}
		return storage.PublicUser{}, fmt.Errorf("find user: %w", err)
	}

	return user.Public(), nil
}

// SeedFromEnv makes sure the user list has a head so registration can
// derive the next id.
func (s *Service) SeedFromEnv(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("SEED_USER_EMAIL and SEED_USER_PASSWORD are required together")
	}

	return s.users.SeedUser(ctx, email, password)
}

func (s *Service) issueSession(ctx context.Context, user storage.PublicUser) (Session, error) {
	session, err := s.mint(user.Email)
	if err != nil {
		return Session{}, err
	}
	session.User = user

	record := storage.RefreshTokenRecord{Email: user.Email, ExpiresAt: session.RefreshExpiresAt}
	if err := s.tokens.Rotate(ctx, "", session.RefreshToken, record); err != nil {
		return Session{}, fmt.Errorf("store refresh token: %w", err)
	}

	return session, nil
}

func (s *Service) mint(email string) (Session, error) {
	access, accessCookie, err := s.issuer.IssueAccessToken(email)
	if err != nil {
		return Session{}, err
	}
	refresh, refreshExpiresAt, err := s.issuer.IssueRefreshToken(email)
	if err != nil {
		return Session{}, err
	}

	return Session{
		AccessToken:      access,
		AccessCookie:     accessCookie,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
