package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/passport/authserver/core"
	"github.com/layer-3/passport/authserver/ports"
)

const (
	DefaultAccessTTL  = 5 * time.Minute
	DefaultRefreshTTL = 5 * 24 * time.Hour // 5 days
)

// Option configures an AuthService
type Option func(*AuthService)

// WithTTLs overrides access and refresh token lifetimes
func WithTTLs(access, refresh time.Duration) Option {
	return func(s *AuthService) {
		s.accessTTL = access
		s.refreshTTL = refresh
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *AuthService) {
		s.logger = logger
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) {
		s.now = now
	}
}

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.Store
	users     ports.UserDirectory
	logger    *zap.Logger
	now       func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.Store,
	users ports.UserDirectory,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		tokenizer:  tokenizer,
		store:      store,
		users:      users,
		logger:     zap.NewNop(),
		now:        time.Now,
		accessTTL:  DefaultAccessTTL,
		refreshTTL: DefaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessTTL is the lifetime of issued access tokens
func (s *AuthService) AccessTTL() time.Duration {
	return s.accessTTL
}

// Login verifies credentials and issues a new token pair
func (s *AuthService) Login(ctx context.Context, username, password string) (string, string, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		s.logger.Info("login rejected", zap.String("username", username), zap.Error(err))
		return "", "", err
	}

	access, refresh, err := s.issue(user.Username)
	if err != nil {
		return "", "", err
	}

	s.logger.Info("user logged in", zap.String("username", user.Username))
	return access, refresh, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens.
// A refresh token can be used once; presenting it again yields core.ErrTokenInvalidated.
func (s *AuthService) Refresh(ctx context.Context, refreshTokenStr string) (string, string, error) {
	// Parse and validate the refresh token
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return "", "", err
	}

	// Check if the token has expired
	if s.now().After(session.RefreshExpiry) {
		return "", "", core.ErrTokenExpired
	}

	// The old refresh token stays invalid for as long as it would have been valid.
	// Marking it is the rotation itself: only the caller that marks it first proceeds.
	remaining := max(session.RefreshExpiry.Sub(s.now()), time.Second)
	alreadyInvalidated, err := s.store.InvalidateToken(ctx, session.RefreshID, remaining)
	if err != nil {
		return "", "", fmt.Errorf("failed to invalidate old token: %w", err)
	}
	if alreadyInvalidated {
		s.logger.Warn("refresh token reused", zap.String("username", session.Username), zap.String("refresh_id", session.RefreshID))
		return "", "", core.ErrTokenInvalidated
	}

	access, refresh, err := s.issue(session.Username)
	if err != nil {
		return "", "", err
	}

	s.logger.Debug("session refreshed", zap.String("username", session.Username))
	return access, refresh, nil
}

// ValidateAccessToken verifies an access token and that its refresh token is still live
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.Session, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		return nil, err
	}

	if s.now().After(session.AccessExpiry) {
		return nil, core.ErrTokenExpired
	}

	// Rotating a refresh token also retires the access tokens issued with it
	if session.RefreshID != "" {
		invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token invalidation: %w", err)
		}
		if invalidated {
			return nil, core.ErrTokenInvalidated
		}
	}

	return session, nil
}

// ListUsers returns all users of the directory
func (s *AuthService) ListUsers(ctx context.Context) ([]core.User, error) {
	return s.users.List(ctx)
}

func (s *AuthService) issue(username string) (string, string, error) {
	now := s.now()
	session := &core.Session{
		ID:            uuid.NewString(),
		Username:      username,
		IssuedAt:      now,
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshExpiry: now.Add(s.refreshTTL),
		RefreshID:     uuid.NewString(),
	}

	accessToken, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return "", "", fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.tokenizer.SessionToRefreshToken(session)
	if err != nil {
		return "", "", fmt.Errorf("failed to create refresh token: %w", err)
	}

	return accessToken, refreshToken, nil
}
