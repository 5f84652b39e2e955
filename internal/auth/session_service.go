package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/models"
)

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// ErrUserNotActive is returned when the token subject can no longer sign in.
var ErrUserNotActive = errors.New("session: user is not active")

// SessionService ties the token manager and refresh store together: it issues
// credential pairs at login and exchanges refresh tokens for new access tokens.
type SessionService struct {
	db     *gorm.DB
	tokens *TokenService
	store  *RefreshStore
	now    func() time.Time
}

// NewSessionService constructs a session manager from its collaborators.
func NewSessionService(db *gorm.DB, tokens *TokenService, store *RefreshStore, clock func() time.Time) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if tokens == nil {
		return nil, errors.New("session service: token service is required")
	}
	if store == nil {
		return nil, errors.New("session service: refresh store is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &SessionService{db: db, tokens: tokens, store: store, now: clock}, nil
}

// Issue signs a fresh token pair for the user and persists the refresh token.
func (s *SessionService) Issue(ctx context.Context, user *models.User, meta RefreshMetadata) (TokenPair, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return TokenPair{}, errors.New("session service: user is required")
	}
	if user.Status != models.UserActive {
		return TokenPair{}, ErrUserNotActive
	}

	payload := TokenPayload{UserID: user.ID, Email: user.Email, Role: user.Role}

	access, err := s.tokens.SignAccessToken(payload)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: sign access token: %w", err)
	}

	refresh, err := s.tokens.SignRefreshToken(payload)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: sign refresh token: %w", err)
	}

	expiresAt := s.now().Add(s.tokens.RefreshTTL())
	if _, err := s.store.Persist(ctx, user.ID, refresh, expiresAt, meta); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Refresh exchanges a valid, non-expired, persisted refresh token for a new
// access token and extends the stored token's expiry. The refresh token value
// itself is reused; callers keep presenting the same refresh credential.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (TokenPair, *models.User, error) {
	claims, err := s.tokens.VerifyRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: verify refresh token: %w", err)
	}

	record, err := s.store.FindValid(ctx, refreshToken, claims.UserID)
	if err != nil {
		return TokenPair{}, nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, "id = ?", claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return TokenPair{}, nil, ErrRefreshTokenNotFound
		}
		return TokenPair{}, nil, fmt.Errorf("session service: load user: %w", err)
	}
	if user.Status != models.UserActive {
		return TokenPair{}, nil, ErrUserNotActive
	}

	// Access token is minted from the user's current role, not the role
	// captured when the refresh token was signed.
	access, err := s.tokens.SignAccessToken(TokenPayload{UserID: user.ID, Email: user.Email, Role: user.Role})
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: sign access token: %w", err)
	}

	if err := s.store.TouchExpiry(ctx, record.ID, s.now().Add(s.tokens.RefreshTTL())); err != nil {
		return TokenPair{}, nil, err
	}

	return TokenPair{AccessToken: access, RefreshToken: refreshToken}, &user, nil
}

// Revoke invalidates the supplied refresh token.
func (s *SessionService) Revoke(ctx context.Context, refreshToken string) error {
	return s.store.Revoke(ctx, refreshToken)
}

// RevokeUser invalidates every refresh token held by the user.
func (s *SessionService) RevokeUser(ctx context.Context, userID string) error {
	return s.store.RevokeUser(ctx, userID)
}

// Tokens exposes the underlying token service for middleware wiring.
func (s *SessionService) Tokens() *TokenService { return s.tokens }
