package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/pkg/metrics"
)

var (
	// ErrRefreshTokenNotFound indicates no stored token matches the supplied value and subject.
	ErrRefreshTokenNotFound = errors.New("refresh token: not found")
	// ErrRefreshTokenRevoked marks a token revoked by logout or administrative action.
	ErrRefreshTokenRevoked = errors.New("refresh token: revoked")
	// ErrRefreshTokenExpired signals that a stored token has reached its expiry.
	ErrRefreshTokenExpired = errors.New("refresh token: expired")
)

// RefreshStore persists refresh tokens so they can be revoked independent of
// their signed expiry.
type RefreshStore struct {
	db  *gorm.DB
	now func() time.Time
}

// RefreshMetadata captures contextual information about the issuing client.
type RefreshMetadata struct {
	IPAddress string
	UserAgent string
}

// NewRefreshStore constructs a RefreshStore backed by the provided database.
func NewRefreshStore(db *gorm.DB, clock func() time.Time) (*RefreshStore, error) {
	if db == nil {
		return nil, errors.New("refresh store: db is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &RefreshStore{db: db, now: clock}, nil
}

// Persist stores a newly issued refresh token for the user.
func (s *RefreshStore) Persist(ctx context.Context, userID, token string, expiresAt time.Time, meta RefreshMetadata) (*models.RefreshToken, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("refresh store: user id is required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("refresh store: token is required")
	}

	record := &models.RefreshToken{
		UserID:     userID,
		Token:      token,
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		ExpiresAt:  expiresAt,
		LastUsedAt: s.now(),
	}

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("refresh store: persist: %w", err)
	}

	metrics.ActiveRefreshTokens.Inc()

	return record, nil
}

// FindValid looks up a stored token by value and subject, rejecting revoked
// and expired records.
func (s *RefreshStore) FindValid(ctx context.Context, token, userID string) (*models.RefreshToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrRefreshTokenNotFound
	}

	var record models.RefreshToken
	err := s.db.WithContext(ctx).
		Where("token = ? AND user_id = ?", token, userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("refresh store: find: %w", err)
	}

	if record.RevokedAt != nil {
		return nil, ErrRefreshTokenRevoked
	}
	if record.ExpiresAt.Before(s.now()) {
		return nil, ErrRefreshTokenExpired
	}

	return &record, nil
}

// TouchExpiry extends a stored token's expiry and stamps its last use.
func (s *RefreshStore) TouchExpiry(ctx context.Context, id string, newExpiry time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("refresh store: id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"expires_at":   newExpiry,
			"last_used_at": s.now(),
		})
	if result.Error != nil {
		return fmt.Errorf("refresh store: touch expiry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRefreshTokenNotFound
	}
	return nil
}

// Revoke marks a stored token as revoked, preventing further refreshes.
func (s *RefreshStore) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrRefreshTokenNotFound
	}

	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("refresh store: revoke: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRefreshTokenNotFound
	}

	metrics.ActiveRefreshTokens.Sub(float64(result.RowsAffected))

	return nil
}

// RevokeUser revokes every active token belonging to a user.
func (s *RefreshStore) RevokeUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("refresh store: user id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("refresh store: revoke user: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		metrics.ActiveRefreshTokens.Sub(float64(result.RowsAffected))
	}
	return nil
}

// CleanupExpired removes expired and revoked tokens, returning the number deleted.
func (s *RefreshStore) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.RefreshToken{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("refresh store: count expired: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL").
		Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("refresh store: cleanup: %w", result.Error)
	}

	if activeExpired > 0 {
		metrics.ActiveRefreshTokens.Sub(float64(activeExpired))
	}

	return result.RowsAffected, nil
}
