package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/pkg/crypto"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
)

// ErrAccountDisabled indicates the account exists but may not sign in.
var ErrAccountDisabled = errors.New("user service: account is not active")

// UserService manages accounts and credential verification. Role and status
// changes invalidate the subject's cached permission decisions.
type UserService struct {
	db    *gorm.DB
	cache *authz.DecisionCache
	audit *AuditService
}

// NewUserService constructs a UserService using the provided collaborators.
func NewUserService(db *gorm.DB, cache *authz.DecisionCache, audit *AuditService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if cache == nil {
		return nil, errors.New("user service: cache is required")
	}
	return &UserService{db: db, cache: cache, audit: audit}, nil
}

// CreateUserInput describes the payload accepted by CreateUser.
type CreateUserInput struct {
	Email    string
	Name     string
	Password string
	Role     models.Role
}

// CreateUser registers a new account. Accounts start inactive until verified.
func (s *UserService) CreateUser(ctx context.Context, input CreateUserInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if len(input.Password) < 8 {
		return nil, apperrors.NewBadRequest("password must be at least 8 characters")
	}

	role := input.Role
	if role == "" {
		role = models.RoleUser
	}
	if !role.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", role))
	}

	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Email:    email,
		Name:     strings.TrimSpace(input.Name),
		Password: hash,
		Role:     role,
		Status:   models.UserInactive,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	return user, nil
}

// Verify activates an account after email verification.
func (s *UserService) Verify(ctx context.Context, userID string) error {
	now := time.Now()
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ? AND status = ?", userID, models.UserInactive).
		Updates(map[string]any{
			"status":      models.UserActive,
			"verified_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("user service: verify: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Authenticate verifies credentials and stamps the login metadata.
func (s *UserService) Authenticate(ctx context.Context, email, password, ipAddress string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return nil, apperrors.ErrInvalidCredentials
	}
	if user.Status != models.UserActive {
		return nil, ErrAccountDisabled
	}

	now := time.Now()
	updates := map[string]any{
		"last_login_at": now,
		"last_login_ip": strings.TrimSpace(ipAddress),
	}
	if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: stamp login: %w", err)
	}
	user.LastLoginAt = &now

	return &user, nil
}

// ChangeRole moves a user to a new hierarchy position and drops their cached
// decisions so the change is visible immediately.
func (s *UserService) ChangeRole(ctx context.Context, actorID, subjectID string, newRole models.Role) error {
	if !newRole.Valid() {
		return apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", newRole))
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", subjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("user service: load user: %w", err)
	}

	if user.Role == newRole {
		return nil
	}

	previous := user.Role
	if err := s.db.WithContext(ctx).Model(&user).Update("role", newRole).Error; err != nil {
		return fmt.Errorf("user service: change role: %w", err)
	}

	s.cache.InvalidateUser(subjectID)

	if s.audit != nil {
		s.audit.LogRoleChange(ctx, actorID, subjectID, previous, newRole)
	}
	return nil
}

// SetStatus suspends or reactivates an account.
func (s *UserService) SetStatus(ctx context.Context, actorID, subjectID string, status models.UserStatus) error {
	switch status {
	case models.UserActive, models.UserInactive, models.UserSuspended:
	default:
		return apperrors.NewBadRequest(fmt.Sprintf("unknown status %q", status))
	}

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", subjectID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("user service: set status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}

	s.cache.InvalidateUser(subjectID)

	if s.audit != nil {
		s.audit.TrackActivity(ctx, AuditEntry{
			UserID:   actorID,
			Type:     AuditTypeActivity,
			Action:   "user.status_change",
			Resource: "user:" + subjectID,
			Result:   "success",
			Metadata: map[string]any{"status": string(status)},
		})
	}
	return nil
}
