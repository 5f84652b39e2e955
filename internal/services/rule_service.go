package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/models"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
)

// RuleService manages the persisted permission rule table. Every mutation
// invalidates the decision cache so changes take effect without waiting out
// the TTL.
type RuleService struct {
	db    *gorm.DB
	cache *authz.DecisionCache
	audit *AuditService
}

// NewRuleService constructs a RuleService using the provided collaborators.
func NewRuleService(db *gorm.DB, cache *authz.DecisionCache, audit *AuditService) (*RuleService, error) {
	if db == nil {
		return nil, errors.New("rule service: db is required")
	}
	if cache == nil {
		return nil, errors.New("rule service: cache is required")
	}
	return &RuleService{db: db, cache: cache, audit: audit}, nil
}

// ListRules returns the full rule table ordered by role and resource.
func (s *RuleService) ListRules(ctx context.Context) ([]models.RolePermission, error) {
	var rules []models.RolePermission
	err := s.db.WithContext(ctx).
		Order("role ASC, resource_type ASC, action ASC").
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("rule service: list rules: %w", err)
	}
	return rules, nil
}

// UpsertRuleInput describes a rule row to create or update.
type UpsertRuleInput struct {
	Role         models.Role
	ResourceType string
	Action       string
	Enabled      bool
	Conditions   models.RuleConditions
}

// UpsertRule creates or updates the rule matching the (role, resource, action)
// triple, then drops cached decisions for every user holding the role.
func (s *RuleService) UpsertRule(ctx context.Context, actorID string, input UpsertRuleInput) (*models.RolePermission, error) {
	if !input.Role.Valid() {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("unknown role %q", input.Role))
	}
	resourceType := strings.TrimSpace(input.ResourceType)
	action := strings.TrimSpace(input.Action)
	if resourceType == "" || action == "" {
		return nil, apperrors.NewBadRequest("resource type and action are required")
	}

	var rule models.RolePermission
	err := s.db.WithContext(ctx).
		Where("role = ? AND resource_type = ? AND action = ?", input.Role, resourceType, action).
		Take(&rule).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rule = models.RolePermission{
			Role:         input.Role,
			ResourceType: resourceType,
			Action:       action,
			Enabled:      input.Enabled,
		}
		if err := rule.EncodeConditions(input.Conditions); err != nil {
			return nil, fmt.Errorf("rule service: encode conditions: %w", err)
		}
		if err := s.db.WithContext(ctx).Create(&rule).Error; err != nil {
			return nil, fmt.Errorf("rule service: create rule: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("rule service: load rule: %w", err)
	default:
		rule.Enabled = input.Enabled
		if err := rule.EncodeConditions(input.Conditions); err != nil {
			return nil, fmt.Errorf("rule service: encode conditions: %w", err)
		}
		if err := s.db.WithContext(ctx).Save(&rule).Error; err != nil {
			return nil, fmt.Errorf("rule service: update rule: %w", err)
		}
	}

	s.invalidateRole(ctx, input.Role)

	if s.audit != nil {
		s.audit.LogPermissionChange(ctx, actorID, rule)
	}

	return &rule, nil
}

// DeleteRule removes a rule, causing future checks on the triple to deny with
// a missing-rule reason.
func (s *RuleService) DeleteRule(ctx context.Context, actorID, ruleID string) error {
	var rule models.RolePermission
	err := s.db.WithContext(ctx).Take(&rule, "id = ?", ruleID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("rule service: load rule: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&rule).Error; err != nil {
		return fmt.Errorf("rule service: delete rule: %w", err)
	}

	s.invalidateRole(ctx, rule.Role)

	if s.audit != nil {
		rule.Enabled = false
		s.audit.LogPermissionChange(ctx, actorID, rule)
	}

	return nil
}

// invalidateRole drops cached decisions for every user holding the role. Rule
// rows are keyed by role rather than user, so the affected users are looked
// up first; if the lookup fails the TTL still bounds staleness.
func (s *RuleService) invalidateRole(ctx context.Context, role models.Role) {
	var userIDs []string
	if err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("role = ?", role).
		Pluck("id", &userIDs).Error; err != nil {
		return
	}

	for _, id := range userIDs {
		s.cache.InvalidateUser(id)
	}
}
