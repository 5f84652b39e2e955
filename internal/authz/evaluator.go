package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/pkg/metrics"
)

// Decision reasons recorded with every audited permission check.
const (
	ReasonSuperAdminBypass   = "SUPER_ADMIN_BYPASS"
	ReasonPermissionNotFound = "PERMISSION_NOT_FOUND"
	ReasonRuleDisabled       = "RULE_DISABLED"
	ReasonConditionsNotMet   = "CONDITIONS_NOT_MET"
	ReasonGranted            = "GRANTED"
)

// RequestContext carries optional client metadata into audit entries.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// DecisionAudit receives the outcome of every permission check. Implementations
// must be best-effort and never fail the check being audited.
type DecisionAudit interface {
	LogPermissionCheck(ctx context.Context, userID string, resourceType, resourceID, action string, allowed bool, reason, ipAddress, userAgent string)
}

// Evaluator combines the persisted role-level rule table with per-resource
// conditions to produce allow/deny decisions.
type Evaluator struct {
	db       *gorm.DB
	resolver *Resolver
	cache    *DecisionCache
	audit    DecisionAudit
}

// NewEvaluator constructs an Evaluator from its collaborators. The audit sink
// may be nil, in which case decisions are not recorded.
func NewEvaluator(db *gorm.DB, resolver *Resolver, cache *DecisionCache, audit DecisionAudit) (*Evaluator, error) {
	if db == nil {
		return nil, errors.New("evaluator: db is required")
	}
	if resolver == nil {
		return nil, errors.New("evaluator: resolver is required")
	}
	if cache == nil {
		return nil, errors.New("evaluator: cache is required")
	}
	return &Evaluator{db: db, resolver: resolver, cache: cache, audit: audit}, nil
}

// Cache exposes the decision cache for invalidation by mutating services.
func (e *Evaluator) Cache() *DecisionCache { return e.cache }

// Resolver exposes the resource resolver for handlers that need ownership metadata.
func (e *Evaluator) Resolver() *Resolver { return e.resolver }

// CheckPermission decides whether the user may perform action on the resource.
// SuperAdmin is granted unconditionally without touching the cache or rule
// table. All other decisions are memoized per (user, resource, action).
func (e *Evaluator) CheckPermission(ctx context.Context, user *models.User, resource Resource, action string, reqCtx *RequestContext) (bool, error) {
	if user == nil || user.ID == "" {
		return false, errors.New("evaluator: user is required")
	}
	if action == "" {
		return false, errors.New("evaluator: action is required")
	}

	if user.Role == models.RoleSuperAdmin {
		e.record(ctx, user.ID, resource, action, true, ReasonSuperAdminBypass, reqCtx)
		metrics.PermissionChecks.WithLabelValues(action, "allowed").Inc()
		return true, nil
	}

	key := PermissionKey(user.ID, resource.Type, resource.ID, action)
	allowed, err := e.cache.GetPermission(key, func() (bool, error) {
		return e.compute(ctx, user, resource, action, reqCtx)
	})
	if err != nil {
		metrics.PermissionChecks.WithLabelValues(action, "error").Inc()
		return false, err
	}

	if allowed {
		metrics.PermissionChecks.WithLabelValues(action, "allowed").Inc()
	} else {
		metrics.PermissionChecks.WithLabelValues(action, "denied").Inc()
	}
	return allowed, nil
}

// CheckPermissions evaluates each action concurrently and returns the full
// decision matrix. A denial of one action never short-circuits the others.
func (e *Evaluator) CheckPermissions(ctx context.Context, user *models.User, resource Resource, actions []string) (map[string]bool, error) {
	results := make(map[string]bool, len(actions))

	var mu sync.Mutex
	group, gctx := errgroup.WithContext(ctx)

	for _, action := range actions {
		action := action
		group.Go(func() error {
			allowed, err := e.CheckPermission(gctx, user, resource, action, nil)
			if err != nil {
				return err
			}
			mu.Lock()
			results[action] = allowed
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// compute performs the uncached decision: persisted rule lookup, the role
// gate, and per-resource condition narrowing.
func (e *Evaluator) compute(ctx context.Context, user *models.User, resource Resource, action string, reqCtx *RequestContext) (bool, error) {
	var rule models.RolePermission
	err := e.db.WithContext(ctx).
		Where("role = ? AND resource_type = ? AND action = ?", user.Role, string(resource.Type), action).
		Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		e.record(ctx, user.ID, resource, action, false, ReasonPermissionNotFound, reqCtx)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("evaluator: load rule: %w", err)
	}

	if !rule.Enabled {
		e.record(ctx, user.ID, resource, action, false, ReasonRuleDisabled, reqCtx)
		return false, nil
	}

	conditions, err := rule.DecodeConditions()
	if err != nil {
		return false, fmt.Errorf("evaluator: decode conditions: %w", err)
	}

	allowed, err := e.evaluateConditions(ctx, user, resource, conditions)
	if err != nil {
		return false, err
	}

	reason := ReasonGranted
	if !allowed {
		reason = ReasonConditionsNotMet
	}
	e.record(ctx, user.ID, resource, action, allowed, reason, reqCtx)

	return allowed, nil
}

// evaluateConditions applies the narrowing semantics: hasRole is a hard gate;
// with neither ownership check requested the condition passes trivially; with
// one requested that check is authoritative; with both requested either
// passing grants access.
func (e *Evaluator) evaluateConditions(ctx context.Context, user *models.User, resource Resource, conditions models.RuleConditions) (bool, error) {
	if len(conditions.HasRole) > 0 {
		matched := false
		for _, role := range conditions.HasRole {
			if user.Role == role {
				matched = true
				break
			}
		}
		if !matched {
			return false, nil
		}
	}

	if !conditions.IsOwner && !conditions.IsTeamMember {
		return true, nil
	}

	if conditions.IsOwner {
		if resource.OwnerID != "" && resource.OwnerID == user.ID {
			return true, nil
		}
		if !conditions.IsTeamMember {
			return false, nil
		}
	}

	// Team membership requested, either alone or as the OR alternative.
	if resource.TeamID == "" {
		return false, nil
	}
	return e.cache.GetMembership(MembershipKey(user.ID, resource.TeamID), func() (bool, error) {
		return e.resolver.IsTeamMember(ctx, user.ID, resource.TeamID)
	})
}

func (e *Evaluator) record(ctx context.Context, userID string, resource Resource, action string, allowed bool, reason string, reqCtx *RequestContext) {
	if e.audit == nil {
		return
	}

	var ip, agent string
	if reqCtx != nil {
		ip = reqCtx.IPAddress
		agent = reqCtx.UserAgent
	}
	e.audit.LogPermissionCheck(ctx, userID, string(resource.Type), resource.ID, action, allowed, reason, ip, agent)
}
