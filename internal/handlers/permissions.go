package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/authz"
	"github.com/steveterryp/copov3/internal/middleware"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/internal/services"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
	"github.com/steveterryp/copov3/pkg/response"
)

// PermissionHandler administers the persisted rule table and answers
// permission queries for the authenticated user.
type PermissionHandler struct {
	rules     *services.RuleService
	evaluator *authz.Evaluator
	policy    *authz.Policy
}

// NewPermissionHandler constructs a PermissionHandler.
func NewPermissionHandler(rules *services.RuleService, evaluator *authz.Evaluator, policy *authz.Policy) (*PermissionHandler, error) {
	if rules == nil {
		return nil, errors.New("permission handler: rule service is required")
	}
	if evaluator == nil {
		return nil, errors.New("permission handler: evaluator is required")
	}
	if policy == nil {
		return nil, errors.New("permission handler: policy is required")
	}
	return &PermissionHandler{rules: rules, evaluator: evaluator, policy: policy}, nil
}

// ListRules returns the full persisted rule table.
func (h *PermissionHandler) ListRules(c *gin.Context) {
	rules, err := h.rules.ListRules(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, rules)
}

type upsertRuleRequest struct {
	Role         models.Role           `json:"role" validate:"required"`
	ResourceType string                `json:"resource_type" validate:"required"`
	Action       string                `json:"action" validate:"required"`
	Enabled      bool                  `json:"enabled"`
	Conditions   models.RuleConditions `json:"conditions"`
}

// UpsertRule creates or updates a rule row and invalidates cached decisions
// for every user holding the role.
func (h *PermissionHandler) UpsertRule(c *gin.Context) {
	var req upsertRuleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor, _ := middleware.UserFromContext(c)

	rule, err := h.rules.UpsertRule(c.Request.Context(), actor.ID, services.UpsertRuleInput{
		Role:         req.Role,
		ResourceType: req.ResourceType,
		Action:       req.Action,
		Enabled:      req.Enabled,
		Conditions:   req.Conditions,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, rule)
}

// DeleteRule removes a rule row.
func (h *PermissionHandler) DeleteRule(c *gin.Context) {
	actor, _ := middleware.UserFromContext(c)

	if err := h.rules.DeleteRule(c.Request.Context(), actor.ID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

type checkPermissionsRequest struct {
	ResourceType string   `json:"resource_type" validate:"required"`
	ResourceID   string   `json:"resource_id" validate:"required"`
	Actions      []string `json:"actions" validate:"required,min=1,dive,required"`
}

// Check evaluates a batch of actions for the authenticated user against one
// resource and returns the full decision matrix.
func (h *PermissionHandler) Check(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	var req checkPermissionsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	resource, err := h.evaluator.Resolver().GetResource(c.Request.Context(), authz.ResourceType(req.ResourceType), req.ResourceID)
	if err != nil {
		response.Error(c, err)
		return
	}

	results, err := h.evaluator.CheckPermissions(c.Request.Context(), user.Model(), resource, req.Actions)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"resource_type": req.ResourceType,
		"resource_id":   req.ResourceID,
		"results":       results,
	})
}

// MyRoles returns the authenticated user's effective role set under the
// hierarchy, plus the static route permissions attached to the role.
func (h *PermissionHandler) MyRoles(c *gin.Context) {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"role":        user.Role,
		"effective":   authz.ExpandRole(user.Role),
		"permissions": h.policy.GetRolePermissions(user.Role),
	})
}
