package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/middleware"
	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/internal/services"
	"github.com/steveterryp/copov3/pkg/response"
)

// UserHandler administers user accounts.
type UserHandler struct {
	users *services.UserService
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(users *services.UserService) (*UserHandler, error) {
	if users == nil {
		return nil, errors.New("user handler: user service is required")
	}
	return &UserHandler{users: users}, nil
}

type createUserRequest struct {
	Email    string      `json:"email" validate:"required,email"`
	Name     string      `json:"name" validate:"required,min=2,max=100"`
	Password string      `json:"password" validate:"required,min=8"`
	Role     models.Role `json:"role" validate:"omitempty,oneof=user admin super_admin"`
}

// Create registers a new account. Accounts start inactive until verified.
func (h *UserHandler) Create(c *gin.Context) {
	var req createUserRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), services.CreateUserInput{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, userInfo{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  string(user.Role),
	})
}

type changeRoleRequest struct {
	Role models.Role `json:"role" validate:"required,oneof=user admin super_admin"`
}

// ChangeRole moves a user to a new role and drops their cached decisions.
func (h *UserHandler) ChangeRole(c *gin.Context) {
	var req changeRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor, _ := middleware.UserFromContext(c)

	if err := h.users.ChangeRole(c.Request.Context(), actor.ID, c.Param("id"), req.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"role": req.Role})
}

type setStatusRequest struct {
	Status models.UserStatus `json:"status" validate:"required,oneof=active inactive suspended"`
}

// SetStatus suspends or reactivates an account.
func (h *UserHandler) SetStatus(c *gin.Context) {
	var req setStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor, _ := middleware.UserFromContext(c)

	if err := h.users.SetStatus(c.Request.Context(), actor.ID, c.Param("id"), req.Status); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": req.Status})
}
