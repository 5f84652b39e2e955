package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/middleware"
	"github.com/steveterryp/copov3/internal/services"
	"github.com/steveterryp/copov3/pkg/response"
)

// TeamHandler manages teams and their membership.
type TeamHandler struct {
	teams *services.TeamService
}

// NewTeamHandler constructs a TeamHandler.
func NewTeamHandler(teams *services.TeamService) (*TeamHandler, error) {
	if teams == nil {
		return nil, errors.New("team handler: team service is required")
	}
	return &TeamHandler{teams: teams}, nil
}

type createTeamRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// Create registers a new team.
func (h *TeamHandler) Create(c *gin.Context) {
	var req createTeamRequest
	if !bindAndValidate(c, &req) {
		return
	}

	team, err := h.teams.CreateTeam(c.Request.Context(), req.Name, req.Description)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, team)
}

type memberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// AddMember adds a user to the team.
func (h *TeamHandler) AddMember(c *gin.Context) {
	var req memberRequest
	if !bindAndValidate(c, &req) {
		return
	}

	actor, _ := middleware.UserFromContext(c)

	if err := h.teams.AddMember(c.Request.Context(), actor.ID, c.Param("id"), req.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"added": true})
}

// RemoveMember removes a user from the team.
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	actor, _ := middleware.UserFromContext(c)

	if err := h.teams.RemoveMember(c.Request.Context(), actor.ID, c.Param("id"), c.Param("userId")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}
