package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/models"
	"github.com/steveterryp/copov3/internal/services"
	apperrors "github.com/steveterryp/copov3/pkg/errors"
	"github.com/steveterryp/copov3/pkg/response"
)

// StatusHandler exposes the PoV lifecycle state machine over HTTP.
type StatusHandler struct {
	statuses *services.StatusService
}

// NewStatusHandler constructs a StatusHandler.
func NewStatusHandler(statuses *services.StatusService) (*StatusHandler, error) {
	if statuses == nil {
		return nil, errors.New("status handler: status service is required")
	}
	return &StatusHandler{statuses: statuses}, nil
}

type availableTransitionsResponse struct {
	Current   models.PoVStatus   `json:"current"`
	Available []models.PoVStatus `json:"available"`
}

// AvailableTransitions returns the statuses reachable from the PoV's current status.
func (h *StatusHandler) AvailableTransitions(c *gin.Context) {
	povID := c.Param("id")

	current, err := h.statuses.CurrentStatus(c.Request.Context(), povID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, availableTransitionsResponse{
		Current:   current,
		Available: h.statuses.AvailableTransitions(current),
	})
}

type transitionRequest struct {
	Status models.PoVStatus `json:"status" validate:"required"`
}

// Transition attempts the requested status change. Business failures return
// 422 carrying every unmet condition message; success returns the new status
// and the notification intents declared on the edge.
func (h *StatusHandler) Transition(c *gin.Context) {
	povID := c.Param("id")

	var req transitionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	if !req.Status.Valid() {
		response.Error(c, apperrors.NewBadRequest("unknown status"))
		return
	}

	result, err := h.statuses.TransitionStatus(c.Request.Context(), povID, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}

	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, response.Response{
			Success: false,
			Error: &response.ErrorInfo{
				Code:    "TRANSITION_REJECTED",
				Message: "Status transition rejected",
				Details: result.Errors,
			},
		})
		return
	}

	response.Success(c, http.StatusOK, result)
}
