package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/services"
	"github.com/steveterryp/copov3/pkg/response"
)

// AuditHandler exposes read access to the audit trail.
type AuditHandler struct {
	audit *services.AuditService
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(audit *services.AuditService) (*AuditHandler, error) {
	if audit == nil {
		return nil, errors.New("audit handler: audit service is required")
	}
	return &AuditHandler{audit: audit}, nil
}

// List returns paginated audit rows, newest first.
func (h *AuditHandler) List(c *gin.Context) {
	opts := services.AuditListOptions{
		Page:     parseIntQuery(c, "page", 1),
		PageSize: parseIntQuery(c, "per_page", 50),
		Filters: services.AuditFilters{
			UserID:   c.Query("user_id"),
			Type:     c.Query("type"),
			Action:   c.Query("action"),
			Result:   c.Query("result"),
			Resource: c.Query("resource"),
		},
	}

	logs, total, err := h.audit.List(c.Request.Context(), opts)
	if err != nil {
		response.Error(c, err)
		return
	}

	perPage := opts.PageSize
	if perPage <= 0 || perPage > 200 {
		perPage = 50
	}
	totalPages := int(total) / perPage
	if int(total)%perPage != 0 {
		totalPages++
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{
		Page:       opts.Page,
		PerPage:    perPage,
		Total:      int(total),
		TotalPages: totalPages,
	})
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
