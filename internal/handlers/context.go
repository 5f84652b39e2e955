package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/steveterryp/copov3/internal/authz"
)

// requestContext extracts client metadata used for auditing permission decisions.
func requestContext(c *gin.Context) authz.RequestContext {
	return authz.RequestContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
