package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/steveterryp/copov3/pkg/response"
)

// Health returns a simple status payload useful for readiness checks. When a
// database handle is supplied its connectivity is verified too.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request.Context())
			}
			if err != nil {
				c.JSON(http.StatusServiceUnavailable, response.Response{
					Success: false,
					Error:   &response.ErrorInfo{Code: "UNAVAILABLE", Message: "database unreachable"},
				})
				return
			}
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
