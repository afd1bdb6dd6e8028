package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pluck/models"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Pinger checks a backing service.
type Pinger func(ctx context.Context) error

// Health returns a handler for GET /api/v1/health. The status is
// "degraded" when ping is set and fails.
func Health(startTime time.Time, cacheBackend string, ping Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if ping != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			err := ping(ctx)
			cancel()
			if err != nil {
				status = "degraded"
			}
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Cache:   cacheBackend,
			Version: Version,
		})
	}
}
