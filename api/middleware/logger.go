package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pluck/models"
)

// Logger logs one structured line per request.
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
			"request_id", GetRequestID(c),
		}
		switch {
		case len(c.Errors) > 0 && c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("http request", append(attrs, "errors", c.Errors.String())...)
			return
		case len(c.Errors) > 0:
			logger.Warn("http request", append(attrs, "errors", c.Errors.String())...)
			return
		}
		logger.Info("http request", attrs...)
	}
}

// Recovery turns panics into a 500 error envelope.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					"error", r,
					"method", c.Request.Method,
					"path", c.Request.URL.Path,
					"client_ip", c.ClientIP(),
					"request_id", GetRequestID(c),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, models.ErrorResponse{
					Error: models.NewErrorDetail(models.ErrCodeInternal, "internal server error", GetRequestID(c)),
				})
			}
		}()
		c.Next()
	}
}
