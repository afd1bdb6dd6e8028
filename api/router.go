package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pluck/api/handler"
	"github.com/use-agent/pluck/api/middleware"
	"github.com/use-agent/pluck/config"
	"github.com/use-agent/pluck/gate"
	"github.com/use-agent/pluck/metrics"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Config    *config.Config
	Extractor handler.Extractor
	Gate      *gate.Gate
	Logger    *slog.Logger
	StartTime time.Time
	// Ping reports backing-store health; optional.
	Ping handler.Pinger
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → RequestID → Logger → Metrics → Admission
//	API:     Auth (if enabled)
//
// The health path is exempt from admission throttles and sits outside auth
// so monitoring probes always work.
func NewRouter(d Deps) *gin.Engine {
	cfg := d.Config
	gin.SetMode(cfg.Server.GinMode)

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		d.Logger.Warn("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))
	if cfg.Metrics.Enabled {
		r.Use(metrics.Middleware())
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}
	r.Use(middleware.Admission(d.Gate))

	v1 := r.Group("/api/v1")
	v1.GET("/health", handler.Health(d.StartTime, cfg.Cache.Backend, d.Ping))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}

	extract := handler.Extract(d.Extractor, handler.Options{
		Debug:   gin.Mode() == gin.DebugMode,
		HelpURL: cfg.Server.HelpURL,
	})
	protected.GET("/extract", extract)
	protected.POST("/extract", extract)

	return r
}
