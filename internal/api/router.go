package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/app"
	"github.com/clearlane/onboard/internal/handlers"
	"github.com/clearlane/onboard/internal/middleware"
	"github.com/clearlane/onboard/internal/trackers"
	"github.com/clearlane/onboard/internal/verification"
)

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(db *gorm.DB, cfg *app.Config, resume *verification.ResumeService, trackerSvc *trackers.Service) (*gin.Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if resume == nil {
		return nil, fmt.Errorf("resume service must be provided")
	}
	if trackerSvc == nil {
		return nil, fmt.Errorf("tracker service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	r.NoRoute(middleware.NotFoundHandler)

	if cfg.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(db))
	}
	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	resumeHandler := handlers.NewResumeHandler(resume)
	appHandler := handlers.NewApplicationHandler(trackerSvc)

	// Public resume routes. These face unauthenticated applicants, so they
	// carry the tightest throttle in the system.
	public := r.Group("/api/resume")
	public.Use(middleware.RateLimit(cfg.Resume.RateLimit.MaxRequests, cfg.Resume.RateLimit.Window))
	{
		public.POST("/request", resumeHandler.Request)
		public.POST("/confirm", resumeHandler.Confirm)
	}

	// Revocation stays outside the session guard. Revoking an already
	// revoked or expired token must still answer with success, and the
	// guard would reject those tokens before the handler runs.
	r.POST("/api/session/revoke", resumeHandler.Revoke)

	// Protected routes
	requireSession := middleware.SessionAuth(resume)

	api := r.Group("/api")
	api.Use(requireSession)

	application := api.Group("/application")
	{
		application.GET("", appHandler.Get)
		application.POST("/advance", appHandler.Advance)
		application.POST("/submit", appHandler.Submit)
	}

	return r, nil
}
