// Package server assembles the contactsvc HTTP router.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/dhawalhost/contactguard/internal/contact"
	"github.com/dhawalhost/contactguard/internal/identity"
	"github.com/dhawalhost/contactguard/pkg/middleware"
	"github.com/dhawalhost/contactguard/pkg/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Options struct {
	ServiceName   string
	CORSOrigins   []string
	HealthTimeout time.Duration
}

type Deps struct {
	Contacts    *contact.HTTPHandler
	Verifier    identity.Verifier
	Metrics     *observability.Metrics
	RateLimiter *middleware.IPRateLimiter // nil disables rate limiting
	Checks      map[string]HealthChecker
	Logger      *zap.Logger
}

// BuildRouter wires middleware, the contacts API, /health and /metrics.
func BuildRouter(d Deps, opts Options) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = 2 * time.Second
	}

	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Panic recovered", zap.Any("panic", recovered), zap.String("request_id", middleware.RequestIDFromGinContext(c)))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}))
	r.Use(middleware.RequestID())
	r.Use(otelgin.Middleware(opts.ServiceName))
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.SecurityHeadersMiddleware())
	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  opts.CORSOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowHeaders:  []string{"Authorization", "Content-Type", middleware.DefaultRequestIDHeader},
			ExposeHeaders: []string{middleware.DefaultRequestIDHeader},
			MaxAge:        5 * time.Minute,
		}))
	}
	if d.Metrics != nil {
		r.Use(observability.PrometheusMiddleware(d.Metrics))
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	r.GET("/health", healthHandler(d.Checks, opts.HealthTimeout, logger))

	api := r.Group("")
	if d.RateLimiter != nil {
		api.Use(middleware.RateLimitMiddleware(d.RateLimiter))
	}
	d.Contacts.RegisterRoutes(api, identity.Middleware(d.Verifier, logger))

	return r
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Healthy bool              `json:"healthy"`
	Checks  map[string]string `json:"checks"`
}

func healthHandler(checks map[string]HealthChecker, timeout time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		resp := HealthResponse{Healthy: true, Checks: make(map[string]string, len(checks))}
		for name, check := range checks {
			if err := check.HealthCheck(ctx); err != nil {
				logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
				resp.Healthy = false
				resp.Checks[name] = "unavailable"
				continue
			}
			resp.Checks[name] = "ok"
		}

		status := http.StatusOK
		if !resp.Healthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
