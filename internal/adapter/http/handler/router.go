package handler

import (
	"donation-payments/internal/adapter/http/middleware"
	redisStore "donation-payments/internal/adapter/storage/redis"
	"donation-payments/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	PaymentSvc     ports.PaymentService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes, all JWT-authenticated (service-to-service)
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	paymentHandler := NewPaymentHandler(deps.PaymentSvc)

	v1 := r.Group("/api/v1")
	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.POST("", rl("transactions"), paymentHandler.CreateTransaction)
		transactions.POST("/:id/process", rl("process"), paymentHandler.ProcessTransaction)
		transactions.POST("/:id/refund", rl("refunds"), paymentHandler.RefundTransaction)
		transactions.GET("/:id", rl("status"), paymentHandler.GetStatus)
		transactions.GET("/:id/audit", rl("status"), paymentHandler.GetAuditTrail)
	}

	return r
}
