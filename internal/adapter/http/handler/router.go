package handler

import (
	"relay-gateway/internal/adapter/http/middleware"
	"relay-gateway/internal/core/ports"
	"relay-gateway/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Query          ports.QueryService
	Router         ports.Router
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	PublishLimit   middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	Metrics        *observability.Metrics // nil = no /metrics endpoint
	CORSOrigins    []string
	MaxBodyBytes   int64
	Mode           string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}
	r := gin.New()

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.CORS(deps.CORSOrigins))
	r.Use(middleware.MaxBodySize(maxBody))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.HTTPMiddleware())
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	publishMW := []gin.HandlerFunc{}
	if deps.RateLimitStore != nil && deps.PublishLimit.Limit > 0 {
		publishMW = append(publishMW, middleware.RateLimiter(deps.RateLimitStore, "publish", deps.PublishLimit, deps.Logger))
	}

	publishHandler := NewPublishHandler(deps.Router, deps.Metrics)

	// Legacy ingress. The platform segment is accepted and ignored.
	v2 := r.Group("/v2")
	v2.POST("/sms/platform/:platform", append(publishMW, publishHandler.Publish)...)

	v3 := r.Group("/v3")
	v3.POST("/publish", append(publishMW, publishHandler.Publish)...)

	clientHandler := NewClientHandler(deps.Query)
	clients := v3.Group("/clients")
	{
		clients.GET("", clientHandler.ListClients)
		clients.GET("/countries", clientHandler.Countries)
		clients.GET("/:"+clientKeyParam+"/tests", clientHandler.ListTests)
		clients.GET("/:"+clientKeyParam+"/operators", clientHandler.Operators)
	}

	return r
}
