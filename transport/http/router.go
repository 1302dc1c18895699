package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bip47-showcase/auth47/observability"
	"github.com/bip47-showcase/auth47/service"
)

// RouterConfig holds the optional collaborators of the router
type RouterConfig struct {
	FrontendURL string
	Logger      *zap.Logger
	Metrics     *observability.Metrics
}

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(RequestID(), RequestLogger(logger), gin.Recovery(), CORS())
	router.SetHTMLTemplate(resultPage)

	// Create handlers
	handlers := NewAuthHandlers(authService, cfg.FrontendURL, logger)

	api := router.Group("/api")
	api.GET("/health", handlers.Health)

	// Auth routes
	auth := api.Group("/auth")
	{
		auth.GET("/challenge", handlers.Challenge)
		auth.GET("/challenge/:nonce/qr.png", handlers.ChallengeQR)
		auth.GET("/authenticate", handlers.Authenticate)
		auth.POST("/authenticate", handlers.Authenticate)
		auth.POST("/verify", handlers.Verify)
	}

	// Protected routes
	protected := auth.Group("")
	protected.Use(AuthMiddleware(authService))
	{
		protected.GET("/me", handlers.Me)
	}

	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	return router
}
