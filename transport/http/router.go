package http

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/glytch/ports"
	"github.com/layer-3/glytch/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig wires the router's dependencies
type RouterConfig struct {
	Auth         *service.AuthService
	Binding      *service.BindingService
	Tokenizer    ports.Tokenizer
	Gatherer     prometheus.Gatherer
	Logger       watermill.LoggerAdapter
	FrontendURL  string
	CookieSecure bool
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))

	handlers := NewHandlers(cfg.Auth, cfg.Binding, cfg.FrontendURL)
	sessions := SessionMiddleware(cfg.Tokenizer, cfg.CookieSecure, cfg.Logger)

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	auth := router.Group("/auth", sessions)
	{
		auth.GET("/github/login", handlers.GitHubLogin)
		auth.GET("/github/callback", handlers.GitHubCallback)
		auth.POST("/logout", handlers.Logout)
	}

	api := router.Group("/api", sessions)
	{
		api.GET("/session", handlers.Session)
		api.POST("/verify/prepare", handlers.Prepare)
		api.GET("/verify/challenge", handlers.Challenge)
		api.POST("/verify/complete", handlers.Complete)
		api.DELETE("/verify", handlers.Cancel)
	}

	return router
}
