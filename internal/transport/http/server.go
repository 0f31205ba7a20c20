package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/auth"
	"github.com/vovakirdan/huddle-server/internal/config"
	"github.com/vovakirdan/huddle-server/internal/core"
)

// NewServer builds the HTTP server: the websocket endpoint plus the REST API.
func NewServer(hub core.Hub, verifier *auth.Verifier, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	router.Use(CORSMiddleware(cfg.AllowedOrigins))

	router.GET("/health", healthHandler)
	router.GET("/ws", gin.WrapH(NewWSHandler(hub, verifier, cfg, logger)))
	if cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	handlers := NewAPIHandlers(hub, cfg.ICEServers, logger)
	api := router.Group("/api")
	{
		api.GET("/ice-servers", handlers.ICEServers)

		read := api.Group("")
		if verifier.Required() {
			read.Use(AuthMiddleware(verifier, logger))
		}
		read.GET("/online", handlers.OnlineUsers)
		read.GET("/messages", handlers.Messages)

		api.DELETE("/messages/:id", AuthMiddleware(verifier, logger), handlers.DeleteMessage)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
