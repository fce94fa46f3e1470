package router

import (
	"net/http"

	"blakv.app/support/core/config"
	"blakv.app/support/internal/http/handler"
	"blakv.app/support/internal/http/middleware"
	"blakv.app/support/internal/realtime"
	"blakv.app/support/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	SigningKey string
	Realtime   config.RealtimeConfig
	RateLimit  config.RateLimitConfig
}

// SetupRoutes registers the REST surface on router and returns the root
// handler for the server. /ws is served beside the engine, not through it.
func SetupRoutes(router *gin.Engine, services *service.Services, hub *realtime.Hub, cfg RouterConfig) http.Handler {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", middleware.Identity(services.Users(), cfg.SigningKey), middleware.RequireUser())
	{
		UserRouter(v1.Group("/users"), handler.NewUserHandler())

		limiter := middleware.NewLimiterPool(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.Burst)
		TicketRouter(v1.Group("/tickets"), handler.NewTicketHandler(services.Tickets()), limiter)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", handler.NewRealtimeHandler(hub, services.Users(), cfg.SigningKey, cfg.Realtime))
	mux.Handle("/", router)
	return mux
}
