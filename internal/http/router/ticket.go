package router

import (
	"blakv.app/support/internal/http/handler"
	"blakv.app/support/internal/http/middleware"
	"github.com/gin-gonic/gin"
)

func TicketRouter(rg *gin.RouterGroup, h *handler.TicketHandler, limiter *middleware.LimiterPool) {
	rg.POST("", middleware.RateLimit(limiter), h.Create)
	rg.GET("", h.ListMine)
	rg.GET("/all", middleware.RequireAgent(), h.ListAll)
	rg.GET("/:id", h.Get)
	rg.POST("/:id/messages", middleware.RateLimit(limiter), h.AppendMessage)
	rg.PUT("/:id/status", middleware.RequireAgent(), h.UpdateStatus)
}
