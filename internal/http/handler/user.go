package handler

import (
	"net/http"

	"blakv.app/support/internal/http/dto"
	"blakv.app/support/internal/http/middleware"
	"github.com/gin-gonic/gin"
)

type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

// Me returns the caller, so clients learn their own role.
func (h *UserHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ToUserResponse(middleware.GetUser(c.Request.Context())))
}
