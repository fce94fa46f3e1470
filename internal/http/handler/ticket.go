package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"blakv.app/support/common/id"
	"blakv.app/support/common/logger"
	"blakv.app/support/internal/http/dto"
	"blakv.app/support/internal/http/middleware"
	"blakv.app/support/internal/service"
	"github.com/gin-gonic/gin"
)

type TicketHandler struct {
	ticketService service.TicketService
}

func NewTicketHandler(ticketService service.TicketService) *TicketHandler {
	return &TicketHandler{ticketService: ticketService}
}

func (h *TicketHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	user := middleware.GetUser(ctx)

	var req dto.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := h.ticketService.Create(ctx, user, req.Subject, req.Message)
	if err != nil {
		writeTicketError(c, err)
		return
	}

	c.JSON(http.StatusCreated, ticket)
}

func (h *TicketHandler) ListMine(c *gin.Context) {
	ctx := c.Request.Context()

	tickets, err := h.ticketService.ListMine(ctx, middleware.GetUser(ctx))
	if err != nil {
		writeTicketError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTicketListResponse(tickets))
}

func (h *TicketHandler) ListAll(c *gin.Context) {
	ctx := c.Request.Context()

	tickets, err := h.ticketService.ListAll(ctx, middleware.GetUser(ctx))
	if err != nil {
		writeTicketError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ToTicketListResponse(tickets))
}

func (h *TicketHandler) Get(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	ticket, err := h.ticketService.Get(ctx, middleware.GetUser(ctx), ticketID)
	if err != nil {
		writeTicketError(c, err)
		return
	}

	c.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) AppendMessage(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{TicketID: logger.Ptr(ticketID)})

	var req dto.AppendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := h.ticketService.AppendMessage(ctx, middleware.GetUser(ctx), ticketID, req.Message)
	if err != nil {
		writeTicketError(c, err)
		return
	}

	c.JSON(http.StatusOK, ticket)
}

func (h *TicketHandler) UpdateStatus(c *gin.Context) {
	ticketID, ok := ticketIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	var req dto.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ticket, err := h.ticketService.UpdateStatus(ctx, middleware.GetUser(ctx), ticketID, req.Status)
	if err != nil {
		writeTicketError(c, err)
		return
	}

	c.JSON(http.StatusOK, ticket)
}

func ticketIDParam(c *gin.Context) (int64, bool) {
	ticketID, err := id.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return 0, false
	}
	return ticketID, true
}

func writeTicketError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrTicketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this ticket"})
	case errors.Is(err, service.ErrTicketClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "ticket is closed"})
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of open, in-progress, closed"})
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.ErrorContext(c.Request.Context(), "ticket request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
