package handler_test

import (
	"context"

	"blakv.app/support/internal/http/middleware"
	"blakv.app/support/internal/model"
	"github.com/gin-gonic/gin"
)

type mockTicketService struct {
	createFn        func(ctx context.Context, actor *model.User, subject, message string) (*model.Ticket, error)
	listMineFn      func(ctx context.Context, actor *model.User) ([]model.Ticket, error)
	listAllFn       func(ctx context.Context, actor *model.User) ([]model.Ticket, error)
	getFn           func(ctx context.Context, actor *model.User, ticketID int64) (*model.Ticket, error)
	appendMessageFn func(ctx context.Context, actor *model.User, ticketID int64, content string) (*model.Ticket, error)
	updateStatusFn  func(ctx context.Context, actor *model.User, ticketID int64, status model.TicketStatus) (*model.Ticket, error)
}

func (m *mockTicketService) Create(ctx context.Context, actor *model.User, subject, message string) (*model.Ticket, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, subject, message)
	}
	return nil, nil
}

func (m *mockTicketService) ListMine(ctx context.Context, actor *model.User) ([]model.Ticket, error) {
	if m.listMineFn != nil {
		return m.listMineFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockTicketService) ListAll(ctx context.Context, actor *model.User) ([]model.Ticket, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx, actor)
	}
	return nil, nil
}

func (m *mockTicketService) Get(ctx context.Context, actor *model.User, ticketID int64) (*model.Ticket, error) {
	if m.getFn != nil {
		return m.getFn(ctx, actor, ticketID)
	}
	return nil, nil
}

func (m *mockTicketService) AppendMessage(ctx context.Context, actor *model.User, ticketID int64, content string) (*model.Ticket, error) {
	if m.appendMessageFn != nil {
		return m.appendMessageFn(ctx, actor, ticketID, content)
	}
	return nil, nil
}

func (m *mockTicketService) UpdateStatus(ctx context.Context, actor *model.User, ticketID int64, status model.TicketStatus) (*model.Ticket, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, actor, ticketID, status)
	}
	return nil, nil
}

// asUser stands in for the Identity middleware.
func asUser(user *model.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Request = c.Request.WithContext(middleware.WithUser(c.Request.Context(), user))
		}
		c.Next()
	}
}
