package store

import (
	"context"
	"errors"

	"blakv.app/support/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// UserStore defines the contract for user data access
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	Upsert(ctx context.Context, user *model.User) error
}

// TicketStore defines the contract for support ticket data access.
// Every mutation bumps Ticket.Version and returns the post-write snapshot.
type TicketStore interface {
	// Create persists the ticket together with its initial messages.
	Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error)
	GetByID(ctx context.Context, id int64) (*model.Ticket, error)
	// GetByIDForUpdate locks the ticket for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, id int64) (*model.Ticket, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]model.Ticket, error)
	ListAll(ctx context.Context) ([]model.Ticket, error)
	// AppendMessage appends msg at the end of the ticket. An agent reply to an
	// unassigned ticket assigns the sender and moves an open ticket to
	// in-progress as part of the same write.
	AppendMessage(ctx context.Context, ticketID int64, msg *model.Message) (*model.Ticket, error)
	UpdateStatus(ctx context.Context, ticketID int64, status model.TicketStatus) (*model.Ticket, error)
}
