package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"blakv.app/support/common/id"
	"blakv.app/support/common/logger"
	"blakv.app/support/internal/addressing"
	"blakv.app/support/internal/model"
	"blakv.app/support/internal/notify"
	"blakv.app/support/internal/realtime"
	"blakv.app/support/internal/store"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrForbidden      = errors.New("not allowed to access this ticket")
	ErrTicketClosed   = errors.New("ticket is closed")
	ErrInvalidStatus  = errors.New("invalid ticket status")
	ErrInvalidInput   = errors.New("invalid input")
)

type TicketService interface {
	// Create opens a ticket owned by actor, seeded with its first message.
	Create(ctx context.Context, actor *model.User, subject, message string) (*model.Ticket, error)
	ListMine(ctx context.Context, actor *model.User) ([]model.Ticket, error)
	// ListAll is the agent queue, most recently active first.
	ListAll(ctx context.Context, actor *model.User) ([]model.Ticket, error)
	Get(ctx context.Context, actor *model.User, ticketID int64) (*model.Ticket, error)
	// AppendMessage durably records the message, then pushes the new snapshot
	// to the relevant rooms and, for agent replies, e-mails the customer.
	// Only the durable write can fail the call.
	AppendMessage(ctx context.Context, actor *model.User, ticketID int64, content string) (*model.Ticket, error)
	UpdateStatus(ctx context.Context, actor *model.User, ticketID int64, status model.TicketStatus) (*model.Ticket, error)
}

type ticketService struct {
	stores    StoreProvider
	txRunner  TxRunner
	deliverer realtime.Deliverer
	notifier  notify.Notifier
}

func NewTicketService(stores StoreProvider, txRunner TxRunner, deliverer realtime.Deliverer, notifier notify.Notifier) TicketService {
	return &ticketService{
		stores:    stores,
		txRunner:  txRunner,
		deliverer: deliverer,
		notifier:  notifier,
	}
}

func (s *ticketService) Create(ctx context.Context, actor *model.User, subject, message string) (*model.Ticket, error) {
	subject, err := cleanText(subject, model.MaxSubjectLength)
	if err != nil {
		return nil, fmt.Errorf("%w: subject %v", ErrInvalidInput, err)
	}
	message, err = cleanText(message, model.MaxMessageLength)
	if err != nil {
		return nil, fmt.Errorf("%w: message %v", ErrInvalidInput, err)
	}

	ticket := &model.Ticket{
		ID:         id.New(),
		CustomerID: actor.ID,
		Subject:    subject,
		Status:     model.TicketStatusOpen,
		Messages: []model.Message{{
			ID:       id.New(),
			SenderID: actor.ID,
			Content:  message,
		}},
	}

	var created *model.Ticket
	err = s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		var err error
		created, err = stores.Tickets().Create(ctx, ticket)
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create ticket", "error", err, "customer_id", actor.ID)
		return nil, fmt.Errorf("creating ticket: %w", err)
	}

	slog.InfoContext(ctx, "ticket created", "ticket_id", created.ID, "customer_id", actor.ID)
	return created, nil
}

func (s *ticketService) ListMine(ctx context.Context, actor *model.User) ([]model.Ticket, error) {
	tickets, err := s.stores.Tickets().ListByCustomer(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	return tickets, nil
}

func (s *ticketService) ListAll(ctx context.Context, actor *model.User) ([]model.Ticket, error) {
	if !actor.IsAgent() {
		return nil, ErrForbidden
	}
	tickets, err := s.stores.Tickets().ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	return tickets, nil
}

func (s *ticketService) Get(ctx context.Context, actor *model.User, ticketID int64) (*model.Ticket, error) {
	ticket, err := s.stores.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return nil, mapTicketErr(err)
	}
	if err := authorize(actor, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (s *ticketService) AppendMessage(ctx context.Context, actor *model.User, ticketID int64, content string) (*model.Ticket, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TicketID:  logger.Ptr(ticketID),
		UserID:    logger.Ptr(actor.ID),
		Component: "support.tickets",
	})
	sc := logger.StartSpan(ctx, "tickets.append_message")
	defer sc.End()
	ctx = sc.Context()
	sc.SetInt64("ticket.id", ticketID)

	content, err := cleanText(content, model.MaxMessageLength)
	if err != nil {
		return nil, fmt.Errorf("%w: message %v", ErrInvalidInput, err)
	}

	msg := &model.Message{
		ID:           id.New(),
		SenderID:     actor.ID,
		Content:      content,
		IsAgentReply: actor.IsAgent(),
	}

	var snapshot *model.Ticket
	err = s.txRunner.WithTx(ctx, func(stores StoreProvider) error {
		current, err := stores.Tickets().GetByIDForUpdate(ctx, ticketID)
		if err != nil {
			return mapTicketErr(err)
		}
		if err := authorize(actor, current); err != nil {
			return err
		}
		if current.IsClosed() {
			return ErrTicketClosed
		}

		snapshot, err = stores.Tickets().AppendMessage(ctx, ticketID, msg)
		if err != nil {
			return mapTicketErr(err)
		}
		return nil
	})
	if err != nil {
		if !isClientError(err) {
			sc.RecordError(err)
			slog.ErrorContext(ctx, "failed to append message", "error", err)
		}
		return nil, err
	}

	slog.InfoContext(ctx, "message appended",
		"message_id", msg.ID,
		"agent_reply", msg.IsAgentReply,
		"messages", len(snapshot.Messages),
		"version", snapshot.Version,
	)

	// Everything below runs after the commit and cannot fail the request.
	s.deliver(ctx, snapshot, msg.IsAgentReply)
	if msg.IsAgentReply && snapshot.CustomerEmail != "" {
		s.notifier.Notify(ctx, notify.Notice{
			To:           snapshot.CustomerEmail,
			CustomerName: snapshot.CustomerName,
			Subject:      snapshot.Subject,
			Content:      content,
			TicketID:     snapshot.ID,
		})
	}

	return snapshot, nil
}

func (s *ticketService) deliver(ctx context.Context, snapshot *model.Ticket, senderIsAgent bool) {
	env, err := realtime.NewMessageEnvelope(snapshot)
	if err != nil {
		slog.ErrorContext(ctx, "failed to encode snapshot", "error", err)
		return
	}
	rooms := addressing.Resolve(snapshot, senderIsAgent)
	s.deliverer.Deliver(ctx, rooms, env)
}

func (s *ticketService) UpdateStatus(ctx context.Context, actor *model.User, ticketID int64, status model.TicketStatus) (*model.Ticket, error) {
	if !actor.IsAgent() {
		return nil, ErrForbidden
	}
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}

	ticket, err := s.stores.Tickets().UpdateStatus(ctx, ticketID, status)
	if err != nil {
		return nil, mapTicketErr(err)
	}

	slog.InfoContext(ctx, "ticket status updated",
		"ticket_id", ticketID,
		"status", status,
		"agent_id", actor.ID,
	)
	return ticket, nil
}

// authorize admits the ticket's customer and any agent.
func authorize(actor *model.User, t *model.Ticket) error {
	if actor.IsAgent() || actor.ID == t.CustomerID {
		return nil
	}
	return ErrForbidden
}

func mapTicketErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrTicketNotFound
	}
	return fmt.Errorf("ticket store: %w", err)
}

func isClientError(err error) bool {
	return errors.Is(err, ErrTicketNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrTicketClosed) ||
		errors.Is(err, ErrInvalidInput)
}

// cleanText trims s and checks it is non-empty and at most max characters.
func cleanText(s string, max int) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", errors.New("is required")
	}
	if utf8.RuneCountInString(s) > max {
		return "", fmt.Errorf("cannot exceed %d characters", max)
	}
	return s, nil
}

type ticketAuthorizer struct {
	stores StoreProvider
}

// NewTicketAuthorizer checks realtime room joins with the same rule as the
// HTTP surface: the ticket's customer or any agent.
func NewTicketAuthorizer(stores StoreProvider) realtime.TicketAuthorizer {
	return &ticketAuthorizer{stores: stores}
}

func (a *ticketAuthorizer) AuthorizeTicket(ctx context.Context, userID, ticketID int64) error {
	user, err := a.stores.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("getting user: %w", err)
	}
	ticket, err := a.stores.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return mapTicketErr(err)
	}
	return authorize(user, ticket)
}
