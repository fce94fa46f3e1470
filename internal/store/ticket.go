package store

import (
	"context"
	"errors"
	"fmt"

	"blakv.app/support/core/db"
	"blakv.app/support/internal/model"
	"github.com/jackc/pgx/v5"
)

type ticketStore struct {
	queries db.Querier
}

func newTicketStore(queries db.Querier) TicketStore {
	return &ticketStore{queries: queries}
}

const ticketSelect = `
	SELECT t.id, t.customer_id, cu.name, cu.email, t.subject, t.status,
	       t.assigned_agent_id, ag.name, t.version, t.created_at, t.updated_at
	FROM tickets t
	JOIN users cu ON cu.id = t.customer_id
	LEFT JOIN users ag ON ag.id = t.assigned_agent_id`

func (s *ticketStore) Create(ctx context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	_, err := s.queries.Exec(ctx, `
		INSERT INTO tickets (id, customer_id, subject, status)
		VALUES ($1, $2, $3, $4)`,
		ticket.ID, ticket.CustomerID, ticket.Subject, string(ticket.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting ticket: %w", err)
	}

	for i, msg := range ticket.Messages {
		_, err := s.queries.Exec(ctx, `
			INSERT INTO ticket_messages (id, ticket_id, seq, sender_id, content, is_agent_reply)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, ticket.ID, i+1, msg.SenderID, msg.Content, msg.IsAgentReply,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting message %d: %w", i+1, err)
		}
	}

	return s.GetByID(ctx, ticket.ID)
}

func (s *ticketStore) GetByID(ctx context.Context, id int64) (*model.Ticket, error) {
	return s.get(ctx, ticketSelect+` WHERE t.id = $1`, id)
}

func (s *ticketStore) GetByIDForUpdate(ctx context.Context, id int64) (*model.Ticket, error) {
	return s.get(ctx, ticketSelect+` WHERE t.id = $1 FOR UPDATE OF t`, id)
}

func (s *ticketStore) get(ctx context.Context, query string, id int64) (*model.Ticket, error) {
	t, err := scanTicket(s.queries.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := s.loadMessages(ctx, []*model.Ticket{t}); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *ticketStore) ListByCustomer(ctx context.Context, customerID int64) ([]model.Ticket, error) {
	return s.list(ctx, ticketSelect+` WHERE t.customer_id = $1 ORDER BY t.updated_at DESC, t.id DESC`, customerID)
}

func (s *ticketStore) ListAll(ctx context.Context) ([]model.Ticket, error) {
	return s.list(ctx, ticketSelect+` ORDER BY t.updated_at DESC, t.id DESC`)
}

func (s *ticketStore) list(ctx context.Context, query string, args ...any) ([]model.Ticket, error) {
	rows, err := s.queries.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*model.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing tickets: %w", err)
	}

	if err := s.loadMessages(ctx, tickets); err != nil {
		return nil, err
	}

	out := make([]model.Ticket, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, *t)
	}
	return out, nil
}

func (s *ticketStore) AppendMessage(ctx context.Context, ticketID int64, msg *model.Message) (*model.Ticket, error) {
	// The UPDATE takes the row lock first, so concurrent appends to the same
	// ticket serialize and MAX(seq) below cannot race.
	var updated int64
	err := s.queries.QueryRow(ctx, `
		UPDATE tickets SET
			status = CASE
				WHEN $2::boolean AND assigned_agent_id IS NULL AND status = 'open' THEN 'in-progress'
				ELSE status END,
			assigned_agent_id = CASE
				WHEN $2::boolean AND assigned_agent_id IS NULL THEN $3::bigint
				ELSE assigned_agent_id END,
			version = version + 1,
			updated_at = now()
		WHERE id = $1
		RETURNING id`,
		ticketID, msg.IsAgentReply, msg.SenderID,
	).Scan(&updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("updating ticket: %w", err)
	}

	_, err = s.queries.Exec(ctx, `
		INSERT INTO ticket_messages (id, ticket_id, seq, sender_id, content, is_agent_reply)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5
		FROM ticket_messages WHERE ticket_id = $2`,
		msg.ID, ticketID, msg.SenderID, msg.Content, msg.IsAgentReply,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	return s.GetByID(ctx, ticketID)
}

func (s *ticketStore) UpdateStatus(ctx context.Context, ticketID int64, status model.TicketStatus) (*model.Ticket, error) {
	tag, err := s.queries.Exec(ctx, `
		UPDATE tickets SET status = $2, version = version + 1, updated_at = now()
		WHERE id = $1`,
		ticketID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetByID(ctx, ticketID)
}

func (s *ticketStore) loadMessages(ctx context.Context, tickets []*model.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}

	ids := make([]int64, len(tickets))
	byID := make(map[int64]*model.Ticket, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
		byID[t.ID] = t
		t.Messages = []model.Message{}
	}

	rows, err := s.queries.Query(ctx, `
		SELECT m.ticket_id, m.id, m.sender_id, u.name, m.content, m.is_agent_reply, m.created_at
		FROM ticket_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.ticket_id = ANY($1)
		ORDER BY m.ticket_id, m.seq`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			ticketID int64
			m        model.Message
		)
		if err := rows.Scan(&ticketID, &m.ID, &m.SenderID, &m.SenderName, &m.Content, &m.IsAgentReply, &m.CreatedAt); err != nil {
			return fmt.Errorf("scanning message: %w", err)
		}
		if t, ok := byID[ticketID]; ok {
			t.Messages = append(t.Messages, m)
		}
	}
	return rows.Err()
}

func scanTicket(row pgx.Row) (*model.Ticket, error) {
	var (
		t      model.Ticket
		status string
	)
	err := row.Scan(
		&t.ID, &t.CustomerID, &t.CustomerName, &t.CustomerEmail, &t.Subject, &status,
		&t.AssignedAgentID, &t.AssignedAgentName, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning ticket: %w", err)
	}
	t.Status = model.TicketStatus(status)
	return &t, nil
}
