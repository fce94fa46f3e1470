package model

import "time"

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in-progress"
	TicketStatusClosed     TicketStatus = "closed"
)

const (
	MaxSubjectLength = 100
	MaxMessageLength = 1000
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusClosed:
		return true
	}
	return false
}

// Ticket is a full snapshot of a support conversation. The same shape is
// returned by the HTTP surface and pushed over the realtime channel.
type Ticket struct {
	ID                int64        `json:"id,string"`
	CustomerID        int64        `json:"customer_id,string"`
	CustomerName      string       `json:"customer_name"`
	CustomerEmail     string       `json:"customer_email,omitempty"`
	Subject           string       `json:"subject"`
	Status            TicketStatus `json:"status"`
	AssignedAgentID   *int64       `json:"assigned_agent_id,string,omitempty"`
	AssignedAgentName *string      `json:"assigned_agent_name,omitempty"`
	Messages          []Message    `json:"messages"`
	// Version is bumped by the store on every mutation. Clients never apply
	// a snapshot older than the one they hold.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is immutable once appended.
type Message struct {
	ID           int64     `json:"id,string"`
	SenderID     int64     `json:"sender_id,string"`
	SenderName   string    `json:"sender_name"`
	Content      string    `json:"content"`
	IsAgentReply bool      `json:"is_agent_reply"`
	CreatedAt    time.Time `json:"created_at"`
}

func (t *Ticket) IsClosed() bool {
	return t.Status == TicketStatusClosed
}

func (t *Ticket) IsAssigned() bool {
	return t.AssignedAgentID != nil
}

// LastMessage returns nil for a ticket without messages.
func (t *Ticket) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return &t.Messages[len(t.Messages)-1]
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.Messages = append([]Message(nil), t.Messages...)
	if t.AssignedAgentID != nil {
		v := *t.AssignedAgentID
		c.AssignedAgentID = &v
	}
	if t.AssignedAgentName != nil {
		v := *t.AssignedAgentName
		c.AssignedAgentName = &v
	}
	return &c
}
