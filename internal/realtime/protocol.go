package realtime

import (
	"encoding/json"
	"fmt"

	"blakv.app/support/common/id"
	"blakv.app/support/internal/model"
)

type Event string

const (
	// client -> server
	EventJoinTicket  Event = "join_ticket"
	EventLeaveTicket Event = "leave_ticket"
	EventJoinUser    Event = "join_user"

	// server -> client
	EventNewMessage Event = "new_message"
)

// Envelope is the single frame type on the wire in both directions.
// Membership events carry the id as a JSON string; new_message carries a
// full ticket snapshot.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewMessageEnvelope(ticket *model.Ticket) (Envelope, error) {
	data, err := json.Marshal(ticket)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding snapshot: %w", err)
	}
	return Envelope{Event: EventNewMessage, Data: data}, nil
}

func MembershipEnvelope(event Event, targetID int64) Envelope {
	data, _ := json.Marshal(id.Format(targetID))
	return Envelope{Event: event, Data: data}
}

// DecodeSnapshot reads the ticket carried by a new_message envelope.
func (e Envelope) DecodeSnapshot() (*model.Ticket, error) {
	if e.Event != EventNewMessage {
		return nil, fmt.Errorf("%w: %q carries no snapshot", ErrUnknownEvent, e.Event)
	}
	var t model.Ticket
	if err := json.Unmarshal(e.Data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return &t, nil
}

func (e Envelope) targetID() (int64, error) {
	var raw string
	if err := json.Unmarshal(e.Data, &raw); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	v, err := id.Parse(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return v, nil
}
