package realtime

import (
	"fmt"

	"blakv.app/support/common/id"
)

type RoomKind string

const (
	RoomKindTicket RoomKind = "ticket"
	RoomKindUser   RoomKind = "user"
)

// Room is a delivery address: the set of connections viewing one ticket, or
// the set of connections belonging to one user. Ticket and user ids live in
// separate namespaces, so TicketRoom(7) and UserRoom(7) never collide.
type Room struct {
	Kind RoomKind `json:"kind"`
	ID   int64    `json:"id,string"`
}

func TicketRoom(ticketID int64) Room {
	return Room{Kind: RoomKindTicket, ID: ticketID}
}

func UserRoom(userID int64) Room {
	return Room{Kind: RoomKindUser, ID: userID}
}

func (r Room) String() string {
	return string(r.Kind) + ":" + id.Format(r.ID)
}

func (r Room) Valid() bool {
	return (r.Kind == RoomKindTicket || r.Kind == RoomKindUser) && r.ID > 0
}

func (r Room) validate() error {
	if !r.Valid() {
		return fmt.Errorf("invalid room %q", r.String())
	}
	return nil
}
