// Package addressing decides which realtime rooms receive a ticket update.
package addressing

import (
	"blakv.app/support/internal/model"
	"blakv.app/support/internal/realtime"
)

// Resolve returns the rooms that must receive the snapshot t after a message
// was appended. t must be the post-write snapshot, so an agent reply that
// just claimed the ticket is already reflected in t.AssignedAgentID.
//
// Agent replies reach the ticket room and the customer. Customer messages
// reach the ticket room and, when one is assigned, the agent. There is no
// room for unassigned agents: they find new tickets by polling the queue.
func Resolve(t *model.Ticket, senderIsAgent bool) []realtime.Room {
	rooms := []realtime.Room{realtime.TicketRoom(t.ID)}
	if senderIsAgent {
		return append(rooms, realtime.UserRoom(t.CustomerID))
	}
	if t.AssignedAgentID != nil {
		rooms = append(rooms, realtime.UserRoom(*t.AssignedAgentID))
	}
	return rooms
}
