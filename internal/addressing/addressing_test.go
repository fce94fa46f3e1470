package addressing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"blakv.app/support/internal/addressing"
	"blakv.app/support/internal/model"
	"blakv.app/support/internal/realtime"
)

var _ = Describe("Resolve", func() {
	const (
		ticketID   int64 = 100
		customerID int64 = 1
		agentID    int64 = 2
	)

	var ticket *model.Ticket

	BeforeEach(func() {
		ticket = &model.Ticket{ID: ticketID, CustomerID: customerID, Status: model.TicketStatusOpen}
	})

	Context("when an agent replies", func() {
		It("targets the ticket room and the customer", func() {
			ticket.AssignedAgentID = ptr(agentID)
			Expect(addressing.Resolve(ticket, true)).To(ConsistOf(
				realtime.TicketRoom(ticketID),
				realtime.UserRoom(customerID),
			))
		})

		It("never targets the replying agent's own room", func() {
			ticket.AssignedAgentID = ptr(agentID)
			Expect(addressing.Resolve(ticket, true)).NotTo(ContainElement(realtime.UserRoom(agentID)))
		})
	})

	Context("when the customer writes", func() {
		It("targets the ticket room and the assigned agent", func() {
			ticket.AssignedAgentID = ptr(agentID)
			Expect(addressing.Resolve(ticket, false)).To(ConsistOf(
				realtime.TicketRoom(ticketID),
				realtime.UserRoom(agentID),
			))
		})

		It("targets only the ticket room while unassigned", func() {
			Expect(addressing.Resolve(ticket, false)).To(ConsistOf(realtime.TicketRoom(ticketID)))
		})
	})

	It("keeps ticket and user rooms distinct for equal ids", func() {
		ticket.ID = customerID
		rooms := addressing.Resolve(ticket, true)
		Expect(rooms).To(HaveLen(2))
		Expect(rooms[0]).NotTo(Equal(rooms[1]))
	})
})

func ptr[T any](v T) *T { return &v }
