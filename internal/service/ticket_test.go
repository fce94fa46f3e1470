package service_test

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"blakv.app/support/internal/model"
	"blakv.app/support/internal/notify"
	"blakv.app/support/internal/realtime"
	"blakv.app/support/internal/service"
	"blakv.app/support/internal/store/memory"
)

var _ = Describe("TicketService", func() {
	var (
		ctx       context.Context
		mem       *memory.Store
		deliverer *mockDeliverer
		notifier  *mockNotifier
		svc       service.TicketService

		customer *model.User
		stranger *model.User
		agent    *model.User
		agent2   *model.User
	)

	register := func(u *model.User) *model.User {
		Expect(mem.Users().Upsert(ctx, u)).To(Succeed())
		return u
	}

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		deliverer = &mockDeliverer{}
		notifier = &mockNotifier{}
		svc = service.NewTicketService(mem, service.NewMemoryTxRunner(mem), deliverer, notifier)

		customer = register(&model.User{ID: 1, Name: "Jane", Email: "jane@example.com", Role: model.RoleCustomer})
		stranger = register(&model.User{ID: 2, Name: "Mallory", Email: "m@example.com", Role: model.RoleCustomer})
		agent = register(&model.User{ID: 10, Name: "Alex", Email: "alex@support.test", Role: model.RoleAgent})
		agent2 = register(&model.User{ID: 11, Name: "Sam", Email: "sam@support.test", Role: model.RoleAgent})
	})

	openTicket := func() *model.Ticket {
		t, err := svc.Create(ctx, customer, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	Describe("Create", func() {
		It("opens a ticket seeded with the customer's message", func() {
			t := openTicket()

			Expect(t.Status).To(Equal(model.TicketStatusOpen))
			Expect(t.AssignedAgentID).To(BeNil())
			Expect(t.CustomerName).To(Equal("Jane"))
			Expect(t.Messages).To(HaveLen(1))
			Expect(t.Messages[0].Content).To(Equal("Where is my order?"))
			Expect(t.Messages[0].IsAgentReply).To(BeFalse())
		})

		It("does not deliver anything", func() {
			openTicket()
			Expect(deliverer.all()).To(BeEmpty())
		})

		It("trims and validates lengths", func() {
			_, err := svc.Create(ctx, customer, "   ", "hello")
			Expect(err).To(MatchError(service.ErrInvalidInput))

			_, err = svc.Create(ctx, customer, strings.Repeat("s", 101), "hello")
			Expect(err).To(MatchError(service.ErrInvalidInput))

			_, err = svc.Create(ctx, customer, "ok", strings.Repeat("m", 1001))
			Expect(err).To(MatchError(service.ErrInvalidInput))

			t, err := svc.Create(ctx, customer, "  padded  ", strings.Repeat("é", 1000))
			Expect(err).NotTo(HaveOccurred())
			Expect(t.Subject).To(Equal("padded"))
		})
	})

	Describe("AppendMessage", func() {
		It("keeps messages in append order", func() {
			t := openTicket()
			for _, text := range []string{"one", "two", "three"} {
				_, err := svc.AppendMessage(ctx, customer, t.ID, text)
				Expect(err).NotTo(HaveOccurred())
			}

			got, err := svc.Get(ctx, customer, t.ID)
			Expect(err).NotTo(HaveOccurred())
			var contents []string
			for _, m := range got.Messages {
				contents = append(contents, m.Content)
			}
			Expect(contents).To(Equal([]string{"Where is my order?", "one", "two", "three"}))
		})

		It("bumps the version on every append", func() {
			t := openTicket()
			a, err := svc.AppendMessage(ctx, customer, t.ID, "one")
			Expect(err).NotTo(HaveOccurred())
			b, err := svc.AppendMessage(ctx, customer, t.ID, "two")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Version).To(BeNumerically(">", t.Version))
			Expect(b.Version).To(BeNumerically(">", a.Version))
		})

		Context("when an agent replies to an unassigned ticket", func() {
			It("assigns the agent and starts progress before addressing", func() {
				t := openTicket()

				snap, err := svc.AppendMessage(ctx, agent, t.ID, "Shipped today.")
				Expect(err).NotTo(HaveOccurred())

				Expect(snap.Status).To(Equal(model.TicketStatusInProgress))
				Expect(*snap.AssignedAgentID).To(Equal(agent.ID))
				Expect(*snap.AssignedAgentName).To(Equal("Alex"))
				Expect(snap.Messages).To(HaveLen(2))
				Expect(snap.Messages[1].IsAgentReply).To(BeTrue())

				ds := deliverer.all()
				Expect(ds).To(HaveLen(1))
				Expect(ds[0].Rooms).To(ConsistOf(realtime.TicketRoom(t.ID), realtime.UserRoom(customer.ID)))
				Expect(ds[0].Snapshot.Status).To(Equal(model.TicketStatusInProgress))
				Expect(*ds[0].Snapshot.AssignedAgentID).To(Equal(agent.ID))
			})

			It("e-mails the customer", func() {
				t := openTicket()
				_, err := svc.AppendMessage(ctx, agent, t.ID, "Shipped today.")
				Expect(err).NotTo(HaveOccurred())

				Expect(notifier.all()).To(ConsistOf(notify.Notice{
					To:           "jane@example.com",
					CustomerName: "Jane",
					Subject:      "Order Q",
					Content:      "Shipped today.",
					TicketID:     t.ID,
				}))
			})
		})

		Context("when a second agent replies to an assigned ticket", func() {
			It("keeps the original assignment for later customer messages", func() {
				t := openTicket()
				_, err := svc.AppendMessage(ctx, agent, t.ID, "Shipped today.")
				Expect(err).NotTo(HaveOccurred())

				snap, err := svc.AppendMessage(ctx, agent2, t.ID, "Tracking number is 123.")
				Expect(err).NotTo(HaveOccurred())
				Expect(*snap.AssignedAgentID).To(Equal(agent.ID))

				_, err = svc.AppendMessage(ctx, customer, t.ID, "Thanks!")
				Expect(err).NotTo(HaveOccurred())

				ds := deliverer.all()
				Expect(ds).To(HaveLen(3))
				Expect(ds[1].Rooms).To(ConsistOf(realtime.TicketRoom(t.ID), realtime.UserRoom(customer.ID)))
				Expect(ds[2].Rooms).To(ConsistOf(realtime.TicketRoom(t.ID), realtime.UserRoom(agent.ID)))
				Expect(ds[2].Rooms).NotTo(ContainElement(realtime.UserRoom(agent2.ID)))
			})
		})

		Context("when the customer writes", func() {
			It("reaches only the ticket room while unassigned and sends no e-mail", func() {
				t := openTicket()
				_, err := svc.AppendMessage(ctx, customer, t.ID, "Any news?")
				Expect(err).NotTo(HaveOccurred())

				ds := deliverer.all()
				Expect(ds).To(HaveLen(1))
				Expect(ds[0].Rooms).To(ConsistOf(realtime.TicketRoom(t.ID)))
				Expect(notifier.all()).To(BeEmpty())
			})
		})

		It("rejects someone who is neither owner nor agent before any side effect", func() {
			t := openTicket()
			_, err := svc.AppendMessage(ctx, stranger, t.ID, "let me in")
			Expect(err).To(MatchError(service.ErrForbidden))

			Expect(deliverer.all()).To(BeEmpty())
			got, err := svc.Get(ctx, customer, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Messages).To(HaveLen(1))
		})

		It("reports a missing ticket", func() {
			_, err := svc.AppendMessage(ctx, customer, 999, "hello")
			Expect(err).To(MatchError(service.ErrTicketNotFound))
			Expect(deliverer.all()).To(BeEmpty())
		})

		It("rejects replies to a closed ticket and delivers nothing more", func() {
			t := openTicket()
			_, err := svc.AppendMessage(ctx, agent, t.ID, "Shipped today.")
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.UpdateStatus(ctx, agent, t.ID, model.TicketStatusClosed)
			Expect(err).NotTo(HaveOccurred())
			before := len(deliverer.all())

			_, err = svc.AppendMessage(ctx, customer, t.ID, "one more thing")
			Expect(err).To(MatchError(service.ErrTicketClosed))
			_, err = svc.AppendMessage(ctx, agent, t.ID, "reopening?")
			Expect(err).To(MatchError(service.ErrTicketClosed))

			Expect(deliverer.all()).To(HaveLen(before))
			Expect(notifier.all()).To(HaveLen(1))
		})

		It("does not e-mail a customer without an address", func() {
			register(&model.User{ID: 3, Name: "NoMail", Role: model.RoleCustomer})
			t, err := svc.Create(ctx, &model.User{ID: 3, Role: model.RoleCustomer}, "Hi", "Hello")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.AppendMessage(ctx, agent, t.ID, "Hi back")
			Expect(err).NotTo(HaveOccurred())
			Expect(notifier.all()).To(BeEmpty())
		})

		It("returns the durable snapshot even if downstream steps misbehave", func() {
			deliverer.deliverFn = func(context.Context, []realtime.Room, realtime.Envelope) {}
			notifier.notifyFn = func(context.Context, notify.Notice) {}
			t := openTicket()

			snap, err := svc.AppendMessage(ctx, agent, t.ID, "Shipped today.")
			Expect(err).NotTo(HaveOccurred())
			Expect(snap.Messages).To(HaveLen(2))
		})

		It("fails the request and skips delivery when the write fails", func() {
			failing := service.NewTicketService(mem, &mockTxRunner{
				withTxFn: func(context.Context, func(service.StoreProvider) error) error {
					return errors.New("connection reset")
				},
			}, deliverer, notifier)
			t := openTicket()

			_, err := failing.AppendMessage(ctx, agent, t.ID, "Shipped today.")
			Expect(err).To(MatchError(ContainSubstring("connection reset")))
			Expect(deliverer.all()).To(BeEmpty())
			Expect(notifier.all()).To(BeEmpty())
		})

		It("validates content", func() {
			t := openTicket()
			_, err := svc.AppendMessage(ctx, customer, t.ID, " \n ")
			Expect(err).To(MatchError(service.ErrInvalidInput))
			_, err = svc.AppendMessage(ctx, customer, t.ID, strings.Repeat("x", 1001))
			Expect(err).To(MatchError(service.ErrInvalidInput))
		})
	})

	Describe("Get", func() {
		It("lets the owner and agents read", func() {
			t := openTicket()
			_, err := svc.Get(ctx, customer, t.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.Get(ctx, agent2, t.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("forbids other customers", func() {
			t := openTicket()
			_, err := svc.Get(ctx, stranger, t.ID)
			Expect(err).To(MatchError(service.ErrForbidden))
		})
	})

	Describe("listing", func() {
		It("lists only the customer's own tickets", func() {
			openTicket()
			_, err := svc.Create(ctx, stranger, "Other", "Not yours")
			Expect(err).NotTo(HaveOccurred())

			mine, err := svc.ListMine(ctx, customer)
			Expect(err).NotTo(HaveOccurred())
			Expect(mine).To(HaveLen(1))
			Expect(mine[0].CustomerID).To(Equal(customer.ID))
		})

		It("restricts the full queue to agents", func() {
			openTicket()
			_, err := svc.ListAll(ctx, customer)
			Expect(err).To(MatchError(service.ErrForbidden))

			all, err := svc.ListAll(ctx, agent)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(1))
		})
	})

	Describe("UpdateStatus", func() {
		It("is agent only", func() {
			t := openTicket()
			_, err := svc.UpdateStatus(ctx, customer, t.ID, model.TicketStatusClosed)
			Expect(err).To(MatchError(service.ErrForbidden))
		})

		It("rejects unknown statuses", func() {
			t := openTicket()
			_, err := svc.UpdateStatus(ctx, agent, t.ID, "archived")
			Expect(err).To(MatchError(service.ErrInvalidStatus))
		})

		It("reports a missing ticket", func() {
			_, err := svc.UpdateStatus(ctx, agent, 999, model.TicketStatusClosed)
			Expect(err).To(MatchError(service.ErrTicketNotFound))
		})

		It("bumps the version and does not deliver", func() {
			t := openTicket()
			updated, err := svc.UpdateStatus(ctx, agent, t.ID, model.TicketStatusClosed)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Status).To(Equal(model.TicketStatusClosed))
			Expect(updated.Version).To(BeNumerically(">", t.Version))
			Expect(deliverer.all()).To(BeEmpty())
		})
	})
})

var _ = Describe("TicketAuthorizer", func() {
	var (
		ctx   context.Context
		mem   *memory.Store
		authz realtime.TicketAuthorizer
		t     *model.Ticket
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = memory.New()
		authz = service.NewTicketAuthorizer(mem)
		for _, u := range []model.User{
			{ID: 1, Name: "Jane", Role: model.RoleCustomer},
			{ID: 2, Name: "Mallory", Role: model.RoleCustomer},
			{ID: 10, Name: "Alex", Role: model.RoleAgent},
		} {
			u := u
			Expect(mem.Users().Upsert(ctx, &u)).To(Succeed())
		}
		var err error
		t, err = service.NewTicketService(mem, service.NewMemoryTxRunner(mem), &mockDeliverer{}, &mockNotifier{}).
			Create(ctx, &model.User{ID: 1, Role: model.RoleCustomer}, "Hi", "Hello")
		Expect(err).NotTo(HaveOccurred())
	})

	It("admits the owner and agents", func() {
		Expect(authz.AuthorizeTicket(ctx, 1, t.ID)).To(Succeed())
		Expect(authz.AuthorizeTicket(ctx, 10, t.ID)).To(Succeed())
	})

	It("refuses other customers and unknown users", func() {
		Expect(authz.AuthorizeTicket(ctx, 2, t.ID)).To(MatchError(service.ErrForbidden))
		Expect(authz.AuthorizeTicket(ctx, 99, t.ID)).To(MatchError(service.ErrUserNotFound))
	})

	It("reports unknown tickets", func() {
		Expect(authz.AuthorizeTicket(ctx, 1, 12345)).To(MatchError(service.ErrTicketNotFound))
	})
})
