package client_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"blakv.app/support/core/config"
	"blakv.app/support/internal/client"
	"blakv.app/support/internal/http/router"
	"blakv.app/support/internal/model"
	"blakv.app/support/internal/notify"
	"blakv.app/support/internal/realtime"
	"blakv.app/support/internal/service"
	"blakv.app/support/internal/store/memory"
)

var _ = Describe("Session", func() {
	var (
		ctx    context.Context
		hub    *realtime.Hub
		server *httptest.Server
	)

	dialWith := func(userID int64, configure func(*client.SessionConfig)) *client.Session {
		cfg := client.SessionConfig{
			BaseURL:            server.URL,
			UserID:             userID,
			TicketPollInterval: 50 * time.Millisecond,
			QueuePollInterval:  50 * time.Millisecond,
			ReconnectBackoff:   20 * time.Millisecond,
		}
		if configure != nil {
			configure(&cfg)
		}
		s, err := client.Dial(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(s.Close)
		return s
	}

	dial := func(userID int64) *client.Session {
		return dialWith(userID, nil)
	}

	members := func(room realtime.Room) func() int {
		return func() int { return hub.Members(room) }
	}

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		mem := memory.New()
		Expect(mem.Users().Upsert(ctx, &model.User{ID: customerID, Name: "Jane", Email: "jane@example.com", Role: model.RoleCustomer})).To(Succeed())
		Expect(mem.Users().Upsert(ctx, &model.User{ID: agentID, Name: "Sam", Role: model.RoleAgent})).To(Succeed())
		Expect(mem.Users().Upsert(ctx, &model.User{ID: otherAgent, Name: "Alex", Role: model.RoleAgent})).To(Succeed())

		hub = realtime.NewHub(realtime.HubConfig{Authorizer: service.NewTicketAuthorizer(mem)})
		DeferCleanup(hub.Close)
		services := service.NewServices(mem, service.NewMemoryTxRunner(mem), hub, notify.NewNoopNotifier())

		gin.SetMode(gin.TestMode)
		engine := gin.New()
		root := router.SetupRoutes(engine, services, hub, router.RouterConfig{
			Realtime:  config.RealtimeConfig{PingInterval: time.Second},
			RateLimit: config.RateLimitConfig{MessagesPerSecond: 100, Burst: 100},
		})
		server = httptest.NewServer(root)
		DeferCleanup(server.Close)
	})

	It("learns the caller's role on dial", func() {
		s := dial(agentID)
		Expect(s.User().Role).To(Equal(model.RoleAgent))
		Expect(s.Reconciler().Identity()).To(Equal(client.Identity{UserID: agentID, Role: model.RoleAgent}))
	})

	It("rejects an unknown user", func() {
		_, err := client.Dial(ctx, client.SessionConfig{BaseURL: server.URL, UserID: 999})
		Expect(err).To(MatchError(client.ErrUnauthorized))
	})

	It("carries a conversation between a customer and an agent", func() {
		customer := dial(customerID)
		agent := dial(agentID)

		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())
		Expect(t.Status).To(Equal(model.TicketStatusOpen))
		Expect(t.AssignedAgentID).To(BeNil())

		Expect(agent.WatchQueue(ctx)).To(Succeed())
		Eventually(func() *model.Ticket { return agent.Reconciler().Ticket(t.ID) }).ShouldNot(BeNil())

		_, err = agent.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		reply, err := agent.Send(ctx, "Shipped today.")
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Status).To(Equal(model.TicketStatusInProgress))
		Expect(*reply.AssignedAgentID).To(Equal(agentID))

		By("pushing the reply to the customer's user room")
		Eventually(customer.Reconciler().Notifications).Should(HaveLen(1))
		Expect(customer.Reconciler().Notifications()[0].Title).To(Equal("Message from Support Team"))
		Expect(customer.Reconciler().Ticket(t.ID).Messages).To(HaveLen(2))
		Expect(agent.Reconciler().Notifications()).To(BeEmpty())

		By("routing the customer's answer to the assigned agent once")
		_, err = customer.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = customer.Send(ctx, "Thanks!")
		Expect(err).NotTo(HaveOccurred())

		Eventually(agent.Reconciler().Notifications).Should(HaveLen(1))
		Consistently(agent.Reconciler().Notifications, 200*time.Millisecond).Should(HaveLen(1))
		Expect(agent.Reconciler().Current().Messages).To(HaveLen(3))
		Expect(customer.Reconciler().Notifications()).To(HaveLen(1))
	})

	It("does not push a customer message to an agent who is not assigned", func() {
		customer := dial(customerID)
		agent := dial(agentID)
		bystander := dial(otherAgent)

		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())
		_, err = agent.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = agent.Send(ctx, "Shipped today.")
		Expect(err).NotTo(HaveOccurred())

		_, err = customer.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(customer.CloseTicket(ctx)).To(Succeed())
		_, err = customer.Create(ctx, "Another", "One more thing")
		Expect(err).NotTo(HaveOccurred())

		Consistently(bystander.Reconciler().Notifications, 200*time.Millisecond).Should(BeEmpty())
	})

	It("leaves the ticket room and stops polling on CloseTicket", func() {
		customer := dial(customerID)
		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())

		_, err = customer.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		Eventually(func() int { return hub.Members(realtime.TicketRoom(t.ID)) }).Should(Equal(1))
		Expect(customer.Reconciler().Current()).NotTo(BeNil())

		Expect(customer.CloseTicket(ctx)).To(Succeed())

		Eventually(func() int { return hub.Members(realtime.TicketRoom(t.ID)) }).Should(BeZero())
		Expect(customer.Reconciler().Current()).To(BeNil())
		_, err = customer.Send(ctx, "anyone?")
		Expect(err).To(MatchError(client.ErrNoTicketOpen))
	})

	It("rejects replies once the ticket is closed", func() {
		customer := dial(customerID)
		agent := dial(agentID)

		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())
		_, err = agent.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		closed, err := agent.SetStatus(ctx, model.TicketStatusClosed)
		Expect(err).NotTo(HaveOccurred())
		Expect(closed.Status).To(Equal(model.TicketStatusClosed))

		_, err = customer.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = customer.Send(ctx, "Hello?")
		Expect(err).To(MatchError(client.ErrClosed))
		Consistently(agent.Reconciler().Notifications, 150*time.Millisecond).Should(BeEmpty())
	})

	It("stops the queue poll on StopQueue", func() {
		agent := dial(agentID)
		Expect(agent.WatchQueue(ctx)).To(Succeed())
		Expect(agent.WatchQueue(ctx)).To(Succeed())
		agent.StopQueue()

		customer := dial(customerID)
		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())

		Consistently(func() *model.Ticket { return agent.Reconciler().Ticket(t.ID) }, 200*time.Millisecond).Should(BeNil())
	})

	It("pushes replies over the socket without waiting for a poll", func() {
		customer := dialWith(customerID, func(cfg *client.SessionConfig) {
			cfg.TicketPollInterval = time.Hour
			cfg.QueuePollInterval = time.Hour
		})
		agent := dial(agentID)

		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())
		Eventually(members(realtime.UserRoom(customerID))).Should(Equal(1))

		_, err = agent.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = agent.Send(ctx, "Shipped today.")
		Expect(err).NotTo(HaveOccurred())

		Eventually(customer.Reconciler().Notifications).Should(HaveLen(1))
		Expect(customer.Reconciler().Ticket(t.ID).Messages).To(HaveLen(2))
	})

	It("reconnects after the server drops it and rejoins the open ticket", func() {
		customer := dialWith(customerID, func(cfg *client.SessionConfig) {
			cfg.TicketPollInterval = time.Hour
			cfg.QueuePollInterval = time.Hour
		})
		agent := dial(agentID)

		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())
		_, err = customer.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		Eventually(members(realtime.TicketRoom(t.ID))).Should(Equal(1))

		hub.Close()
		Expect(hub.Members(realtime.TicketRoom(t.ID))).To(BeZero())

		Eventually(members(realtime.TicketRoom(t.ID))).Should(Equal(1))
		Eventually(members(realtime.UserRoom(customerID))).Should(Equal(1))
		Eventually(members(realtime.UserRoom(agentID))).Should(Equal(1))

		_, err = agent.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = agent.Send(ctx, "Shipped today.")
		Expect(err).NotTo(HaveOccurred())

		Eventually(customer.Reconciler().Notifications).Should(HaveLen(1))
		Expect(customer.Reconciler().Current().Messages).To(HaveLen(2))
	})

	It("lets a notification hook call back into the session", func() {
		var (
			customer *client.Session
			once     sync.Once
			closed   = make(chan error, 1)
		)
		customer = dialWith(customerID, func(cfg *client.SessionConfig) {
			cfg.OnNotify = func(client.Notification) {
				once.Do(func() { closed <- customer.CloseTicket(context.Background()) })
			}
		})
		agent := dial(agentID)

		t, err := customer.Create(ctx, "Order Q", "Where is my order?")
		Expect(err).NotTo(HaveOccurred())
		_, err = customer.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())

		_, err = agent.OpenTicket(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = agent.Send(ctx, "Shipped today.")
		Expect(err).NotTo(HaveOccurred())

		Eventually(closed).Should(Receive(BeNil()))
		Expect(customer.Reconciler().Current()).To(BeNil())
		Eventually(members(realtime.TicketRoom(t.ID))).Should(Equal(1))
	})

	It("keeps the full queue from customers", func() {
		customer := dial(customerID)
		_, err := customer.API().AllTickets(ctx)
		Expect(err).To(MatchError(client.ErrForbidden))
	})
})
