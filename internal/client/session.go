package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"blakv.app/support/common/logger"
	"blakv.app/support/internal/model"
)

const (
	DefaultTicketPollInterval = 3 * time.Second
	DefaultQueuePollInterval  = 5 * time.Second
	DefaultReconnectBackoff   = 250 * time.Millisecond

	maxReconnectBackoff = 10 * time.Second
	pendingNotifyLimit  = HistoryLimit
)

var ErrNoTicketOpen = errors.New("no ticket is open")

type SessionConfig struct {
	BaseURL   string
	UserID    int64
	Signature string // hex HMAC of the user id, when the server requires one

	TicketPollInterval time.Duration
	QueuePollInterval  time.Duration
	// ReconnectBackoff is the first wait before re-dialing a dropped socket.
	// It doubles per failed attempt up to ten seconds.
	ReconnectBackoff time.Duration

	HTTPClient *http.Client
	// OnNotify runs on its own goroutine, so it may call back into the
	// Session.
	OnNotify func(Notification)
}

// Session is one connected client: a realtime socket plus the pollers that
// back it up, all feeding a single Reconciler. A dropped socket is re-dialed
// in the background while the pollers keep running.
type Session struct {
	cfg  SessionConfig
	api  *API
	rec  *Reconciler
	user *model.User

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	notes  chan Notification

	mu         sync.Mutex
	socket     *Socket
	open       int64
	ticketPoll *Poller[*model.Ticket]
	queuePoll  *Poller[[]model.Ticket]
}

// Dial resolves the caller's identity, connects the realtime socket and takes
// a baseline of the caller's tickets.
func Dial(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.TicketPollInterval <= 0 {
		cfg.TicketPollInterval = DefaultTicketPollInterval
	}
	if cfg.QueuePollInterval <= 0 {
		cfg.QueuePollInterval = DefaultQueuePollInterval
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}

	var opts []APIOption
	if cfg.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Signature != "" {
		opts = append(opts, WithSignature(cfg.Signature))
	}
	api := NewAPI(cfg.BaseURL, cfg.UserID, opts...)

	user, err := api.Me(ctx)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(logger.WithLogFields(context.WithoutCancel(ctx), logger.LogFields{
		UserID:    logger.Ptr(user.ID),
		Component: "support.client",
	}))

	s := &Session{
		cfg:    cfg,
		api:    api,
		user:   user,
		ctx:    sessCtx,
		cancel: cancel,
	}

	var recOpts []ReconcilerOption
	if cfg.OnNotify != nil {
		s.notes = make(chan Notification, pendingNotifyLimit)
		recOpts = append(recOpts, WithOnNotify(s.queueNotification))
		go s.dispatchNotifications()
	}
	s.rec = NewReconciler(Identity{UserID: user.ID, Role: user.Role}, recOpts...)

	socket, err := s.dialSocket(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	s.socket = socket

	tickets, err := s.list(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.rec.ApplyAll(tickets, SourcePull)

	s.wg.Add(1)
	go s.superviseSocket()

	slog.InfoContext(sessCtx, "support session started", "role", user.Role)
	return s, nil
}

func (s *Session) User() *model.User {
	return s.user
}

func (s *Session) Reconciler() *Reconciler {
	return s.rec
}

func (s *Session) API() *API {
	return s.api
}

func (s *Session) dialSocket(ctx context.Context) (*Socket, error) {
	return DialSocket(ctx, s.cfg.BaseURL, s.api.Header(), func(t *model.Ticket) {
		s.rec.Apply(t, SourcePush)
	})
}

func (s *Session) currentSocket() *Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket
}

// superviseSocket re-dials whenever the socket drops, until Close.
func (s *Session) superviseSocket() {
	defer s.wg.Done()

	for {
		socket := s.currentSocket()
		select {
		case <-s.ctx.Done():
			return
		case <-socket.Done():
		}

		slog.WarnContext(s.ctx, "realtime socket dropped, reconnecting", "error", socket.Err())
		if !s.reconnect() {
			return
		}
	}
}

// reconnect dials with backoff, re-joins the open ticket's room and pulls
// once to cover pushes missed while down. It reports false once the session
// is closed.
func (s *Session) reconnect() bool {
	backoff := s.cfg.ReconnectBackoff
	for attempt := 1; ; attempt++ {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(backoff):
		}

		socket, err := s.dialSocket(s.ctx)
		if err != nil {
			slog.DebugContext(s.ctx, "realtime reconnect failed", "error", err, "attempt", attempt)
			backoff = min(backoff*2, maxReconnectBackoff)
			continue
		}

		s.mu.Lock()
		old := s.socket
		s.socket = socket
		ticketID := s.open
		s.mu.Unlock()

		if err := old.Close(); err != nil {
			slog.DebugContext(s.ctx, "closing dropped socket", "error", err)
		}
		if ticketID != 0 {
			if err := socket.JoinTicket(s.ctx, ticketID); err != nil {
				slog.WarnContext(s.ctx, "rejoining ticket room failed", "error", err, "ticket_id", ticketID)
			}
		}

		s.resync(ticketID)
		slog.InfoContext(s.ctx, "realtime socket reconnected", "attempts", attempt)
		return true
	}
}

func (s *Session) resync(ticketID int64) {
	if tickets, err := s.list(s.ctx); err == nil {
		s.rec.ApplyAll(tickets, SourcePull)
	} else if s.ctx.Err() == nil {
		slog.WarnContext(s.ctx, "resync after reconnect failed", "error", err)
	}

	if ticketID == 0 {
		return
	}
	if t, err := s.api.Ticket(s.ctx, ticketID); err == nil {
		s.rec.Apply(t, SourcePull)
	}
}

// queueNotification never blocks the reconciler. Toasts beyond the pending
// limit are dropped; the history still holds them.
func (s *Session) queueNotification(n Notification) {
	select {
	case s.notes <- n:
	default:
		slog.DebugContext(s.ctx, "dropping toast, hook is behind", "ticket_id", n.TicketID)
	}
}

func (s *Session) dispatchNotifications() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case n := <-s.notes:
			if s.ctx.Err() != nil {
				return
			}
			s.cfg.OnNotify(n)
		}
	}
}

// OpenTicket joins the ticket's room, fetches it immediately and polls it
// until CloseTicket. Opening a ticket closes any other open one.
func (s *Session) OpenTicket(ctx context.Context, ticketID int64) (*model.Ticket, error) {
	if err := s.CloseTicket(ctx); err != nil {
		slog.DebugContext(ctx, "closing previous ticket view failed", "error", err)
	}

	t, err := s.api.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	// open is set before the join so a concurrent reconnect re-joins it.
	s.mu.Lock()
	s.open = ticketID
	socket := s.socket
	s.mu.Unlock()

	if err := socket.JoinTicket(ctx, ticketID); err != nil {
		select {
		case <-socket.Done():
			slog.DebugContext(ctx, "socket down, room joins on reconnect", "ticket_id", ticketID)
		default:
			s.mu.Lock()
			s.open = 0
			s.mu.Unlock()
			return nil, err
		}
	}

	s.rec.Apply(t, SourcePull)
	s.rec.Open(ticketID)

	poll := StartPoller(s.ctx, s.cfg.TicketPollInterval,
		func(ctx context.Context) (*model.Ticket, error) {
			return s.api.Ticket(ctx, ticketID)
		},
		func(t *model.Ticket) {
			s.rec.Apply(t, SourcePull)
		},
	)

	s.mu.Lock()
	s.ticketPoll = poll
	s.mu.Unlock()

	return s.rec.Current(), nil
}

// CloseTicket stops the open ticket's poll, leaves its room and clears the
// view. No-op when nothing is open.
func (s *Session) CloseTicket(ctx context.Context) error {
	s.mu.Lock()
	ticketID, poll, socket := s.open, s.ticketPoll, s.socket
	s.open, s.ticketPoll = 0, nil
	s.mu.Unlock()

	if ticketID == 0 {
		return nil
	}
	if poll != nil {
		poll.Stop()
	}
	s.rec.CloseView()

	if err := socket.LeaveTicket(ctx, ticketID); err != nil {
		return fmt.Errorf("leaving ticket %d: %w", ticketID, err)
	}
	return nil
}

// WatchQueue polls the ticket list: every ticket for agents, the caller's own
// for customers. Calling it again while watching is a no-op.
func (s *Session) WatchQueue(ctx context.Context) error {
	s.mu.Lock()
	watching := s.queuePoll != nil
	s.mu.Unlock()
	if watching {
		return nil
	}

	tickets, err := s.list(ctx)
	if err != nil {
		return err
	}
	s.rec.ApplyAll(tickets, SourcePull)

	poll := StartPoller(s.ctx, s.cfg.QueuePollInterval, s.list, func(tickets []model.Ticket) {
		s.rec.ApplyAll(tickets, SourcePull)
	})

	s.mu.Lock()
	if s.queuePoll != nil {
		s.mu.Unlock()
		poll.Stop()
		return nil
	}
	s.queuePoll = poll
	s.mu.Unlock()
	return nil
}

func (s *Session) StopQueue() {
	s.mu.Lock()
	poll := s.queuePoll
	s.queuePoll = nil
	s.mu.Unlock()

	if poll != nil {
		poll.Stop()
	}
}

func (s *Session) list(ctx context.Context) ([]model.Ticket, error) {
	if s.user.IsAgent() {
		return s.api.AllTickets(ctx)
	}
	return s.api.MyTickets(ctx)
}

// Create opens a new ticket and applies it as a pull.
func (s *Session) Create(ctx context.Context, subject, message string) (*model.Ticket, error) {
	t, err := s.api.CreateTicket(ctx, subject, message)
	if err != nil {
		return nil, err
	}
	s.rec.Apply(t, SourcePull)
	return t, nil
}

// Send appends content to the open ticket. The returned snapshot is applied
// as a pull, so the sender's own message never raises a notification.
func (s *Session) Send(ctx context.Context, content string) (*model.Ticket, error) {
	s.mu.Lock()
	ticketID := s.open
	s.mu.Unlock()
	if ticketID == 0 {
		return nil, ErrNoTicketOpen
	}

	t, err := s.api.AppendMessage(ctx, ticketID, content)
	if err != nil {
		return nil, err
	}
	s.rec.Apply(t, SourcePull)
	return t, nil
}

// SetStatus changes the open ticket's status. Agents only.
func (s *Session) SetStatus(ctx context.Context, status model.TicketStatus) (*model.Ticket, error) {
	s.mu.Lock()
	ticketID := s.open
	s.mu.Unlock()
	if ticketID == 0 {
		return nil, ErrNoTicketOpen
	}

	t, err := s.api.UpdateStatus(ctx, ticketID, status)
	if err != nil {
		return nil, err
	}
	s.rec.Apply(t, SourcePull)
	return t, nil
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Close stops every poll, the reconnect loop and the socket. Nothing is
// applied after it returns. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	ticketPoll, queuePoll := s.ticketPoll, s.queuePoll
	s.ticketPoll, s.queuePoll, s.open = nil, nil, 0
	s.mu.Unlock()

	if ticketPoll != nil {
		ticketPoll.Stop()
	}
	if queuePoll != nil {
		queuePoll.Stop()
	}
	s.cancel()
	s.wg.Wait()

	if socket := s.currentSocket(); socket != nil {
		if err := socket.Close(); err != nil {
			slog.DebugContext(s.ctx, "closing realtime socket", "error", err)
		}
	}
	s.rec.CloseView()
}
