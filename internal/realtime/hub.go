package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"blakv.app/support/common/logger"
)

var (
	ErrNoIdentity    = errors.New("connection has no authenticated user")
	ErrForbiddenRoom = errors.New("room not accessible to this connection")
	ErrConnClosed    = errors.New("connection closed")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrBadPayload    = errors.New("malformed event payload")
)

// Deliverer fans a frame out to every connection in any of the given rooms.
// Delivery is fire-and-forget: it never fails the caller.
type Deliverer interface {
	Deliver(ctx context.Context, rooms []Room, env Envelope)
}

// TicketAuthorizer decides whether a user may watch a ticket's room.
type TicketAuthorizer interface {
	AuthorizeTicket(ctx context.Context, userID, ticketID int64) error
}

type HubConfig struct {
	// SendBuffer is the per-connection outbound queue length. A connection
	// whose queue is full when a frame arrives is disconnected.
	SendBuffer int
	Authorizer TicketAuthorizer
}

// Hub owns every connection and room membership on this instance.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[Room]map[*Conn]struct{}
	conns  map[*Conn]struct{}
	nextID atomic.Uint64

	sendBuffer int
	authorizer TicketAuthorizer
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	return &Hub{
		rooms:      make(map[Room]map[*Conn]struct{}),
		conns:      make(map[*Conn]struct{}),
		sendBuffer: cfg.SendBuffer,
		authorizer: cfg.Authorizer,
	}
}

// Connect registers a new session. A known user is placed in their own
// user room straight away.
func (h *Hub) Connect(userID *int64) *Conn {
	c := &Conn{
		id:    h.nextID.Add(1),
		send:  make(chan []byte, h.sendBuffer),
		done:  make(chan struct{}),
		rooms: make(map[Room]struct{}),
	}
	if userID != nil {
		uid := *userID
		c.userID = &uid
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	if c.userID != nil {
		h.joinLocked(c, UserRoom(*c.userID))
	}
	c.state.Store(int32(StateConnected))
	h.mu.Unlock()

	connectionsGauge.Inc()
	return c
}

// Disconnect removes c from every room at once. Further calls are no-ops.
func (h *Hub) Disconnect(c *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c)
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()

	if c.close() {
		connectionsGauge.Dec()
	}
}

func (h *Hub) JoinTicketRoom(ctx context.Context, c *Conn, ticketID int64) error {
	userID, ok := c.UserID()
	if !ok {
		return ErrNoIdentity
	}
	if h.authorizer != nil {
		if err := h.authorizer.AuthorizeTicket(ctx, userID, ticketID); err != nil {
			return fmt.Errorf("%w: %v", ErrForbiddenRoom, err)
		}
	}
	return h.join(c, TicketRoom(ticketID))
}

func (h *Hub) LeaveTicketRoom(c *Conn, ticketID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, TicketRoom(ticketID))
}

// JoinUserRoom only admits a connection to its own user room.
func (h *Hub) JoinUserRoom(c *Conn, userID int64) error {
	own, ok := c.UserID()
	if !ok {
		return ErrNoIdentity
	}
	if own != userID {
		return ErrForbiddenRoom
	}
	return h.join(c, UserRoom(userID))
}

func (h *Hub) join(c *Conn, room Room) error {
	if err := room.validate(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return ErrConnClosed
	}
	h.joinLocked(c, room)
	return nil
}

func (h *Hub) joinLocked(c *Conn, room Room) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Conn]struct{})
		h.rooms[room] = members
		roomsGauge.Inc()
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveLocked(c *Conn, room Room) {
	delete(c.rooms, room)
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
		roomsGauge.Dec()
	}
}

// Deliver encodes env once and queues it on every distinct connection in
// rooms. Connections that cannot keep up are disconnected; the rest are
// unaffected.
func (h *Hub) Deliver(ctx context.Context, rooms []Room, env Envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		slog.ErrorContext(ctx, "encoding realtime frame", "error", err, "event", env.Event)
		return
	}

	var (
		delivered int
		slow      []*Conn
		seen      = make(map[*Conn]struct{})
	)

	h.mu.RLock()
	for _, room := range rooms {
		for c := range h.rooms[room] {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			select {
			case c.send <- payload:
				delivered++
			default:
				slow = append(slow, c)
			}
		}
	}
	h.mu.RUnlock()

	deliveriesTotal.WithLabelValues("queued").Add(float64(delivered))
	if delivered == 0 && len(slow) == 0 {
		deliveriesTotal.WithLabelValues("no_members").Inc()
	}

	for _, c := range slow {
		deliveriesTotal.WithLabelValues("dropped").Inc()
		slog.WarnContext(logger.WithLogFields(ctx, logger.LogFields{ConnID: logger.Ptr(c.id)}),
			"disconnecting slow realtime consumer", "event", env.Event)
		h.Disconnect(c)
	}

	slog.DebugContext(ctx, "realtime frame delivered",
		"event", env.Event,
		"rooms", len(rooms),
		"connections", delivered,
	)
}

// Dispatch applies one client event on behalf of c.
func (h *Hub) Dispatch(ctx context.Context, c *Conn, env Envelope) error {
	switch env.Event {
	case EventJoinTicket:
		ticketID, err := env.targetID()
		if err != nil {
			return err
		}
		return h.JoinTicketRoom(ctx, c, ticketID)
	case EventLeaveTicket:
		ticketID, err := env.targetID()
		if err != nil {
			return err
		}
		h.LeaveTicketRoom(c, ticketID)
		return nil
	case EventJoinUser:
		userID, err := env.targetID()
		if err != nil {
			return err
		}
		return h.JoinUserRoom(c, userID)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// Rooms returns the rooms c currently belongs to.
func (h *Hub) Rooms(c *Conn) []Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Room, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// Members reports how many connections are in room.
func (h *Hub) Members(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every connection, for graceful shutdown.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.Disconnect(c)
	}
}
