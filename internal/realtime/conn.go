package realtime

import (
	"sync"
	"sync/atomic"
)

type ConnState int32

const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Conn is one realtime session. The transport drains Outbound and stops when
// Done is closed. Room membership is owned by the Hub.
type Conn struct {
	id     uint64
	userID *int64
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	state  atomic.Int32

	// guarded by Hub.mu
	rooms map[Room]struct{}
}

func (c *Conn) ID() uint64 {
	return c.id
}

// UserID returns the authenticated user, if any.
func (c *Conn) UserID() (int64, bool) {
	if c.userID == nil {
		return 0, false
	}
	return *c.userID, true
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Outbound yields encoded frames in delivery order.
func (c *Conn) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection is disconnected.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

func (c *Conn) close() bool {
	closed := false
	c.once.Do(func() {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		closed = true
	})
	return closed
}
