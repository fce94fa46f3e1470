package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"blakv.app/support/internal/model"
	"blakv.app/support/internal/realtime"
)

// Socket is the realtime side of a session. Pushed snapshots are handed to
// onSnapshot from the read goroutine, one at a time.
type Socket struct {
	ws         *websocket.Conn
	onSnapshot func(*model.Ticket)

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// DialSocket connects to the server's /ws endpoint. baseURL may use the http
// or https scheme.
func DialSocket(ctx context.Context, baseURL string, header http.Header, onSnapshot func(*model.Ticket)) (*Socket, error) {
	ws, _, err := websocket.Dial(ctx, socketURL(baseURL), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dialing realtime: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Socket{
		ws:         ws,
		onSnapshot: onSnapshot,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	go s.readLoop(readCtx)
	return s, nil
}

func socketURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func (s *Socket) readLoop(ctx context.Context) {
	defer close(s.done)

	for {
		var env realtime.Envelope
		if err := wsjson.Read(ctx, s.ws, &env); err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				s.setErr(err)
				slog.DebugContext(ctx, "realtime read ended", "error", err)
			}
			return
		}

		if env.Event != realtime.EventNewMessage {
			continue
		}
		snapshot, err := env.DecodeSnapshot()
		if err != nil {
			slog.WarnContext(ctx, "dropping malformed push", "error", err)
			continue
		}
		s.onSnapshot(snapshot)
	}
}

func (s *Socket) JoinTicket(ctx context.Context, ticketID int64) error {
	return s.send(ctx, realtime.MembershipEnvelope(realtime.EventJoinTicket, ticketID))
}

func (s *Socket) LeaveTicket(ctx context.Context, ticketID int64) error {
	return s.send(ctx, realtime.MembershipEnvelope(realtime.EventLeaveTicket, ticketID))
}

func (s *Socket) send(ctx context.Context, env realtime.Envelope) error {
	if err := wsjson.Write(ctx, s.ws, env); err != nil {
		return fmt.Errorf("sending %s: %w", env.Event, err)
	}
	return nil
}

// Done is closed once the read loop has exited.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err reports why the read loop ended, or nil after a clean close.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Socket) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Close ends the session and waits for the read loop, so no push is applied
// after Close returns.
func (s *Socket) Close() error {
	err := s.ws.Close(websocket.StatusNormalClosure, "")
	s.cancel()
	<-s.done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
