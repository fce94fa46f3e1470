package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"blakv.app/support/common/logger"
	"blakv.app/support/core/config"
	"blakv.app/support/internal/http/middleware"
	"blakv.app/support/internal/realtime"
	"blakv.app/support/internal/service"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"
)

// RealtimeHandler serves /ws. It is a plain http.Handler mounted next to
// the gin engine: the upgrade has to hijack the raw connection, and gin's
// writer refuses that once the 101 has been written.
type RealtimeHandler struct {
	hub        *realtime.Hub
	users      service.UserService
	signingKey string
	cfg        config.RealtimeConfig
}

func NewRealtimeHandler(hub *realtime.Hub, users service.UserService, signingKey string, cfg config.RealtimeConfig) *RealtimeHandler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.EventRate <= 0 {
		cfg.EventRate = 10
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 20
	}
	return &RealtimeHandler{hub: hub, users: users, signingKey: signingKey, cfg: cfg}
}

// ServeHTTP resolves the caller, upgrades the request and runs the session
// until either side closes.
func (h *RealtimeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw, sig := middleware.SocketCredentials(r)
	user, err := middleware.Authenticate(ctx, h.users, h.signingKey, raw, sig)
	if err != nil {
		status, msg := middleware.IdentityError(err)
		if status == http.StatusInternalServerError {
			slog.ErrorContext(ctx, "failed to resolve realtime user", "error", err)
		}
		writeError(w, status, msg)
		return
	}

	var userID *int64
	if user != nil {
		ctx = middleware.WithUser(ctx, user)
		userID = &user.ID
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		slog.WarnContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer ws.CloseNow() //nolint:errcheck

	conn := h.hub.Connect(userID)
	defer h.hub.Disconnect(conn)

	ctx, cancel := context.WithCancel(logger.WithLogFields(ctx, logger.LogFields{
		ConnID:    logger.Ptr(conn.ID()),
		Component: "support.realtime",
	}))
	defer cancel()

	slog.InfoContext(ctx, "realtime session opened", "authenticated", userID != nil)

	go h.writeLoop(ctx, cancel, ws, conn)
	h.readLoop(ctx, ws, conn)

	slog.InfoContext(ctx, "realtime session closed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	body := render.JSON{Data: gin.H{"error": msg}}
	body.WriteContentType(w)
	w.WriteHeader(status)
	if err := body.Render(w); err != nil {
		slog.Debug("writing realtime error response", "error", err)
	}
}

func (h *RealtimeHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *realtime.Conn) {
	limiter := rate.NewLimiter(rate.Limit(h.cfg.EventRate), h.cfg.EventBurst)

	for {
		var env realtime.Envelope
		if err := wsjson.Read(ctx, ws, &env); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				slog.DebugContext(ctx, "realtime read ended", "error", err)
			}
			return
		}

		if !limiter.Allow() {
			slog.WarnContext(ctx, "realtime client exceeded event rate")
			ws.Close(websocket.StatusPolicyViolation, "rate limit exceeded") //nolint:errcheck
			return
		}

		if err := h.hub.Dispatch(ctx, conn, env); err != nil {
			slog.WarnContext(ctx, "realtime event rejected", "event", env.Event, "error", err)
		}
	}
}

func (h *RealtimeHandler) writeLoop(ctx context.Context, cancel context.CancelFunc, ws *websocket.Conn, conn *realtime.Conn) {
	defer cancel()

	ping := time.NewTicker(h.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Done():
			// The hub dropped this connection, typically for falling behind.
			ws.Close(websocket.StatusTryAgainLater, "disconnected by server") //nolint:errcheck
			return
		case frame := <-conn.Outbound():
			wctx, wcancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := ws.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				slog.DebugContext(ctx, "realtime write failed", "error", err)
				return
			}
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := ws.Ping(pctx)
			pcancel()
			if err != nil {
				slog.DebugContext(ctx, "realtime ping failed", "error", err)
				return
			}
		}
	}
}
