// Package notify sends best-effort out-of-band notices to customers when an
// agent replies to their ticket.
package notify

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Notice is everything needed to tell a customer about an agent reply.
type Notice struct {
	To           string
	CustomerName string
	Subject      string
	Content      string
	TicketID     int64
}

// Notifier never reports failure: a notice that cannot be sent is logged
// and lost.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

var noticesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "support_notify_emails_total",
	Help: "Fallback e-mail notices by result.",
}, []string{"result"})

type noopNotifier struct{}

// NewNoopNotifier returns a Notifier that drops every notice.
func NewNoopNotifier() Notifier {
	return noopNotifier{}
}

func (noopNotifier) Notify(ctx context.Context, n Notice) {
	noticesTotal.WithLabelValues("skipped").Inc()
	slog.DebugContext(ctx, "e-mail notice skipped, smtp not configured", "ticket_id", n.TicketID)
}
