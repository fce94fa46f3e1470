package client

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"blakv.app/support/common/id"
	"blakv.app/support/internal/model"
)

// HistoryLimit bounds the notification history; older entries fall off.
const HistoryLimit = 50

type Source int

const (
	SourcePull Source = iota
	SourcePush
)

func (s Source) String() string {
	if s == SourcePush {
		return "push"
	}
	return "pull"
}

// Identity is the viewer the reconciler filters notifications for.
type Identity struct {
	UserID int64
	Role   model.Role
}

func (i Identity) isAgent() bool {
	return i.Role == model.RoleAgent
}

// Notification is one entry of the viewer's notification history.
type Notification struct {
	MessageID int64
	TicketID  int64
	Title     string
	Message   string
	Link      string
	Read      bool
	CreatedAt time.Time
}

type ReconcilerOption func(*Reconciler)

// WithOnNotify registers a hook called once per new history entry, outside
// the reconciler's lock.
func WithOnNotify(fn func(Notification)) ReconcilerOption {
	return func(r *Reconciler) { r.onNotify = fn }
}

func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// Reconciler merges pushed and pulled ticket snapshots into one local view.
// A snapshot older than the one held is ignored, so a slow poll can never
// regress what a push already delivered.
type Reconciler struct {
	identity Identity
	onNotify func(Notification)
	now      func() time.Time

	mu      sync.Mutex
	tickets map[int64]*model.Ticket
	seen    map[int64]map[int64]struct{}
	current int64
	history []Notification
}

func NewReconciler(identity Identity, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		identity: identity,
		now:      time.Now,
		tickets:  make(map[int64]*model.Ticket),
		seen:     make(map[int64]map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) Identity() Identity {
	return r.identity
}

// Apply merges snapshot into the view and reports whether it was taken.
//
// The first pulled sight of a ticket is a baseline and raises nothing. The
// first pushed sight raises at most its last message, matching what a push
// announces. Afterwards every message id not seen before is a candidate.
func (r *Reconciler) Apply(snapshot *model.Ticket, src Source) bool {
	if snapshot == nil || snapshot.ID == 0 {
		return false
	}

	r.mu.Lock()
	held, known := r.tickets[snapshot.ID]
	if known && snapshot.Version < held.Version {
		r.mu.Unlock()
		return false
	}

	seen := r.seen[snapshot.ID]
	firstSight := seen == nil
	if firstSight {
		seen = make(map[int64]struct{}, len(snapshot.Messages))
		r.seen[snapshot.ID] = seen
	}

	var fresh []model.Message
	for _, m := range snapshot.Messages {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}

	switch {
	case firstSight && src == SourcePull:
		fresh = nil
	case firstSight && src == SourcePush:
		if last := snapshot.LastMessage(); last != nil {
			fresh = []model.Message{*last}
		}
	}

	r.tickets[snapshot.ID] = snapshot.Clone()

	var raised []Notification
	for _, m := range fresh {
		n, ok := r.notificationFor(snapshot, m)
		if !ok {
			continue
		}
		r.history = append([]Notification{n}, r.history...)
		if len(r.history) > HistoryLimit {
			r.history = r.history[:HistoryLimit]
		}
		raised = append(raised, n)
	}
	r.mu.Unlock()

	if r.onNotify != nil {
		for _, n := range raised {
			r.onNotify(n)
		}
	}
	return true
}

// ApplyAll applies a pulled list, as returned by the ticket list endpoints.
func (r *Reconciler) ApplyAll(tickets []model.Ticket, src Source) int {
	applied := 0
	for i := range tickets {
		if r.Apply(&tickets[i], src) {
			applied++
		}
	}
	return applied
}

// notificationFor applies self-suppression and the role filter: agents hear
// about customer messages, customers hear about agent replies.
func (r *Reconciler) notificationFor(t *model.Ticket, m model.Message) (Notification, bool) {
	if m.SenderID == r.identity.UserID {
		return Notification{}, false
	}
	if r.identity.isAgent() == m.IsAgentReply {
		return Notification{}, false
	}

	from := "Support Team"
	if r.identity.isAgent() {
		from = m.SenderName
		if from == "" {
			from = "Customer"
		}
	}

	return Notification{
		MessageID: m.ID,
		TicketID:  t.ID,
		Title:     fmt.Sprintf("Message from %s", from),
		Message:   m.Content,
		Link:      "/support/" + id.Format(t.ID),
		CreatedAt: r.now(),
	}, true
}

// Open marks ticketID as the ticket currently in view.
func (r *Reconciler) Open(ticketID int64) {
	r.mu.Lock()
	r.current = ticketID
	r.mu.Unlock()
}

func (r *Reconciler) CloseView() {
	r.mu.Lock()
	r.current = 0
	r.mu.Unlock()
}

// Current returns a copy of the ticket in view, or nil when none is open or
// no snapshot has arrived yet.
func (r *Reconciler) Current() *model.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == 0 {
		return nil
	}
	t, ok := r.tickets[r.current]
	if !ok {
		return nil
	}
	return t.Clone()
}

// Ticket returns a copy of the held snapshot for ticketID.
func (r *Reconciler) Ticket(ticketID int64) *model.Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[ticketID]
	if !ok {
		return nil
	}
	return t.Clone()
}

// Tickets returns every held snapshot, most recently updated first.
func (r *Reconciler) Tickets() []model.Ticket {
	r.mu.Lock()
	out := make([]model.Ticket, 0, len(r.tickets))
	for _, t := range r.tickets {
		out = append(out, *t.Clone())
	}
	r.mu.Unlock()

	sortByUpdated(out)
	return out
}

// Notifications returns the history, newest first.
func (r *Reconciler) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.history...)
}

// Unread counts unread entries still in the history.
func (r *Reconciler) Unread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, h := range r.history {
		if !h.Read {
			n++
		}
	}
	return n
}

func (r *Reconciler) MarkAllRead() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.history {
		r.history[i].Read = true
	}
}

func sortByUpdated(tickets []model.Ticket) {
	slices.SortStableFunc(tickets, func(a, b model.Ticket) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
}
