// Package memory is an in-process Conversation Store used for local
// development and tests. It honours the same contracts as the Postgres
// stores, including per-mutation versioning and all-or-nothing transactions.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"blakv.app/support/internal/model"
	"blakv.app/support/internal/store"
)

type ticketRecord struct {
	ID              int64
	CustomerID      int64
	Subject         string
	Status          model.TicketStatus
	AssignedAgentID *int64
	Messages        []model.Message
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type state struct {
	users   map[int64]model.User
	tickets map[int64]*ticketRecord
}

func (s *state) clone() *state {
	c := &state{
		users:   make(map[int64]model.User, len(s.users)),
		tickets: make(map[int64]*ticketRecord, len(s.tickets)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tickets {
		r := *v
		r.Messages = append([]model.Message(nil), v.Messages...)
		c.tickets[k] = &r
	}
	return c
}

// Store holds all data behind one mutex. Outside a transaction every call
// locks individually; inside WithTx the lock is held for the whole function.
type Store struct {
	mu    *sync.Mutex
	data  *state
	inTx  bool
	clock func() time.Time
}

func New() *Store {
	return &Store{
		mu: &sync.Mutex{},
		data: &state{
			users:   make(map[int64]model.User),
			tickets: make(map[int64]*ticketRecord),
		},
		clock: time.Now,
	}
}

func (s *Store) Users() store.UserStore {
	return &userStore{s: s}
}

func (s *Store) Tickets() store.TicketStore {
	return &ticketStore{s: s}
}

// WithTx runs fn with exclusive access. If fn fails, every change it made
// is discarded.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.data.clone()
	tx := &Store{mu: s.mu, data: s.data, inTx: true, clock: s.clock}
	if err := fn(tx); err != nil {
		*s.data = *backup
		return err
	}
	return nil
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type userStore struct {
	s *Store
}

func (u *userStore) GetByID(_ context.Context, id int64) (*model.User, error) {
	defer u.s.lock()()
	user, ok := u.s.data.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (u *userStore) GetByEmail(_ context.Context, email string) (*model.User, error) {
	defer u.s.lock()()
	for _, user := range u.s.data.users {
		if strings.EqualFold(user.Email, email) {
			return &user, nil
		}
	}
	return nil, store.ErrNotFound
}

func (u *userStore) Upsert(_ context.Context, user *model.User) error {
	defer u.s.lock()()
	if existing, ok := u.s.data.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = u.s.clock()
	}
	u.s.data.users[user.ID] = *user
	return nil
}

type ticketStore struct {
	s *Store
}

func (t *ticketStore) Create(_ context.Context, ticket *model.Ticket) (*model.Ticket, error) {
	defer t.s.lock()()
	now := t.s.clock()
	rec := &ticketRecord{
		ID:         ticket.ID,
		CustomerID: ticket.CustomerID,
		Subject:    ticket.Subject,
		Status:     ticket.Status,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, m := range ticket.Messages {
		m.CreatedAt = now
		rec.Messages = append(rec.Messages, m)
	}
	t.s.data.tickets[rec.ID] = rec
	return t.s.hydrate(rec), nil
}

func (t *ticketStore) GetByID(_ context.Context, id int64) (*model.Ticket, error) {
	defer t.s.lock()()
	rec, ok := t.s.data.tickets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return t.s.hydrate(rec), nil
}

// GetByIDForUpdate is GetByID: a transaction already holds the store lock.
func (t *ticketStore) GetByIDForUpdate(ctx context.Context, id int64) (*model.Ticket, error) {
	return t.GetByID(ctx, id)
}

func (t *ticketStore) ListByCustomer(_ context.Context, customerID int64) ([]model.Ticket, error) {
	defer t.s.lock()()
	return t.s.list(func(r *ticketRecord) bool { return r.CustomerID == customerID }), nil
}

func (t *ticketStore) ListAll(_ context.Context) ([]model.Ticket, error) {
	defer t.s.lock()()
	return t.s.list(func(*ticketRecord) bool { return true }), nil
}

func (t *ticketStore) AppendMessage(_ context.Context, ticketID int64, msg *model.Message) (*model.Ticket, error) {
	defer t.s.lock()()
	rec, ok := t.s.data.tickets[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := t.s.clock()
	m := *msg
	m.CreatedAt = now
	rec.Messages = append(rec.Messages, m)

	if m.IsAgentReply && rec.AssignedAgentID == nil {
		agentID := m.SenderID
		rec.AssignedAgentID = &agentID
		if rec.Status == model.TicketStatusOpen {
			rec.Status = model.TicketStatusInProgress
		}
	}
	rec.Version++
	rec.UpdatedAt = now

	return t.s.hydrate(rec), nil
}

func (t *ticketStore) UpdateStatus(_ context.Context, ticketID int64, status model.TicketStatus) (*model.Ticket, error) {
	defer t.s.lock()()
	rec, ok := t.s.data.tickets[ticketID]
	if !ok {
		return nil, store.ErrNotFound
	}
	rec.Status = status
	rec.Version++
	rec.UpdatedAt = t.s.clock()
	return t.s.hydrate(rec), nil
}

// list returns matching tickets, most recently updated first. Caller holds the lock.
func (s *Store) list(match func(*ticketRecord) bool) []model.Ticket {
	var recs []*ticketRecord
	for _, r := range s.data.tickets {
		if match(r) {
			recs = append(recs, r)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].UpdatedAt.Equal(recs[j].UpdatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].UpdatedAt.After(recs[j].UpdatedAt)
	})

	out := make([]model.Ticket, 0, len(recs))
	for _, r := range recs {
		out = append(out, *s.hydrate(r))
	}
	return out
}

// hydrate joins display names the way the SQL store does. Caller holds the lock.
func (s *Store) hydrate(r *ticketRecord) *model.Ticket {
	t := &model.Ticket{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		Subject:    r.Subject,
		Status:     r.Status,
		Messages:   make([]model.Message, 0, len(r.Messages)),
		Version:    r.Version,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if cu, ok := s.data.users[r.CustomerID]; ok {
		t.CustomerName = cu.Name
		t.CustomerEmail = cu.Email
	}
	if r.AssignedAgentID != nil {
		agentID := *r.AssignedAgentID
		t.AssignedAgentID = &agentID
		if ag, ok := s.data.users[agentID]; ok {
			name := ag.Name
			t.AssignedAgentName = &name
		}
	}
	for _, m := range r.Messages {
		if sender, ok := s.data.users[m.SenderID]; ok {
			m.SenderName = sender.Name
		}
		t.Messages = append(t.Messages, m)
	}
	return t
}
