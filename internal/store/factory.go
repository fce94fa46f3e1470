package store

import (
	"blakv.app/support/core/db"
)

type Stores struct {
	queries db.Querier
}

func NewStores(queries db.Querier) *Stores {
	return &Stores{queries: queries}
}

func (s *Stores) Users() UserStore {
	return newUserStore(s.queries)
}

func (s *Stores) Tickets() TicketStore {
	return newTicketStore(s.queries)
}
