package service

import (
	"blakv.app/support/internal/notify"
	"blakv.app/support/internal/realtime"
)

type Services struct {
	stores    StoreProvider
	txRunner  TxRunner
	deliverer realtime.Deliverer
	notifier  notify.Notifier
}

func NewServices(stores StoreProvider, txRunner TxRunner, deliverer realtime.Deliverer, notifier notify.Notifier) *Services {
	return &Services{
		stores:    stores,
		txRunner:  txRunner,
		deliverer: deliverer,
		notifier:  notifier,
	}
}

func (s *Services) Users() UserService {
	return NewUserService(s.stores.Users())
}

func (s *Services) Tickets() TicketService {
	return NewTicketService(s.stores, s.txRunner, s.deliverer, s.notifier)
}
