package service_test

import (
	"context"
	"sync"

	"blakv.app/support/internal/model"
	"blakv.app/support/internal/notify"
	"blakv.app/support/internal/realtime"
	"blakv.app/support/internal/service"
)

type delivery struct {
	Rooms    []realtime.Room
	Snapshot *model.Ticket
}

type mockDeliverer struct {
	mu         sync.Mutex
	deliveries []delivery
	deliverFn  func(ctx context.Context, rooms []realtime.Room, env realtime.Envelope)
}

func (m *mockDeliverer) Deliver(ctx context.Context, rooms []realtime.Room, env realtime.Envelope) {
	snap, err := env.DecodeSnapshot()
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.deliveries = append(m.deliveries, delivery{Rooms: rooms, Snapshot: snap})
	m.mu.Unlock()
	if m.deliverFn != nil {
		m.deliverFn(ctx, rooms, env)
	}
}

func (m *mockDeliverer) all() []delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]delivery(nil), m.deliveries...)
}

type mockNotifier struct {
	mu       sync.Mutex
	notices  []notify.Notice
	notifyFn func(ctx context.Context, n notify.Notice)
}

func (m *mockNotifier) Notify(ctx context.Context, n notify.Notice) {
	m.mu.Lock()
	m.notices = append(m.notices, n)
	m.mu.Unlock()
	if m.notifyFn != nil {
		m.notifyFn(ctx, n)
	}
}

func (m *mockNotifier) all() []notify.Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Notice(nil), m.notices...)
}

type mockTxRunner struct {
	withTxFn func(ctx context.Context, fn func(stores service.StoreProvider) error) error
}

func (m *mockTxRunner) WithTx(ctx context.Context, fn func(stores service.StoreProvider) error) error {
	if m.withTxFn != nil {
		return m.withTxFn(ctx, fn)
	}
	return nil
}
