package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Poller pulls on a fixed interval and hands each result to apply. A slow
// pull does not hold back the next tick, so pulls may overlap; apply is
// serialized and never runs after Stop returns.
type Poller[T any] struct {
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)
	apply    func(T)

	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
}

// StartPoller pulls every interval until Stop or ctx is cancelled. The
// first pull happens one interval after the start. apply must not call Stop
// on the same Poller.
func StartPoller[T any](ctx context.Context, interval time.Duration, fetch func(ctx context.Context) (T, error), apply func(T)) *Poller[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := &Poller[T]{
		interval: interval,
		fetch:    fetch,
		apply:    apply,
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}

	go p.run(ctx)
	return p
}

func (p *Poller[T]) run(ctx context.Context) {
	defer close(p.loopDone)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pull(ctx)
		}
	}
}

func (p *Poller[T]) pull(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.inflight.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.inflight.Done()

		v, err := p.fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "poll failed", "error", err)
			}
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.stopped {
			return
		}
		p.apply(v)
	}()
}

// Stop cancels the ticker and every in-flight pull, then waits for them.
// Safe to call more than once.
func (p *Poller[T]) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.mu.Unlock()

		p.cancel()
		<-p.loopDone
		p.inflight.Wait()
	})
}
