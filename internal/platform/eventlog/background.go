package eventlog

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBackgroundBuffer is the queue length used when none is given.
const DefaultBackgroundBuffer = 1024

// Background hands events to a worker goroutine so slow sinks (Kafka,
// Postgres) never hold up the caller. Publish only enqueues; delivery
// errors are logged by the worker. A full queue drops the event.
type Background struct {
	pub    Publisher
	logger zerolog.Logger
	queue  chan queued

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type queued struct {
	ctx context.Context
	evt Event
}

func NewBackground(pub Publisher, buffer int, logger zerolog.Logger) *Background {
	if buffer <= 0 {
		buffer = DefaultBackgroundBuffer
	}
	b := &Background{
		pub:    pub,
		logger: logger,
		queue:  make(chan queued, buffer),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Background) run() {
	defer close(b.done)
	for q := range b.queue {
		if err := b.pub.Publish(q.ctx, q.evt); err != nil {
			b.logger.Error().Err(err).Str("action", q.evt.Action).Str("event_id", q.evt.ID.String()).Msg("publish integrator event")
		}
	}
}

// Publish enqueues evt. The request context is detached from its
// cancellation so delivery outlives the request.
func (b *Background) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn().Str("action", evt.Action).Msg("event publisher closed, dropping event")
		return nil
	}
	select {
	case b.queue <- queued{ctx: context.WithoutCancel(ctx), evt: evt}:
	default:
		b.logger.Warn().Str("action", evt.Action).Msg("event queue full, dropping event")
	}
	return nil
}

// Close stops accepting events and waits for the queue to drain or ctx
// to end.
func (b *Background) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
