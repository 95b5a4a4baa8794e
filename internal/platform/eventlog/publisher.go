package eventlog

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// LogPublisher writes events to a zerolog logger.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, evt Event) error {
	p.logger.Info().
		Str("event_id", evt.ID.String()).
		Time("date", evt.Date).
		Str("source", evt.Source).
		Str("action", evt.Action).
		Str("parameters", evt.Parameters).
		Msg("integrator event")
	return nil
}

// MemoryPublisher keeps events in memory. Used by tests and the memory
// store backend.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, evt Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Actions returns the action of every published event in order.
func (p *MemoryPublisher) Actions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Action
	}
	return out
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder builds and publishes events. A failed publish is logged and
// never returned to the caller, so auditing cannot break a request.
type Recorder struct {
	pub    Publisher
	source string
	logger zerolog.Logger
}

func NewRecorder(pub Publisher, source string, logger zerolog.Logger) *Recorder {
	return &Recorder{pub: pub, source: source, logger: logger}
}

// Record publishes action with parameters. Safe on a nil *Recorder.
func (r *Recorder) Record(ctx context.Context, action, parameters string) {
	if r == nil || r.pub == nil {
		return
	}
	evt, err := New(r.source, action, parameters)
	if err != nil {
		r.logger.Error().Err(err).Msg("build integrator event")
		return
	}
	if err := r.pub.Publish(ctx, evt); err != nil {
		r.logger.Error().Err(err).Str("action", action).Msg("publish integrator event")
	}
}
