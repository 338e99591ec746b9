package core

import (
	"context"
	"errors"
	"sync"

	"creatureledger/pkg/domain"
)

// NotificationSink receives ledger events after their operation committed.
// A sink error is logged and never undoes the operation.
type NotificationSink interface {
	Publish(ctx context.Context, event domain.Event) error
}

// SinkFunc adapts a function into a NotificationSink.
type SinkFunc func(ctx context.Context, event domain.Event) error

// Publish implements NotificationSink.
func (f SinkFunc) Publish(ctx context.Context, event domain.Event) error { return f(ctx, event) }

// Sinks fans every event out to each sink and joins their errors.
type Sinks []NotificationSink

// Publish implements NotificationSink.
func (s Sinks) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventRecorder retains published events in memory.
type EventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

// Publish implements NotificationSink.
func (r *EventRecorder) Publish(_ context.Context, event domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events in publish order.
func (r *EventRecorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

type noopSink struct{}

func (noopSink) Publish(context.Context, domain.Event) error { return nil }
