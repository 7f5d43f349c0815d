// Package events implements the in-process asynchronous publish/subscribe
// hub. Events are post-commit notifications: a handler failure is isolated,
// logged, and never rolls back or blocks the publishing workflow.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/questline/questline-bot/internal/domain"
	"github.com/questline/questline-bot/pkg/logger"
	"github.com/questline/questline-bot/pkg/metrics"
)

const (
	defaultHistorySize    = 256
	defaultHandlerTimeout = 5 * time.Second
)

// Handler reacts to one delivered event. Handlers must be idempotent: the
// bus guarantees at-least-once semantics, not exactly-once.
type Handler func(ctx context.Context, event domain.Event) error

type subscriber struct {
	name    string
	handler Handler
}

// invocation pairs one event with the handler of the subscription that
// matched it.
type invocation struct {
	event   domain.Event
	handler Handler
}

// Bus routes domain events to subscribers. Events published in one call are
// delivered to a given subscriber in publish order; no ordering holds across
// independent publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[domain.EventType][]subscriber
	history *history
	timeout time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewBus creates a Bus with the given history capacity and per-invocation
// handler timeout; zero values select defaults.
func NewBus(historySize int, handlerTimeout time.Duration, log *slog.Logger) *Bus {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	return &Bus{
		subs:    make(map[domain.EventType][]subscriber),
		history: newHistory(historySize),
		timeout: handlerTimeout,
		log:     log,
	}
}

// Subscribe registers a named handler for the event type. The name appears
// in delivery-failure diagnostics.
func (b *Bus) Subscribe(eventType domain.EventType, name string, handler Handler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[eventType] = append(b.subs[eventType], subscriber{name: name, handler: handler})
}

// Publish records the events in history and fans them out asynchronously.
// It is fire-and-forget from the publisher's point of view: the call returns
// as soon as delivery goroutines are scheduled.
func (b *Bus) Publish(ctx context.Context, evts ...domain.Event) {
	if len(evts) == 0 {
		return
	}

	b.history.append(evts...)
	for _, e := range evts {
		metrics.RecordEventPublished(string(e.Type))
	}

	b.mu.RLock()
	// Group the batch per subscriber name so one goroutine preserves
	// publish order for that subscriber. Each event keeps the handler of
	// its own subscription; one name may register distinct handlers per
	// event type.
	batches := make(map[string][]invocation)
	for _, e := range evts {
		for _, sub := range b.subs[e.Type] {
			batches[sub.name] = append(batches[sub.name], invocation{event: e, handler: sub.handler})
		}
	}
	b.mu.RUnlock()

	correlationID := ""
	if len(evts) > 0 {
		correlationID = evts[0].CorrelationID
	}

	for name, batch := range batches {
		b.wg.Add(1)
		go func(name string, batch []invocation) {
			defer b.wg.Done()

			deliveryCtx := logger.WithCorrelationID(context.Background(), correlationID)
			for _, inv := range batch {
				b.deliver(deliveryCtx, name, inv.handler, inv.event)
			}
		}(name, batch)
	}
}

// deliver invokes one handler with the bus timeout. A timed-out handler is
// abandoned; the event stays in history for later inspection.
func (b *Bus) deliver(ctx context.Context, name string, handler Handler, event domain.Event) {
	invocationCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Error("panic in event handler",
					slog.String("subscriber", name),
					slog.String("event_type", string(event.Type)),
					slog.Any("panic", r),
				)
				done <- nil
			}
		}()
		done <- handler(invocationCtx, event)
	}()

	select {
	case err := <-done:
		if err != nil {
			metrics.RecordEventDelivery(string(event.Type), "failed")
			b.log.Error("event handler failed",
				slog.String("subscriber", name),
				slog.String("event_type", string(event.Type)),
				slog.Int64("user_id", event.UserID),
				slog.String("correlation_id", event.CorrelationID),
				slog.String("source", event.Source),
				slog.Any("payload", event.Payload),
				slog.Any("error", err),
			)
			return
		}

		metrics.RecordEventDelivery(string(event.Type), "ok")
	case <-invocationCtx.Done():
		metrics.RecordEventDelivery(string(event.Type), "timeout")
		b.log.Error("event handler timed out, abandoning delivery",
			slog.String("subscriber", name),
			slog.String("event_type", string(event.Type)),
			slog.Int64("user_id", event.UserID),
			slog.String("correlation_id", event.CorrelationID),
			slog.Duration("timeout", b.timeout),
		)
	}
}

// History returns up to limit recent events, newest last. A non-positive
// limit returns the full retained window.
func (b *Bus) History(limit int) []domain.Event {
	return b.history.snapshot(limit)
}

// Drain waits for in-flight deliveries to finish or ctx to expire. Used
// during shutdown.
func (b *Bus) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
