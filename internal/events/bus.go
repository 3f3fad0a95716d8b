package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Handler processes one delivered event. A non-nil error keeps the
// originating outbox entry undelivered for retry.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	name     string
	fn       Handler
	internal bool // registered through the internal path
}

// Bus is the in-process typed publish/subscribe dispatcher. Delivery is
// synchronous per subscriber; subscribers are independent, so one failure
// never blocks delivery to the others. Subscribers observe, they do not
// call back into the originating transition.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Kind][]subscription
	logger *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithLogger sets the logger used for per-subscriber failure reports.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subs:   make(map[Kind][]subscription),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers an externally-visible subscriber for one concrete
// event type. Internal-only events never reach subscribers registered here.
func Subscribe[T Event](b *Bus, name string, fn func(ctx context.Context, event T) error) {
	b.add(kindOf[T](), subscription{name: name, fn: asHandler(fn)})
}

// SubscribeInternal registers a subscriber that also receives internal-only
// events of the given type. Reserved for the engine's own reactors.
func SubscribeInternal[T Event](b *Bus, name string, fn func(ctx context.Context, event T) error) {
	b.add(kindOf[T](), subscription{name: name, fn: asHandler(fn), internal: true})
}

func kindOf[T Event]() Kind {
	var zero T
	return zero.Kind()
}

func asHandler[T Event](fn func(ctx context.Context, event T) error) Handler {
	return func(ctx context.Context, event Event) error {
		typed, ok := event.(T)
		if !ok {
			return fmt.Errorf("subscriber received unexpected event type %T", event)
		}
		return fn(ctx, typed)
	}
}

func (b *Bus) add(kind Kind, sub subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], sub)
}

// Publish fans the event out to every subscriber registered for its kind.
// Every subscriber runs; the joined error reports all failures so the
// caller (the outbox relay) can retain the entry for redelivery.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	subs := b.subs[event.Kind()]
	b.mu.RUnlock()

	var errs []error
	for _, sub := range subs {
		if event.Internal() && !sub.internal {
			continue
		}
		if err := b.deliver(ctx, sub, event); err != nil {
			b.logger.ErrorContext(ctx, "subscriber failed",
				"subscriber", sub.name,
				"event_kind", event.Kind(),
				"permission_id", event.Permission(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	return errors.Join(errs...)
}

// deliver isolates one subscriber call, converting a panic into an error so
// a broken subscriber cannot take down dispatch.
func (b *Bus) deliver(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.fn(ctx, event)
}
