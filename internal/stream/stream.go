// Package stream provides the typed output streams the engine exposes to
// egress collaborators: one producer, many independent consumers, bounded
// buffering, and an explicit terminal close signal.
package stream

import (
	"context"
	"sync"

	dErrors "gridgrant/pkg/domain-errors"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = dErrors.New(dErrors.CodeConflict, "stream is closed")

// Subscription is one consumer's view of a stream. Receive from Events
// while also watching Done; after Done is closed, Err reports why the
// stream ended.
type Subscription[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	parent *Stream[T]
}

// Events delivers values in publish order.
func (s *Subscription[T]) Events() <-chan T { return s.ch }

// Done is closed when the stream closed or the subscription was cancelled.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err reports the stream's terminal error after Done is closed. Nil for a
// clean close or a consumer-side cancel.
func (s *Subscription[T]) Err() error {
	select {
	case <-s.done:
		return s.parent.closeErr()
	default:
		return nil
	}
}

// Cancel detaches the subscription. The producer stops delivering to it.
func (s *Subscription[T]) Cancel() {
	s.parent.remove(s)
	s.once.Do(func() { close(s.done) })
}

// Stream is a single-producer, multi-consumer conduit. Publish and Close
// belong to one producer goroutine; Subscribe and Cancel are safe from any
// goroutine.
type Stream[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	buffer int
	closed bool
	err    error
}

// New builds a stream whose subscribers each get a buffer of the given
// size. A zero buffer makes every publish rendezvous with every consumer.
func New[T any](buffer int) *Stream[T] {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		buffer: buffer,
	}
}

// Subscribe attaches a new consumer. Subscribing to a closed stream yields
// an already-done subscription carrying the stream's terminal error.
func (st *Stream[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		ch:     make(chan T, st.buffer),
		done:   make(chan struct{}),
		parent: st,
	}
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		sub.once.Do(func() { close(sub.done) })
		return sub
	}
	st.subs[sub] = struct{}{}
	st.mu.Unlock()
	return sub
}

// Publish delivers the value to every live subscriber. When a subscriber's
// buffer is full the producer blocks on that subscriber until it drains,
// cancels, or ctx ends; slow consumers exert backpressure rather than
// losing values.
func (st *Stream[T]) Publish(ctx context.Context, value T) error {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return ErrClosed
	}
	subs := make([]*Subscription[T], 0, len(st.subs))
	for sub := range st.subs {
		subs = append(subs, sub)
	}
	st.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- value:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close ends the stream. A nil err is a clean shutdown; a non-nil err is
// observable through every subscription's Err.
func (st *Stream[T]) Close(err error) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	st.err = err
	subs := make([]*Subscription[T], 0, len(st.subs))
	for sub := range st.subs {
		subs = append(subs, sub)
		delete(st.subs, sub)
	}
	st.mu.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

func (st *Stream[T]) closeErr() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.err
}

func (st *Stream[T]) remove(sub *Subscription[T]) {
	st.mu.Lock()
	delete(st.subs, sub)
	st.mu.Unlock()
}
