package dispatch

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrClosed is returned once the bus is closed and the queue drained.
	ErrClosed = errors.New("dispatch: bus closed")
	// ErrUnsubscribed is returned by a Subscription after its own Close.
	ErrUnsubscribed = errors.New("dispatch: subscription closed")
)

// Bus is a broadcast channel with one bounded queue per subscriber.
type Bus[T any] struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription[T]
	nextID   uint64
	capacity int
	policy   Policy
	onDrop   DropCallback[T]

	closed    chan struct{}
	closeOnce sync.Once
}

// NewBus returns a bus whose subscriber queues hold capacity items.
func NewBus[T any](capacity int, opts ...Option[T]) *Bus[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus[T]{
		subs:     make(map[uint64]*Subscription[T]),
		capacity: capacity,
		policy:   Block,
		closed:   make(chan struct{}),
	}
	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}
	return b
}

// Capacity ...
func (b *Bus[T]) Capacity() int { return b.capacity }

// Policy ...
func (b *Bus[T]) Policy() Policy { return b.policy }

// Subscribe adds a subscriber. It only sees items published after this
// call. On a closed bus the subscription reports ErrClosed straight away.
func (b *Bus[T]) Subscribe() *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription[T]{
		id:    b.nextID,
		bus:   b,
		queue: make(chan T, b.capacity),
		lock:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	select {
	case <-b.closed:
	default:
		b.subs[s.id] = s
	}
	return s
}

// Len returns the number of subscribers.
func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs)
}

// Done is closed when the bus is closed.
func (b *Bus[T]) Done() <-chan struct{} {
	return b.closed
}

// Publish delivers items, in order and as one contiguous batch, to every
// subscriber. It returns ErrClosed if the bus closes, or ctx.Err() if ctx
// ends, before every subscriber was served.
func (b *Bus[T]) Publish(ctx context.Context, items ...T) error {
	if len(items) == 0 {
		return nil
	}
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}

	b.mu.RLock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })

	for _, s := range subs {
		if err := s.deliver(ctx, items); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates the bus. It is safe to call more than once.
func (b *Bus[T]) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, id)
}

// Stats are the per subscriber counters.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	Queued    int
}

// Subscription is one subscriber's view of a Bus.
type Subscription[T any] struct {
	id    uint64
	bus   *Bus[T]
	queue chan T
	// lock keeps batches from different publishers from interleaving
	lock chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func (s *Subscription[T]) deliver(ctx context.Context, items []T) error {
	select {
	case s.lock <- struct{}{}:
	case <-s.done:
		return nil
	case <-s.bus.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.lock }()

	for _, item := range items {
		var err error
		if s.bus.policy == DropOldest {
			err = s.pushDropOldest(item)
		} else {
			err = s.pushBlocking(ctx, item)
		}
		if err != nil {
			if errors.Is(err, ErrUnsubscribed) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (s *Subscription[T]) pushBlocking(ctx context.Context, item T) error {
	select {
	case s.queue <- item:
		s.delivered.Add(1)
		return nil
	default:
	}
	select {
	case s.queue <- item:
		s.delivered.Add(1)
		return nil
	case <-s.done:
		return ErrUnsubscribed
	case <-s.bus.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Subscription[T]) pushDropOldest(item T) error {
	for {
		select {
		case <-s.done:
			return ErrUnsubscribed
		case s.queue <- item:
			s.delivered.Add(1)
			return nil
		default:
		}
		select {
		case old := <-s.queue:
			s.dropped.Add(1)
			if s.bus.onDrop != nil {
				s.bus.onDrop(old)
			}
		default:
		}
	}
}

// Recv returns the next item. It blocks until one is available, the
// subscription or the bus is closed, or ctx ends.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-s.done:
		return zero, ErrUnsubscribed
	default:
	}
	select {
	case v := <-s.queue:
		return v, nil
	default:
	}
	select {
	case v := <-s.queue:
		return v, nil
	case <-s.done:
		return zero, ErrUnsubscribed
	case <-s.bus.closed:
		return s.drain()
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryRecv returns the next item without blocking. ok is false when the
// queue is empty. err is set once the subscription is over.
func (s *Subscription[T]) TryRecv() (v T, ok bool, err error) {
	select {
	case <-s.done:
		return v, false, ErrUnsubscribed
	default:
	}
	select {
	case v = <-s.queue:
		return v, true, nil
	default:
	}
	select {
	case <-s.bus.closed:
		v, err = s.drain()
		return v, err == nil, err
	default:
		return v, false, nil
	}
}

func (s *Subscription[T]) drain() (T, error) {
	var zero T
	select {
	case v := <-s.queue:
		return v, nil
	default:
		return zero, ErrClosed
	}
}

// Close unsubscribes. Items still queued are discarded and publishers
// blocked on this subscriber are released.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s.id)
		close(s.done)
	})
}

// Done is closed by Close.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}

// Stats ...
func (s *Subscription[T]) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Queued:    len(s.queue),
	}
}
