package node

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/mosaicnetworks/mavnode/src/dispatch"
	"github.com/mosaicnetworks/mavnode/src/frame"
)

var (
	// ErrClosed is returned by event streams once the node is closed and
	// every queued event was consumed.
	ErrClosed = dispatch.ErrClosed
	// ErrUnsubscribed is returned by an event stream after its own Close.
	ErrUnsubscribed = dispatch.ErrUnsubscribed
	// ErrTimeout is returned by RecvTimeout.
	ErrTimeout = errors.New("node: timed out waiting for event")
)

// Events is a blocking view of the event stream.
type Events struct {
	sub *dispatch.Subscription[Event]
}

// Recv blocks until the next event. It returns ErrClosed after the node is
// closed and the queue drained.
func (e *Events) Recv() (Event, error) {
	return e.sub.Recv(context.Background())
}

// RecvTimeout is Recv bounded by d.
func (e *Events) RecvTimeout(d time.Duration) (Event, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	ev, err := e.sub.Recv(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, ErrTimeout
	}
	return ev, err
}

// TryRecv returns the next event if one is queued.
func (e *Events) TryRecv() (Event, bool, error) {
	return e.sub.TryRecv()
}

// Next returns the next event, or false once the stream is over.
func (e *Events) Next() (Event, bool) {
	ev, err := e.Recv()
	if err != nil {
		return nil, false
	}
	return ev, true
}

// All iterates over events until the stream ends.
func (e *Events) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, ok := e.Next()
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Frames iterates over the received frames only, with their callbacks.
func (e *Events) Frames() iter.Seq2[frame.Frame, Callback] {
	return func(yield func(frame.Frame, Callback) bool) {
		for ev := range e.All() {
			if fr, ok := ev.(FrameReceived); ok {
				if !yield(fr.Frame, fr.Callback) {
					return
				}
			}
		}
	}
}

// Close unsubscribes. It wakes up a blocked Recv and never affects the
// other subscribers.
func (e *Events) Close() {
	e.sub.Close()
}

// Stats ...
func (e *Events) Stats() dispatch.Stats {
	return e.sub.Stats()
}

// AsyncEvents is the context aware view of the event stream.
type AsyncEvents struct {
	sub *dispatch.Subscription[Event]
}

// Recv blocks until the next event or until ctx ends.
func (e *AsyncEvents) Recv(ctx context.Context) (Event, error) {
	return e.sub.Recv(ctx)
}

// TryRecv returns the next event if one is queued.
func (e *AsyncEvents) TryRecv() (Event, bool, error) {
	return e.sub.TryRecv()
}

// All iterates over events until ctx ends or the stream is over.
func (e *AsyncEvents) All(ctx context.Context) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			ev, err := e.sub.Recv(ctx)
			if err != nil || !yield(ev) {
				return
			}
		}
	}
}

// Frames iterates over the received frames only, with their callbacks.
func (e *AsyncEvents) Frames(ctx context.Context) iter.Seq2[frame.Frame, Callback] {
	return func(yield func(frame.Frame, Callback) bool) {
		for ev := range e.All(ctx) {
			if fr, ok := ev.(FrameReceived); ok {
				if !yield(fr.Frame, fr.Callback) {
					return
				}
			}
		}
	}
}

// Close unsubscribes.
func (e *AsyncEvents) Close() {
	e.sub.Close()
}

// Stats ...
func (e *AsyncEvents) Stats() dispatch.Stats {
	return e.sub.Stats()
}
