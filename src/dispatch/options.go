package dispatch

import (
	"fmt"
	"strings"
)

// Policy is the overflow behaviour of a full subscriber queue.
type Policy int

const (
	// Block makes Publish wait for the subscriber to make room.
	Block Policy = iota
	// DropOldest discards the oldest queued item.
	DropOldest
)

// String ...
func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy ...
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "block":
		return Block, nil
	case "drop-oldest", "dropoldest", "drop_oldest":
		return DropOldest, nil
	default:
		return Block, fmt.Errorf("unknown overflow policy %q", s)
	}
}

// DropCallback is called with every item discarded by DropOldest.
type DropCallback[T any] func(item T)

// Option configures a Bus.
type Option[T any] func(*Bus[T])

// WithPolicy sets the overflow policy. Defaults to Block.
func WithPolicy[T any](p Policy) Option[T] {
	return func(b *Bus[T]) {
		b.policy = p
	}
}

// WithDropCallback ...
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(b *Bus[T]) {
		b.onDrop = cb
	}
}
