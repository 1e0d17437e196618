package net

import (
	"fmt"
	"net"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory address with a random UUID.
func NewInmemAddr() string {
	return "inmem-" + uuid.NewString()
}

// InmemPipe returns two connected in-memory channels, so nodes can be
// tested without going over a network. Writes block until the other end
// reads, and both ends support deadlines.
func InmemPipe() (ByteChannel, ByteChannel) {
	a, b := net.Pipe()
	addrA, addrB := NewInmemAddr(), NewInmemAddr()
	left := &connChannel{
		Conn: a,
		info: ChannelInfo{Kind: KindInmem, Local: addrA, Remote: addrB},
	}
	right := &connChannel{
		Conn: b,
		info: ChannelInfo{Kind: KindInmem, Local: addrB, Remote: addrA},
	}
	return left, right
}

// InmemListener hands out the far ends of pipes created with Dial.
type InmemListener struct {
	addr    string
	accepts chan ByteChannel
	closed  chan struct{}
}

// NewInmemListener ...
func NewInmemListener() *InmemListener {
	return &InmemListener{
		addr:    NewInmemAddr(),
		accepts: make(chan ByteChannel),
		closed:  make(chan struct{}),
	}
}

// Dial returns the client end of a new pipe whose server end is delivered
// by Accept.
func (l *InmemListener) Dial() (ByteChannel, error) {
	client, server := InmemPipe()
	select {
	case l.accepts <- server:
		return client, nil
	case <-l.closed:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", l.addr, ErrListenerClosed)
	}
}

// Accept implements the Listener interface.
func (l *InmemListener) Accept() (ByteChannel, error) {
	select {
	case c := <-l.accepts:
		return c, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	}
}

// Close implements the Listener interface.
func (l *InmemListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	return nil
}

// Addr implements the Listener interface.
func (l *InmemListener) Addr() string {
	return l.addr
}

// Info implements the Listener interface.
func (l *InmemListener) Info() ChannelInfo {
	return ChannelInfo{Kind: KindInmem, Local: l.addr}
}
