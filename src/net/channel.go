package net

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

var (
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("net: listener closed")
	// ErrReadOnly is returned when writing to a file reader.
	ErrReadOnly = errors.New("net: channel is read-only")
)

// Kind names the transport behind a channel.
type Kind string

const (
	KindTCPClient  Kind = "tcp-client"
	KindTCPServer  Kind = "tcp-server"
	KindUDPClient  Kind = "udp-client"
	KindUDPServer  Kind = "udp-server"
	KindUnixClient Kind = "unix-client"
	KindUnixServer Kind = "unix-server"
	KindFileReader Kind = "file-reader"
	KindFileWriter Kind = "file-writer"
	KindInmem      Kind = "inmem"
)

// ChannelInfo describes a channel.
type ChannelInfo struct {
	Kind   Kind   `json:"kind"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

// String ...
func (i ChannelInfo) String() string {
	if i.Remote == "" {
		return fmt.Sprintf("%s(%s)", i.Kind, i.Local)
	}
	return fmt.Sprintf("%s(%s->%s)", i.Kind, i.Local, i.Remote)
}

// ByteChannel is a bidirectional byte stream.
type ByteChannel interface {
	io.ReadWriteCloser
	Info() ChannelInfo
}

// Listener hands out a ByteChannel per incoming peer.
type Listener interface {
	// Accept blocks until a new channel is available or the listener is
	// closed.
	Accept() (ByteChannel, error)
	Close() error
	Addr() string
	Info() ChannelInfo
}

// Deadliner is implemented by channels whose blocking calls can be bounded.
type Deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// connChannel adapts a net.Conn.
type connChannel struct {
	net.Conn
	info ChannelInfo
}

func newConnChannel(c net.Conn, kind Kind) *connChannel {
	return &connChannel{
		Conn: c,
		info: ChannelInfo{
			Kind:   kind,
			Local:  addrString(c.LocalAddr()),
			Remote: addrString(c.RemoteAddr()),
		},
	}
}

// Info implements the ByteChannel interface.
func (c *connChannel) Info() ChannelInfo {
	return c.info
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
