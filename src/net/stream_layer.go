package net

import (
	"errors"
	"net"
	"time"
)

// StreamLayer is a Listener for connection oriented sockets: every accepted
// net.Conn becomes its own ByteChannel.
type StreamLayer struct {
	listener net.Listener
	kind     Kind
}

// ListenTCP ...
func ListenTCP(address string) (*StreamLayer, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	return &StreamLayer{listener: l, kind: KindTCPServer}, nil
}

// ListenUnix listens on a unix socket path. The socket file is removed on
// Close.
func ListenUnix(path string) (*StreamLayer, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &StreamLayer{listener: l, kind: KindUnixServer}, nil
}

// Accept implements the Listener interface.
func (s *StreamLayer) Accept() (ByteChannel, error) {
	c, err := s.listener.Accept()
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	return newConnChannel(c, s.kind), nil
}

// Close implements the Listener interface.
func (s *StreamLayer) Close() error {
	return s.listener.Close()
}

// Addr implements the Listener interface.
func (s *StreamLayer) Addr() string {
	return s.listener.Addr().String()
}

// Info implements the Listener interface.
func (s *StreamLayer) Info() ChannelInfo {
	return ChannelInfo{Kind: s.kind, Local: s.Addr()}
}

// DialTCP ...
func DialTCP(address string, timeout time.Duration) (ByteChannel, error) {
	c, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, err
	}
	return newConnChannel(c, KindTCPClient), nil
}

// DialUnix ...
func DialUnix(path string, timeout time.Duration) (ByteChannel, error) {
	c, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, err
	}
	return newConnChannel(c, KindUnixClient), nil
}
