package net

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"
)

const (
	// udpQueueLen bounds the datagrams buffered per remote. A remote whose
	// queue is full loses the newest datagram rather than stalling the
	// others.
	udpQueueLen = 64

	udpErrBaseDelay = 5 * time.Millisecond
	udpErrMaxDelay  = 1 * time.Second
)

// DialUDP returns a channel bound to one remote address. Every Read returns
// at most one datagram.
func DialUDP(address string, timeout time.Duration) (ByteChannel, error) {
	c, err := net.DialTimeout("udp", address, timeout)
	if err != nil {
		return nil, err
	}
	return newConnChannel(c, KindUDPClient), nil
}

// UDPServer listens on a datagram socket and demultiplexes incoming
// datagrams into one virtual channel per remote address.
type UDPServer struct {
	conn net.PacketConn

	mu       sync.Mutex
	channels map[string]*udpChannel
	closed   bool

	acceptCh   chan *udpChannel
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

// ListenUDP ...
func ListenUDP(address string) (*UDPServer, error) {
	pc, err := net.ListenPacket("udp", address)
	if err != nil {
		return nil, err
	}
	s := &UDPServer{
		conn:       pc,
		channels:   make(map[string]*udpChannel),
		acceptCh:   make(chan *udpChannel, 16),
		shutdownCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

func (s *UDPServer) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 64*1024)
	delay := time.Duration(0)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Repeated socket errors are retried with an exponential backoff.
			if delay == 0 {
				delay = udpErrBaseDelay
			} else {
				delay *= 2
			}
			if delay > udpErrMaxDelay {
				delay = udpErrMaxDelay
			}
			select {
			case <-time.After(delay):
			case <-s.shutdownCh:
				return
			}
			continue
		}
		delay = 0

		ch, isNew := s.channelFor(addr)
		if ch == nil {
			return
		}
		if isNew {
			select {
			case s.acceptCh <- ch:
			case <-s.shutdownCh:
				return
			}
		}

		d := make([]byte, n)
		copy(d, buf[:n])
		ch.push(d)
	}
}

func (s *UDPServer) channelFor(addr net.Addr) (*udpChannel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false
	}
	key := addr.String()
	if ch, ok := s.channels[key]; ok {
		return ch, false
	}
	ch := &udpChannel{
		server: s,
		remote: addr,
		queue:  make(chan []byte, udpQueueLen),
		closed: make(chan struct{}),
		wake:   make(chan struct{}),
		info: ChannelInfo{
			Kind:   KindUDPServer,
			Local:  addrString(s.conn.LocalAddr()),
			Remote: key,
		},
	}
	s.channels[key] = ch
	return ch, true
}

func (s *UDPServer) forget(ch *udpChannel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.channels[ch.info.Remote]; ok && cur == ch {
		delete(s.channels, ch.info.Remote)
	}
}

// Accept implements the Listener interface.
func (s *UDPServer) Accept() (ByteChannel, error) {
	select {
	case ch := <-s.acceptCh:
		return ch, nil
	case <-s.shutdownCh:
		return nil, ErrListenerClosed
	}
}

// Close closes the socket and every virtual channel.
func (s *UDPServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	channels := make([]*udpChannel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	close(s.shutdownCh)
	err := s.conn.Close()
	for _, ch := range channels {
		ch.Close()
	}
	s.wg.Wait()
	return err
}

// Addr implements the Listener interface.
func (s *UDPServer) Addr() string {
	return s.conn.LocalAddr().String()
}

// Info implements the Listener interface.
func (s *UDPServer) Info() ChannelInfo {
	return ChannelInfo{Kind: KindUDPServer, Local: s.Addr()}
}

// udpChannel is the virtual channel of one remote address. It supports a
// read deadline so idle remotes can be expired. Datagram writes do not
// block, so the write deadline is accepted and ignored.
type udpChannel struct {
	server *UDPServer
	remote net.Addr
	info   ChannelInfo

	queue   chan []byte
	pending []byte

	deadlineLock sync.Mutex
	readDeadline time.Time
	// wake is closed and replaced whenever the read deadline changes.
	wake chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func (c *udpChannel) push(d []byte) {
	select {
	case c.queue <- d:
	case <-c.closed:
	default:
	}
}

// Read implements the io.Reader interface. Past the read deadline it fails
// with os.ErrDeadlineExceeded.
func (c *udpChannel) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		c.deadlineLock.Lock()
		deadline, wake := c.readDeadline, c.wake
		c.deadlineLock.Unlock()

		var timer *time.Timer
		var expired <-chan time.Time
		if !deadline.IsZero() {
			wait := time.Until(deadline)
			if wait <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(wait)
			expired = timer.C
		}

		var err error
		select {
		case d := <-c.queue:
			c.pending = d
		case <-c.closed:
			err = io.EOF
		case <-expired:
			err = os.ErrDeadlineExceeded
		case <-wake:
		}
		if timer != nil {
			timer.Stop()
		}
		if err != nil {
			return 0, err
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// SetReadDeadline implements the Deadliner interface. A zero t disables the
// deadline.
func (c *udpChannel) SetReadDeadline(t time.Time) error {
	c.deadlineLock.Lock()
	defer c.deadlineLock.Unlock()

	c.readDeadline = t
	close(c.wake)
	c.wake = make(chan struct{})
	return nil
}

// SetWriteDeadline implements the Deadliner interface.
func (c *udpChannel) SetWriteDeadline(t time.Time) error {
	return nil
}

// Write sends p as one datagram to the remote.
func (c *udpChannel) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	return c.server.conn.WriteTo(p, c.remote)
}

// Close implements the io.Closer interface. The shared socket stays open.
func (c *udpChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.server.forget(c)
	})
	return nil
}

// Info implements the ByteChannel interface.
func (c *udpChannel) Info() ChannelInfo {
	return c.info
}
