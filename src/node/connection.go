package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/mavnode/src/common"
	"github.com/mosaicnetworks/mavnode/src/frame"
	mnet "github.com/mosaicnetworks/mavnode/src/net"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrConnectionClosed is returned when writing to a connection that is
	// gone.
	ErrConnectionClosed = errors.New("node: connection closed")
	// ErrUnknownConnection is returned by CloseConnection for an id that is
	// not, or no longer, open.
	ErrUnknownConnection = errors.New("node: unknown connection")
	// ErrUnknownPeer is returned by SendTo for a key not in the registry.
	ErrUnknownPeer = errors.New("node: unknown peer")
	// ErrNodeClosed is returned by operations on a closed node.
	ErrNodeClosed = errors.New("node: closed")
)

// ConnectionStats is a snapshot of a connection's counters.
type ConnectionStats struct {
	ID         string           `json:"id"`
	Info       mnet.ChannelInfo `json:"info"`
	Version    string           `json:"version"`
	OpenedAt   time.Time        `json:"opened_at"`
	FramesIn   uint64           `json:"frames_in"`
	FramesOut  uint64           `json:"frames_out"`
	BytesIn    uint64           `json:"bytes_in"`
	BytesOut   uint64           `json:"bytes_out"`
	Invalid    uint64           `json:"invalid"`
	Suppressed uint64           `json:"suppressed"`
	Sequence   uint8            `json:"next_sequence"`
	LastError  string           `json:"last_error,omitempty"`
	Closed     bool             `json:"closed"`
}

// Connection is a byte channel plus the per-link protocol state: its own
// outbound sequence counter and negotiated version.
type Connection struct {
	id       string
	index    uint64
	info     mnet.ChannelInfo
	channel  mnet.ByteChannel
	writable bool
	openedAt time.Time
	logger   *logrus.Entry

	// writeLock is a one slot semaphore rather than a mutex so that a
	// waiting writer can give up when its context ends.
	writeLock chan struct{}
	seq       uint8 // guarded by writeLock
	seqView   atomic.Uint32

	version atomic.Uint32
	limiter *rate.Limiter

	framesIn   atomic.Uint64
	framesOut  atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	invalid    atomic.Uint64
	suppressed atomic.Uint64

	errLock sync.Mutex
	lastErr error

	closed    chan struct{}
	closeOnce sync.Once
	// requested is set when the application closed the connection, which
	// is never dialled again.
	requested atomic.Bool
}

func newConnection(ch mnet.ByteChannel, index uint64, seq uint8, v frame.Version, limiter *rate.Limiter, openedAt time.Time, logger *logrus.Entry) *Connection {
	id := uuid.NewString()
	info := ch.Info()
	c := &Connection{
		id:        id,
		index:     index,
		info:      info,
		channel:   ch,
		writable:  info.Kind != mnet.KindFileReader,
		openedAt:  openedAt,
		writeLock: make(chan struct{}, 1),
		seq:       seq,
		limiter:   limiter,
		closed:    make(chan struct{}),
		logger: logger.WithFields(logrus.Fields{
			"conn": id[:8],
			"kind": info.Kind,
		}),
	}
	c.seqView.Store(uint32(seq))
	c.version.Store(uint32(v))
	return c
}

// ID ...
func (c *Connection) ID() string { return c.id }

// Info ...
func (c *Connection) Info() mnet.ChannelInfo { return c.info }

// Version is the protocol version used for frames written to the
// connection.
func (c *Connection) Version() frame.Version {
	return frame.Version(c.version.Load())
}

func (c *Connection) setVersion(v frame.Version) {
	if old := frame.Version(c.version.Swap(uint32(v))); old != v {
		c.logger.WithField("version", v).Debug("Switched protocol version")
	}
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.closed }

// IsClosed ...
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// LastError ...
func (c *Connection) LastError() error {
	c.errLock.Lock()
	defer c.errLock.Unlock()
	return c.lastErr
}

func (c *Connection) setLastError(err error) {
	if err == nil {
		return
	}
	c.errLock.Lock()
	defer c.errLock.Unlock()
	c.lastErr = err
}

// Stats ...
func (c *Connection) Stats() ConnectionStats {
	s := ConnectionStats{
		ID:         c.id,
		Info:       c.info,
		Version:    c.Version().String(),
		OpenedAt:   c.openedAt,
		FramesIn:   c.framesIn.Load(),
		FramesOut:  c.framesOut.Load(),
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
		Invalid:    c.invalid.Load(),
		Suppressed: c.suppressed.Load(),
		Sequence:   uint8(c.seqView.Load()),
		Closed:     c.IsClosed(),
	}
	if err := c.LastError(); err != nil {
		s.LastError = err.Error()
	}
	return s
}

// close closes the channel once. It reports whether this call did it.
func (c *Connection) close(cause error) bool {
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.setLastError(cause)
		close(c.closed)
		if err := c.channel.Close(); err != nil {
			c.logger.WithError(err).Debug("Closing channel")
		}
	})
	return first
}

// Read counts the bytes read from the channel.
func (c *Connection) Read(p []byte) (int, error) {
	n, err := c.channel.Read(p)
	c.bytesIn.Add(uint64(n))
	return n, err
}

func (c *Connection) armIdle(d time.Duration) {
	if d <= 0 {
		return
	}
	if dl, ok := c.channel.(mnet.Deadliner); ok {
		dl.SetReadDeadline(time.Now().Add(d))
	}
}

func (c *Connection) acquire(ctx context.Context) error {
	select {
	case c.writeLock <- struct{}{}:
		return nil
	case <-c.closed:
		return common.NewError(common.DeliveryError, "send", ErrConnectionClosed)
	case <-ctx.Done():
		return common.NewError(common.DeliveryError, "send", ctx.Err())
	}
}

func (c *Connection) release() {
	<-c.writeLock
}

// builder produces the frame to write and its encoding from the sequence
// number and version the connection would use next.
type builder func(seq uint8, v frame.Version) (frame.Frame, []byte, error)

// transmit runs build and writes its output in one critical section, so the
// order of frames on the wire is the order of their sequence numbers. The
// sequence only advances when build succeeds and advance is set.
func (c *Connection) transmit(ctx context.Context, advance bool, build builder) (frame.Frame, error) {
	if err := c.acquire(ctx); err != nil {
		return frame.Frame{}, err
	}
	defer c.release()

	if c.IsClosed() {
		return frame.Frame{}, common.NewError(common.DeliveryError, "send", ErrConnectionClosed)
	}
	if err := ctx.Err(); err != nil {
		return frame.Frame{}, common.NewError(common.DeliveryError, "send", err)
	}

	f, b, err := build(c.seq, c.Version())
	if err != nil {
		return f, err
	}
	if advance {
		c.seq++
		c.seqView.Store(uint32(c.seq))
	}

	if err := c.write(ctx, b); err != nil {
		return f, common.NewError(common.ConnectionError, "write", err)
	}
	c.framesOut.Add(1)
	return f, nil
}

// write honours ctx by expiring the write deadline of channels that
// support one.
func (c *Connection) write(ctx context.Context, b []byte) error {
	if dl, ok := c.channel.(mnet.Deadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			dl.SetWriteDeadline(deadline)
			defer dl.SetWriteDeadline(time.Time{})
		}
		stop := context.AfterFunc(ctx, func() {
			dl.SetWriteDeadline(time.Unix(1, 0))
		})
		defer stop()
	}

	n, err := c.channel.Write(b)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}
