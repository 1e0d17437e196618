package node

import (
	"errors"
	"testing"
	"time"

	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/dialect/minimal"
	"github.com/mosaicnetworks/mavnode/src/frame"
	mnet "github.com/mosaicnetworks/mavnode/src/net"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	pingID uint32 = 4
	pongID uint32 = 5

	waitTimeout = 5 * time.Second
)

var testDialect = minimal.Dialect.Extend("test",
	frame.MessageSpec{ID: pingID, Name: "PING", CRCExtra: 237},
	frame.MessageSpec{ID: pongID, Name: "PONG", CRCExtra: 81},
)

func ping(n byte) frame.RawMessage {
	return frame.RawMessage{ID: pingID, Data: []byte{n, 0, 0, 0}}
}

func pong(n byte) frame.RawMessage {
	return frame.RawMessage{ID: pongID, Data: []byte{n, 1, 1, 1}}
}

// testConfig returns a quiet configuration: heartbeats off, no data dir.
func testConfig(t testing.TB, systemID uint8) *config.Config {
	conf := config.NewTestConfig(t, logrus.InfoLevel)
	conf.DataDir = ""
	conf.SystemID = systemID
	conf.ComponentID = 1
	conf.Dialect = testDialect
	conf.Heartbeat.Enabled = false
	return conf
}

func newTestNode(t testing.TB, conf *config.Config) *Node {
	t.Helper()
	n, err := NewNode(conf)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })
	return n
}

// testPeer plays the remote end of a pipe with a bare codec.
type testPeer struct {
	t      testing.TB
	ch     mnet.ByteChannel
	codec  *frame.Codec
	reader *frame.Reader
	sys    uint8
	comp   uint8
	seq    uint8
}

func newTestPeer(t testing.TB, ch mnet.ByteChannel, sys uint8) *testPeer {
	codec := frame.NewCodec(testDialect, false)
	t.Cleanup(func() { ch.Close() })
	return &testPeer{
		t:      t,
		ch:     ch,
		codec:  codec,
		reader: frame.NewReader(ch, codec),
		sys:    sys,
		comp:   1,
	}
}

// connect attaches a new pipe to n and returns its far end.
func connectPeer(t testing.TB, n *Node, sys uint8) (*testPeer, *Connection) {
	t.Helper()
	local, remote := mnet.InmemPipe()
	conn, err := n.AddConnection(local)
	require.NoError(t, err)
	return newTestPeer(t, remote, sys), conn
}

func (p *testPeer) frame(v frame.Version, msg frame.RawMessage) frame.Frame {
	f := frame.New(v, p.sys, p.comp, msg.ID, msg.Data).WithSequence(p.seq)
	p.seq++
	return f
}

func (p *testPeer) encode(f frame.Frame) []byte {
	p.t.Helper()
	b, err := p.codec.Encode(f)
	require.NoError(p.t, err)
	return b
}

func (p *testPeer) write(b []byte) {
	p.t.Helper()
	p.ch.(mnet.Deadliner).SetWriteDeadline(time.Now().Add(waitTimeout))
	_, err := p.ch.Write(b)
	require.NoError(p.t, err)
}

func (p *testPeer) send(msg frame.RawMessage) frame.Frame {
	p.t.Helper()
	f := p.frame(frame.V2, msg)
	p.write(p.encode(f))
	return f
}

func (p *testPeer) read() frame.Frame {
	p.t.Helper()
	p.ch.(mnet.Deadliner).SetReadDeadline(time.Now().Add(waitTimeout))
	f, err := p.reader.Next()
	require.NoError(p.t, err)
	return f
}

// idle reports that nothing arrives within d. The reader is unusable
// afterwards.
func (p *testPeer) idle(d time.Duration) bool {
	p.ch.(mnet.Deadliner).SetReadDeadline(time.Now().Add(d))
	_, err := p.reader.Next()
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

func nextEvent(t testing.TB, ev *Events) Event {
	t.Helper()
	e, err := ev.RecvTimeout(waitTimeout)
	require.NoError(t, err)
	return e
}

func requireNoEvent(t testing.TB, ev *Events, d time.Duration) {
	t.Helper()
	e, err := ev.RecvTimeout(d)
	require.ErrorIs(t, err, ErrTimeout, "unexpected event %#v", e)
}

// sendAsync runs send on its own goroutine, since pipe writes only return
// once the far end reads.
func sendAsync(send func() error) <-chan error {
	res := make(chan error, 1)
	go func() {
		res <- send()
	}()
	return res
}

func waitErr(t testing.TB, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timeout waiting for send")
		return nil
	}
}
