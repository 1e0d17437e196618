package node

import (
	"context"
	"time"

	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/frame"
	mnet "github.com/mosaicnetworks/mavnode/src/net"
	"github.com/mosaicnetworks/mavnode/src/peers"
	"golang.org/x/sync/errgroup"
)

// AsyncNode is the cooperative flavour of the engine. Its tasks belong to an
// errgroup bound to the context given to NewAsyncNode: cancelling that
// context closes the node. Every blocking method takes a context.
type AsyncNode struct {
	core  *core
	group *errgroup.Group
	stop  func() bool
}

// NewAsyncNode validates conf and starts a node with no connections.
func NewAsyncNode(ctx context.Context, conf *config.Config) (*AsyncNode, error) {
	c, err := newCore(conf)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	c.launch = func(f func()) {
		g.Go(func() error {
			f()
			return nil
		})
	}
	c.wait = g.Wait
	c.run(gctx)

	n := &AsyncNode{core: c, group: g}
	n.stop = context.AfterFunc(gctx, func() {
		c.close()
	})
	return n, nil
}

// ID returns the identity stamped on outgoing frames.
func (n *AsyncNode) ID() peers.Key {
	return peers.Key{SystemID: n.core.conf.SystemID, ComponentID: n.core.conf.ComponentID}
}

// State ...
func (n *AsyncNode) State() State {
	return n.core.getState()
}

// AddConnection starts serving ch.
func (n *AsyncNode) AddConnection(ch mnet.ByteChannel) (*Connection, error) {
	return n.core.addConnection(ch, nil)
}

// AddListener accepts channels from l until it or the node is closed.
func (n *AsyncNode) AddListener(l mnet.Listener) error {
	return n.core.addListener(l)
}

// Connect opens an endpoint. Dialling is bounded by ConnectTimeout or the
// deadline of ctx, whichever comes first.
func (n *AsyncNode) Connect(ctx context.Context, endpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := n.core.conf.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); timeout <= 0 || left < timeout {
			timeout = left
		}
	}
	return n.core.connect(endpoint, timeout)
}

// Events returns the node's default event stream, created on the first
// call. Call it before Connect to see every event.
func (n *AsyncNode) Events() *AsyncEvents {
	return &AsyncEvents{sub: n.core.defaultEvents()}
}

// Subscribe returns an additional event stream receiving the events
// published from now on.
func (n *AsyncNode) Subscribe() *AsyncEvents {
	return &AsyncEvents{sub: n.core.bus.Subscribe()}
}

// Send writes msg to every writable connection. Cancelling ctx aborts a
// pending write, which closes its connection since part of the frame may
// already be on the wire.
func (n *AsyncNode) Send(ctx context.Context, msg frame.Message) error {
	return n.core.sendMessage(ctx, msg, All())
}

// SendScope writes msg to the connections selected by scope.
func (n *AsyncNode) SendScope(ctx context.Context, msg frame.Message, scope Scope) error {
	return n.core.sendMessage(ctx, msg, scope)
}

// SendTo writes msg to the connection the peer was last heard on.
func (n *AsyncNode) SendTo(ctx context.Context, key peers.Key, msg frame.Message) error {
	return n.core.sendTo(ctx, key, msg)
}

// Forward writes a received frame to the connections selected by scope.
func (n *AsyncNode) Forward(ctx context.Context, f frame.Frame, scope Scope) error {
	return n.core.forward(ctx, f, scope)
}

// HasPeers ...
func (n *AsyncNode) HasPeers() bool {
	return n.core.registry.Len() > 0
}

// Peers returns a snapshot of the live peers.
func (n *AsyncNode) Peers() []peers.Peer {
	return n.core.registry.Snapshot()
}

// Connections returns the statistics of the open connections.
func (n *AsyncNode) Connections() []ConnectionStats {
	return n.core.connections()
}

// CloseConnection closes one connection.
func (n *AsyncNode) CloseConnection(id string) error {
	return n.core.closeConnectionByID(id)
}

// GetStats ...
func (n *AsyncNode) GetStats() map[string]string {
	return n.core.stats()
}

// Wait blocks until the node is closed, by Close or by cancellation of the
// context it was created with.
func (n *AsyncNode) Wait() error {
	<-n.core.shutdownCh
	return n.core.close()
}

// Close shuts the node down and waits for its tasks.
func (n *AsyncNode) Close() error {
	n.stop()
	return n.core.close()
}
