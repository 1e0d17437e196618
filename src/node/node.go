package node

import (
	"context"
	"time"

	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/frame"
	mnet "github.com/mosaicnetworks/mavnode/src/net"
	"github.com/mosaicnetworks/mavnode/src/peers"
)

// Node is the blocking flavour of the engine. Every read loop and timer
// runs on its own goroutine locked to an OS thread, and Send returns once
// the frames are written.
type Node struct {
	core *core
}

// NewNode validates conf and starts a node with no connections.
func NewNode(conf *config.Config) (*Node, error) {
	c, err := newCore(conf)
	if err != nil {
		return nil, err
	}
	c.launch = c.goThread
	c.wait = func() error {
		c.waitRoutines()
		return nil
	}
	c.run(context.Background())

	return &Node{core: c}, nil
}

// ID returns the identity stamped on outgoing frames.
func (n *Node) ID() peers.Key {
	return peers.Key{SystemID: n.core.conf.SystemID, ComponentID: n.core.conf.ComponentID}
}

// State ...
func (n *Node) State() State {
	return n.core.getState()
}

// AddConnection starts serving ch.
func (n *Node) AddConnection(ch mnet.ByteChannel) (*Connection, error) {
	return n.core.addConnection(ch, nil)
}

// AddListener accepts channels from l until it or the node is closed.
func (n *Node) AddListener(l mnet.Listener) error {
	return n.core.addListener(l)
}

// Connect opens an endpoint such as "tcpout:127.0.0.1:5760" or
// "udpin:0.0.0.0:14550", bounded by the configured ConnectTimeout.
func (n *Node) Connect(endpoint string) error {
	return n.core.connect(endpoint, n.core.conf.ConnectTimeout)
}

// Events returns the node's default event stream. The stream is created on
// the first call and every call returns the same stream. Call it before
// Connect to see every event.
func (n *Node) Events() *Events {
	return &Events{sub: n.core.defaultEvents()}
}

// Subscribe returns an additional event stream receiving the events
// published from now on.
func (n *Node) Subscribe() *Events {
	return &Events{sub: n.core.bus.Subscribe()}
}

// Send writes msg to every writable connection.
func (n *Node) Send(msg frame.Message) error {
	return n.core.sendMessage(context.Background(), msg, All())
}

// SendScope writes msg to the connections selected by scope.
func (n *Node) SendScope(msg frame.Message, scope Scope) error {
	return n.core.sendMessage(context.Background(), msg, scope)
}

// SendTo writes msg to the connection the peer was last heard on.
func (n *Node) SendTo(key peers.Key, msg frame.Message) error {
	return n.core.sendTo(context.Background(), key, msg)
}

// SendTimeout is Send bounded by d. A write cut short closes its
// connection.
func (n *Node) SendTimeout(msg frame.Message, d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return n.core.sendMessage(ctx, msg, All())
}

// Forward writes a received frame to the connections selected by scope,
// keeping its original identity and sequence.
func (n *Node) Forward(f frame.Frame, scope Scope) error {
	return n.core.forward(context.Background(), f, scope)
}

// HasPeers ...
func (n *Node) HasPeers() bool {
	return n.core.registry.Len() > 0
}

// Peers returns a snapshot of the live peers.
func (n *Node) Peers() []peers.Peer {
	return n.core.registry.Snapshot()
}

// Connections returns the statistics of the open connections.
func (n *Node) Connections() []ConnectionStats {
	return n.core.connections()
}

// CloseConnection closes one connection. The peers that were only reachable
// through it are lost.
func (n *Node) CloseConnection(id string) error {
	return n.core.closeConnectionByID(id)
}

// GetStats ...
func (n *Node) GetStats() map[string]string {
	return n.core.stats()
}

// Close shuts the node down. Subscribers get a PeerLost for every remaining
// peer before their streams end with ErrClosed.
func (n *Node) Close() error {
	return n.core.close()
}
