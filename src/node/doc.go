// Package node implements a MAVLink protocol node.
//
// A node owns a set of connections, each one a byte channel from the net
// package plus its own outbound sequence counter and protocol version. Every
// connection has a read loop that decodes frames, runs them through the
// Pipeline (version policy, signature checks, peer registry) and publishes
// the resulting events.
//
// Events
//
// Subscribers receive four kinds of events, in the order they were produced:
// NewPeer, FrameReceived, PeerLost and Invalid. The first valid frame from a
// (system, component) pair produces NewPeer immediately followed by the
// FrameReceived of that frame. A peer that stays silent longer than the
// liveness timeout, or whose last connection closes, produces exactly one
// PeerLost. Each subscriber has its own bounded queue; a full queue either
// blocks the producer or drops its oldest event, depending on the
// configured overflow policy.
//
// FrameReceived and Invalid carry a Callback bound to the originating
// connection, used to respond to it, broadcast to the others or forward the
// frame.
//
// Heartbeats
//
// Unless disabled, the node writes a HEARTBEAT to every writable connection
// at the configured interval. A second ticker sweeps the peer registry.
// Both tickers come from the configured clock, so tests drive them with a
// mock.
//
// Node and AsyncNode
//
// Node runs its loops on goroutines locked to OS threads and offers blocking
// calls. AsyncNode runs the same core in an errgroup tied to a context, and
// every blocking call takes a context. Both produce the same events and the
// same frames for the same inputs.
package node
