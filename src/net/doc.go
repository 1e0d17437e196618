// Package net wraps sockets and files as byte channels for the node.
//
// A ByteChannel is an io.ReadWriteCloser that can describe itself. The node
// reads frames from it and writes encoded frames to it without caring what
// sits underneath. A Listener produces ByteChannels for incoming peers.
//
// Implementations:
//
// - TCP: a client channel per dialled address and a listener handing out one
// channel per accepted connection.
//
// - UDP: a client channel bound to one remote address, and a server that
// demultiplexes datagrams by sender, handing out one virtual channel per
// remote address the first time it is heard from.
//
// - Unix: stream sockets on a filesystem path, client and server.
//
// - File: a read-only channel replaying a recording and a write-only channel
// recording outgoing frames.
//
// - Inmem: connected pairs for tests.
//
// Endpoints are written as "<scheme>:<address>", for instance
// "tcpout:127.0.0.1:5760" or "udpin:0.0.0.0:14550", see ParseEndpoint.
package net
