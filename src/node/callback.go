package node

import (
	"context"
	"fmt"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

type scopeKind int

const (
	scopeAll scopeKind = iota
	scopeExact
	scopeExcept
)

// Scope selects the connections a message is written to.
type Scope struct {
	kind scopeKind
	conn string
}

// All selects every open connection.
func All() Scope { return Scope{kind: scopeAll} }

// Exact selects one connection.
func Exact(connID string) Scope { return Scope{kind: scopeExact, conn: connID} }

// Except selects every open connection but one.
func Except(connID string) Scope { return Scope{kind: scopeExcept, conn: connID} }

func (s Scope) includes(connID string) bool {
	switch s.kind {
	case scopeExact:
		return connID == s.conn
	case scopeExcept:
		return connID != s.conn
	default:
		return true
	}
}

// String ...
func (s Scope) String() string {
	switch s.kind {
	case scopeExact:
		return fmt.Sprintf("exact(%s)", s.conn)
	case scopeExcept:
		return fmt.Sprintf("except(%s)", s.conn)
	default:
		return "all"
	}
}

// Callback answers an incoming event. It is bound to the connection the
// event came from and stays usable after that connection closed, though
// Respond then fails with ErrConnectionClosed.
type Callback struct {
	core   *core
	origin *Connection
}

// Connection returns the originating connection.
func (c Callback) Connection() *Connection {
	return c.origin
}

// Respond writes msg to the originating connection only.
func (c Callback) Respond(ctx context.Context, msg frame.Message) error {
	return c.core.sendMessage(ctx, msg, Exact(c.origin.id))
}

// Broadcast writes msg to every connection except the originating one.
func (c Callback) Broadcast(ctx context.Context, msg frame.Message) error {
	return c.core.sendMessage(ctx, msg, Except(c.origin.id))
}

// Send writes msg to every connection, the originating one included.
func (c Callback) Send(ctx context.Context, msg frame.Message) error {
	return c.core.sendMessage(ctx, msg, All())
}

// SendScope writes msg to the connections selected by scope.
func (c Callback) SendScope(ctx context.Context, msg frame.Message, scope Scope) error {
	return c.core.sendMessage(ctx, msg, scope)
}

// Forward routes a received frame to every connection except the
// originating one. The frame keeps its identity and sequence and only the
// outgoing signing strategy applies to it.
func (c Callback) Forward(ctx context.Context, f frame.Frame) error {
	return c.core.forward(ctx, f, Except(c.origin.id))
}
