package node

import (
	"github.com/mosaicnetworks/mavnode/src/common"
	"github.com/mosaicnetworks/mavnode/src/frame"
	"github.com/mosaicnetworks/mavnode/src/peers"
)

// Event is one of NewPeer, PeerLost, FrameReceived or Invalid.
type Event interface {
	isEvent()
}

// NewPeer is published the first time a valid frame arrives from a key. It
// is immediately followed by the FrameReceived of that frame.
type NewPeer struct {
	Peer peers.Peer
}

// PeerLost is published once when a peer expires or its last connection
// closes.
type PeerLost struct {
	Peer peers.Peer
}

// FrameReceived carries a valid frame and the Callback bound to the
// connection it came from.
type FrameReceived struct {
	Frame    frame.Frame
	Callback Callback
}

// Invalid reports input that was refused. Frame is set when the bytes
// parsed as a frame, for instance when its signature was rejected.
type Invalid struct {
	Frame    *frame.Frame
	Kind     common.ErrorKind
	Err      error
	Callback Callback
	raw      []byte
}

// Raw returns a copy of the refused bytes, if any.
func (e Invalid) Raw() []byte {
	if e.raw == nil {
		return nil
	}
	b := make([]byte, len(e.raw))
	copy(b, e.raw)
	return b
}

// Key returns the key of the lost peer.
func (e PeerLost) Key() peers.Key { return e.Peer.Key }

// Key returns the key of the new peer.
func (e NewPeer) Key() peers.Key { return e.Peer.Key }

func (NewPeer) isEvent()       {}
func (PeerLost) isEvent()      {}
func (FrameReceived) isEvent() {}
func (Invalid) isEvent()       {}
