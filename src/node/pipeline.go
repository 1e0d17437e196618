package node

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/mosaicnetworks/mavnode/src/common"
	"github.com/mosaicnetworks/mavnode/src/config"
	"github.com/mosaicnetworks/mavnode/src/frame"
	"github.com/mosaicnetworks/mavnode/src/peers"
	"github.com/mosaicnetworks/mavnode/src/sign"
	"github.com/sirupsen/logrus"
)

// ErrVersionRefused is the cause of Invalid events for frames of a protocol
// version the node is not configured to speak.
var ErrVersionRefused = errors.New("node: protocol version not allowed")

// Pipeline turns decoded frames into events and messages into frames. It
// holds no goroutines of its own and is shared by both node flavours.
type Pipeline struct {
	codec       *frame.Codec
	signer      *sign.Signer
	registry    *peers.Registry
	clock       clock.Clock
	policy      config.VersionPolicy
	systemID    uint8
	componentID uint8
	metrics     *metrics
	logger      *logrus.Entry
}

func (p *Pipeline) allowed(v frame.Version) bool {
	switch p.policy {
	case config.VersionV1:
		return v == frame.V1
	case config.VersionV2:
		return v == frame.V2
	default:
		return true
	}
}

// Inbound validates a decoded frame, updates the registry and returns the
// events to publish, as one batch.
func (p *Pipeline) Inbound(conn *Connection, f frame.Frame, cb Callback) []Event {
	if !p.allowed(f.Version()) {
		return p.invalid(conn, cb, &f, nil, common.MalformedFrame, ErrVersionRefused)
	}

	var sig *frame.Signature
	if p.signer != nil {
		checked, verified, err := p.signer.Incoming(f)
		if err != nil {
			return p.invalid(conn, cb, &f, nil, common.SignatureRejected, err)
		}
		f = checked
		if verified {
			s, _ := f.Signature()
			sig = &s
		}
	}

	peer, first, err := p.registry.Touch(peers.KeyOf(f), conn.id, p.clock.Now(), sig)
	if err != nil {
		return p.invalid(conn, cb, &f, nil, common.SignatureRejected, err)
	}

	if p.policy == config.VersionAuto {
		conn.setVersion(f.Version())
	}
	conn.framesIn.Add(1)
	p.metrics.frameIn()

	if first {
		p.metrics.setPeers(p.registry.Len())
		p.logger.WithFields(logrus.Fields{
			"peer": peer.Key,
			"conn": conn.id[:8],
		}).Debug("New peer")
		return []Event{NewPeer{Peer: peer}, FrameReceived{Frame: f, Callback: cb}}
	}
	return []Event{FrameReceived{Frame: f, Callback: cb}}
}

// Malformed reports bytes the decoder refused.
func (p *Pipeline) Malformed(conn *Connection, derr *frame.DecodeError, cb Callback) []Event {
	return p.invalid(conn, cb, derr.Partial, derr.Raw, common.MalformedFrame, derr.Err)
}

func (p *Pipeline) invalid(conn *Connection, cb Callback, f *frame.Frame, raw []byte, kind common.ErrorKind, err error) []Event {
	conn.invalid.Add(1)
	p.metrics.invalidFrame(kind)

	if conn.limiter != nil && !conn.limiter.AllowN(p.clock.Now(), 1) {
		conn.suppressed.Add(1)
		p.metrics.suppressedEvent()
		return nil
	}

	p.logger.WithFields(logrus.Fields{
		"conn": conn.id[:8],
		"kind": kind,
	}).WithError(err).Debug("Invalid input")

	return []Event{Invalid{
		Frame:    f,
		Kind:     kind,
		Err:      common.NewError(kind, "receive", err),
		Callback: cb,
		raw:      raw,
	}}
}

// Outbound frames a message payload for conn with the node's identity, the
// connection's next sequence number and the outgoing signing strategy, and
// writes it.
func (p *Pipeline) Outbound(ctx context.Context, conn *Connection, messageID uint32, payload []byte) (frame.Frame, error) {
	f, err := conn.transmit(ctx, true, func(seq uint8, v frame.Version) (frame.Frame, []byte, error) {
		f := frame.New(v, p.systemID, p.componentID, messageID, payload).WithSequence(seq)
		return p.finish(f, true)
	})
	if err == nil {
		p.metrics.frameOut()
	}
	return f, err
}

// Forward writes a received frame to conn, keeping its identity and
// sequence.
func (p *Pipeline) Forward(ctx context.Context, conn *Connection, f frame.Frame) (frame.Frame, error) {
	out, err := conn.transmit(ctx, false, func(_ uint8, v frame.Version) (frame.Frame, []byte, error) {
		g := f
		if g.Version() != v {
			g = g.WithVersion(v)
		}
		return p.finish(g, false)
	})
	if err == nil {
		p.metrics.frameOut()
	}
	return out, err
}

func (p *Pipeline) finish(f frame.Frame, fresh bool) (frame.Frame, []byte, error) {
	if p.signer != nil {
		signed, err := p.signer.Outgoing(f, fresh)
		if err != nil {
			return f, nil, common.NewError(common.EncodeError, "sign", err)
		}
		f = signed
	}
	b, err := p.codec.Encode(f)
	if err != nil {
		return f, nil, common.NewError(common.EncodeError, "encode", err)
	}
	return f, b, nil
}
