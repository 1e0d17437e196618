// Package sign applies MAVLink v2 message signing policies to frames.
package sign

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

var (
	// ErrUnsigned is returned by Strict for frames without a signature.
	ErrUnsigned = errors.New("sign: frame is not signed")
	// ErrUnknownLink is returned for signatures from a link with no key.
	ErrUnknownLink = errors.New("sign: no key for link")
	// ErrInvalidSignature ...
	ErrInvalidSignature = errors.New("sign: invalid signature")
	// ErrCannotSign is returned when a strategy requires a signature on a
	// v1 frame.
	ErrCannotSign = errors.New("sign: v1 frames cannot be signed")
)

// Signer verifies incoming and signs outgoing frames.
type Signer struct {
	linkID   uint8
	keys     map[uint8]Key
	incoming Strategy
	outgoing Strategy
	codec    *frame.Codec
	stamp    *UniqueTimestamp
}

// Option ...
type Option func(*Signer)

// WithLink registers the key used to verify frames signed on another link.
func WithLink(linkID uint8, key Key) Option {
	return func(s *Signer) {
		s.keys[linkID] = key
	}
}

// WithIncoming ...
func WithIncoming(st Strategy) Option {
	return func(s *Signer) {
		s.incoming = st
	}
}

// WithOutgoing ...
func WithOutgoing(st Strategy) Option {
	return func(s *Signer) {
		s.outgoing = st
	}
}

// WithTimestamp replaces DefaultTimestamp.
func WithTimestamp(u *UniqueTimestamp) Option {
	return func(s *Signer) {
		s.stamp = u
	}
}

// New returns a Signer that signs with key on linkID. Both directions
// default to the Sign strategy.
func New(codec *frame.Codec, linkID uint8, key Key, opts ...Option) *Signer {
	s := &Signer{
		linkID:   linkID,
		keys:     map[uint8]Key{linkID: key},
		incoming: Sign,
		outgoing: Sign,
		codec:    codec,
		stamp:    DefaultTimestamp,
	}
	for _, o := range opts {
		o(s)
	}
	// own link always signs and verifies with key
	s.keys[linkID] = key
	return s
}

// LinkID ...
func (s *Signer) LinkID() uint8 { return s.linkID }

// IncomingStrategy ...
func (s *Signer) IncomingStrategy() Strategy { return s.incoming }

// OutgoingStrategy ...
func (s *Signer) OutgoingStrategy() Strategy { return s.outgoing }

// Incoming checks a received frame. verified reports that the frame carried
// a signature that was checked against a known key, in which case the
// caller still owes it the anti-replay check.
func (s *Signer) Incoming(f frame.Frame) (res frame.Frame, verified bool, err error) {
	switch s.incoming {
	case Proxy:
		return f, false, nil
	case Strip:
		return f.WithoutSignature(), false, nil
	case Strict:
		if !f.IsSigned() {
			return f, false, ErrUnsigned
		}
	}
	if !f.IsSigned() {
		return f, false, nil
	}
	if err := s.verify(f); err != nil {
		return f, false, err
	}
	return f, true, nil
}

// Outgoing applies the outgoing strategy. fresh marks frames created by this
// node as opposed to frames being forwarded.
func (s *Signer) Outgoing(f frame.Frame, fresh bool) (frame.Frame, error) {
	switch s.outgoing {
	case Proxy:
		return f, nil
	case Strip:
		return f.WithoutSignature(), nil
	case Sign:
		if f.IsSigned() && !fresh {
			return f, nil
		}
		if f.Version() != frame.V2 {
			return f.WithoutSignature(), nil
		}
		return s.sign(f)
	case ReSign:
		if f.Version() != frame.V2 {
			return f.WithoutSignature(), nil
		}
		return s.sign(f)
	case Strict:
		if f.Version() != frame.V2 {
			return f, ErrCannotSign
		}
		if f.IsSigned() && !fresh {
			return f, nil
		}
		return s.sign(f)
	default:
		return f, fmt.Errorf("sign: unknown strategy %v", s.outgoing)
	}
}

func (s *Signer) sign(f frame.Frame) (frame.Frame, error) {
	return s.codec.Sign(f, s.linkID, s.stamp.Next(), s.keys[s.linkID])
}

func (s *Signer) verify(f frame.Frame) error {
	sig, _ := f.Signature()
	key, ok := s.keys[sig.LinkID]
	if !ok {
		return fmt.Errorf("%w %d", ErrUnknownLink, sig.LinkID)
	}
	if err := s.codec.Verify(f, key); err != nil {
		if errors.Is(err, frame.ErrInvalidSignature) {
			return ErrInvalidSignature
		}
		return err
	}
	return nil
}
