// Package frame implements the MAVLink v1 and v2 wire format: framing,
// X.25 checksums and the optional v2 message signature.
package frame

import (
	"fmt"
)

// Version is a MAVLink protocol version.
type Version uint8

const (
	// V1 frames start with 0xFE and carry an 8 bit message id.
	V1 Version = 1
	// V2 frames start with 0xFD, carry a 24 bit message id and may be signed.
	V2 Version = 2
)

// String ...
func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("v?(%d)", uint8(v))
	}
}

const (
	MagicV1 byte = 0xFE
	MagicV2 byte = 0xFD

	HeaderLenV1   = 6
	HeaderLenV2   = 10
	ChecksumLen   = 2
	SignatureLen  = 13
	MaxPayloadLen = 255
	MaxMessageV1  = 0xFF
	MaxMessageV2  = 0xFFFFFF

	// MaxFrameLen is the size of the largest possible signed v2 frame.
	MaxFrameLen = HeaderLenV2 + MaxPayloadLen + ChecksumLen + SignatureLen

	// IncompatSigned is the v2 incompatibility flag announcing a signature.
	IncompatSigned byte = 0x01
)

// Frame is one decoded or prepared MAVLink frame. A Frame is immutable: the
// With* methods return modified copies and Payload returns a copy of the
// payload bytes.
type Frame struct {
	version     Version
	incompat    byte
	compat      byte
	sequence    uint8
	systemID    uint8
	componentID uint8
	messageID   uint32
	payload     []byte
	checksum    uint16
	signature   *Signature
}

// New prepares an unsigned frame. The checksum is filled in when the frame
// is encoded.
func New(version Version, systemID, componentID uint8, messageID uint32, payload []byte) Frame {
	p := make([]byte, len(payload))
	copy(p, payload)
	return Frame{
		version:     version,
		systemID:    systemID,
		componentID: componentID,
		messageID:   messageID,
		payload:     p,
	}
}

// Version ...
func (f Frame) Version() Version { return f.version }

// Sequence ...
func (f Frame) Sequence() uint8 { return f.sequence }

// SystemID ...
func (f Frame) SystemID() uint8 { return f.systemID }

// ComponentID ...
func (f Frame) ComponentID() uint8 { return f.componentID }

// MessageID ...
func (f Frame) MessageID() uint32 { return f.messageID }

// IncompatFlags ...
func (f Frame) IncompatFlags() byte { return f.incompat }

// CompatFlags ...
func (f Frame) CompatFlags() byte { return f.compat }

// Checksum returns the checksum carried by a decoded frame, or the one
// computed by the last Encode/Sign that produced this copy.
func (f Frame) Checksum() uint16 { return f.checksum }

// PayloadLen ...
func (f Frame) PayloadLen() int { return len(f.payload) }

// Payload returns a copy of the payload bytes.
func (f Frame) Payload() []byte {
	p := make([]byte, len(f.payload))
	copy(p, f.payload)
	return p
}

// IsSigned ...
func (f Frame) IsSigned() bool { return f.signature != nil }

// Signature returns a copy of the frame's signature, if any.
func (f Frame) Signature() (Signature, bool) {
	if f.signature == nil {
		return Signature{}, false
	}
	return *f.signature, true
}

// WithSequence ...
func (f Frame) WithSequence(seq uint8) Frame {
	f.sequence = seq
	return f
}

// WithIdentity ...
func (f Frame) WithIdentity(systemID, componentID uint8) Frame {
	f.systemID = systemID
	f.componentID = componentID
	return f
}

// WithVersion converts the frame to another protocol version. Converting to
// V1 drops the signature and the v2 flags.
func (f Frame) WithVersion(v Version) Frame {
	if v == V1 {
		f = f.WithoutSignature()
		f.incompat = 0
		f.compat = 0
	}
	f.version = v
	return f
}

// WithSignature attaches sig and raises the signed flag. The signature is
// stored as given; use Codec.Sign to compute one.
func (f Frame) WithSignature(sig Signature) Frame {
	f.incompat |= IncompatSigned
	f.signature = &sig
	return f
}

// WithoutSignature drops the signature and clears the signed flag.
func (f Frame) WithoutSignature() Frame {
	f.incompat &^= IncompatSigned
	f.signature = nil
	return f
}

// String ...
func (f Frame) String() string {
	s := fmt.Sprintf("%s seq=%d sys=%d comp=%d msg=%d len=%d",
		f.version, f.sequence, f.systemID, f.componentID, f.messageID, len(f.payload))
	if f.signature != nil {
		s += fmt.Sprintf(" link=%d ts=%d", f.signature.LinkID, f.signature.Timestamp)
	}
	return s
}

func (f Frame) headerLen() int {
	if f.version == V1 {
		return HeaderLenV1
	}
	return HeaderLenV2
}
