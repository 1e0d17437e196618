package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadMagic         = errors.New("frame: no magic byte")
	ErrShortFrame       = errors.New("frame: truncated frame")
	ErrChecksum         = errors.New("frame: checksum mismatch")
	ErrUnknownMessage   = errors.New("frame: unknown message id")
	ErrIncompatFlags    = errors.New("frame: unsupported incompatibility flags")
	ErrPayloadTooLong   = errors.New("frame: payload longer than 255 bytes")
	ErrMessageIDRange   = errors.New("frame: message id does not fit the protocol version")
	ErrUnknownVersion   = errors.New("frame: unknown protocol version")
	ErrSignedV1         = errors.New("frame: v1 frames cannot be signed")
	ErrUnsigned         = errors.New("frame: frame is not signed")
	ErrInvalidSignature = errors.New("frame: signature does not match")
)

// DecodeError reports bytes that could not be turned into a valid frame. Raw
// holds the rejected bytes. Partial is set when the header parsed but the
// frame was still refused, for instance an unknown message id.
type DecodeError struct {
	Raw     []byte
	Partial *Frame
	Err     error
}

// Error ...
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v (%d bytes)", e.Err, len(e.Raw))
}

// Unwrap ...
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Codec encodes and decodes frames against a dialect.
type Codec struct {
	dialect      Dialect
	allowUnknown bool
}

// NewCodec returns a codec for dialect d. With allowUnknown set, frames of
// messages missing from the dialect are accepted without checksum validation
// and their checksum is passed through unchanged on re-encode.
func NewCodec(d Dialect, allowUnknown bool) *Codec {
	return &Codec{
		dialect:      d,
		allowUnknown: allowUnknown,
	}
}

// Dialect ...
func (c *Codec) Dialect() Dialect {
	return c.dialect
}

func (c *Codec) crcExtra(id uint32) (byte, bool) {
	if c.dialect == nil {
		return 0, false
	}
	return c.dialect.CRCExtra(id)
}

// Encode serializes f, computing its checksum. A signature already attached
// to f is written as is.
func (c *Codec) Encode(f Frame) ([]byte, error) {
	b, _, err := c.encode(f)
	return b, err
}

func (c *Codec) encode(f Frame) ([]byte, Frame, error) {
	if len(f.payload) > MaxPayloadLen {
		return nil, f, ErrPayloadTooLong
	}
	extra, known := c.crcExtra(f.messageID)
	if !known && !c.allowUnknown {
		return nil, f, fmt.Errorf("%w: %d", ErrUnknownMessage, f.messageID)
	}

	var hl int
	switch f.version {
	case V1:
		if f.messageID > MaxMessageV1 {
			return nil, f, ErrMessageIDRange
		}
		if f.signature != nil {
			return nil, f, ErrSignedV1
		}
		hl = HeaderLenV1
	case V2:
		if f.messageID > MaxMessageV2 {
			return nil, f, ErrMessageIDRange
		}
		hl = HeaderLenV2
	default:
		return nil, f, ErrUnknownVersion
	}

	plen := len(f.payload)
	n := hl + plen + ChecksumLen
	if f.signature != nil {
		n += SignatureLen
	}
	buf := make([]byte, n)

	if f.version == V1 {
		buf[0] = MagicV1
		buf[1] = byte(plen)
		buf[2] = f.sequence
		buf[3] = f.systemID
		buf[4] = f.componentID
		buf[5] = byte(f.messageID)
	} else {
		buf[0] = MagicV2
		buf[1] = byte(plen)
		buf[2] = f.incompat
		buf[3] = f.compat
		buf[4] = f.sequence
		buf[5] = f.systemID
		buf[6] = f.componentID
		buf[7] = byte(f.messageID)
		buf[8] = byte(f.messageID >> 8)
		buf[9] = byte(f.messageID >> 16)
	}
	copy(buf[hl:], f.payload)

	crc := f.checksum
	if known {
		crc = checksum(buf[1:hl+plen], extra)
	}
	binary.LittleEndian.PutUint16(buf[hl+plen:], crc)
	f.checksum = crc

	if f.signature != nil {
		f.signature.marshal(buf[hl+plen+ChecksumLen:])
	}
	return buf, f, nil
}

// FrameLen returns the full length of the frame whose first bytes are in
// header. header must start with a magic byte and hold at least three bytes.
func FrameLen(header []byte) (int, error) {
	if len(header) < 3 {
		return 0, ErrShortFrame
	}
	switch header[0] {
	case MagicV1:
		return HeaderLenV1 + int(header[1]) + ChecksumLen, nil
	case MagicV2:
		n := HeaderLenV2 + int(header[1]) + ChecksumLen
		if header[2]&IncompatSigned != 0 {
			n += SignatureLen
		}
		return n, nil
	default:
		return 0, ErrBadMagic
	}
}

// Decode decodes the frame at the start of b and returns it together with the
// number of bytes it occupied. Failures are reported as *DecodeError.
func (c *Codec) Decode(b []byte) (Frame, int, error) {
	if len(b) == 0 {
		return Frame{}, 0, &DecodeError{Err: ErrShortFrame}
	}
	if b[0] != MagicV1 && b[0] != MagicV2 {
		return Frame{}, 1, &DecodeError{Raw: clone(b[:1]), Err: ErrBadMagic}
	}
	total, err := FrameLen(b)
	if err != nil {
		return Frame{}, len(b), &DecodeError{Raw: clone(b), Err: err}
	}
	if len(b) < total {
		return Frame{}, len(b), &DecodeError{Raw: clone(b), Err: ErrShortFrame}
	}
	raw := b[:total]

	var f Frame
	var hl int
	if raw[0] == MagicV1 {
		hl = HeaderLenV1
		f.version = V1
		f.sequence = raw[2]
		f.systemID = raw[3]
		f.componentID = raw[4]
		f.messageID = uint32(raw[5])
	} else {
		hl = HeaderLenV2
		f.version = V2
		f.incompat = raw[2]
		f.compat = raw[3]
		f.sequence = raw[4]
		f.systemID = raw[5]
		f.componentID = raw[6]
		f.messageID = uint32(raw[7]) | uint32(raw[8])<<8 | uint32(raw[9])<<16
	}
	plen := int(raw[1])
	f.payload = clone(raw[hl : hl+plen])
	f.checksum = binary.LittleEndian.Uint16(raw[hl+plen:])
	if f.incompat&IncompatSigned != 0 {
		sig := unmarshalSignature(raw[hl+plen+ChecksumLen:])
		f.signature = &sig
	}

	if f.incompat&^IncompatSigned != 0 {
		return Frame{}, total, &DecodeError{Raw: clone(raw), Partial: &f, Err: ErrIncompatFlags}
	}

	extra, known := c.crcExtra(f.messageID)
	if !known {
		if !c.allowUnknown {
			return Frame{}, total, &DecodeError{Raw: clone(raw), Partial: &f, Err: ErrUnknownMessage}
		}
		return f, total, nil
	}
	if checksum(raw[1:hl+plen], extra) != f.checksum {
		return Frame{}, total, &DecodeError{Raw: clone(raw), Err: ErrChecksum}
	}
	return f, total, nil
}

// Sign attaches a freshly computed signature to a v2 frame. The signed flag
// is raised before the checksum is computed since the flag is covered by it.
func (c *Codec) Sign(f Frame, linkID uint8, ts Timestamp, key SecretKey) (Frame, error) {
	if f.version != V2 {
		return f, ErrSignedV1
	}
	f = f.WithSignature(Signature{LinkID: linkID, Timestamp: ts})
	buf, f, err := c.encode(f)
	if err != nil {
		return f, err
	}
	n := len(buf) - SignatureLen
	sig := Signature{
		LinkID:    linkID,
		Timestamp: ts,
		Value:     computeSignature(key, buf[:n], linkID, ts),
	}
	f.signature = &sig
	return f, nil
}

// Verify checks f's signature against key.
func (c *Codec) Verify(f Frame, key SecretKey) error {
	if f.signature == nil {
		return ErrUnsigned
	}
	buf, _, err := c.encode(f)
	if err != nil {
		return err
	}
	n := len(buf) - SignatureLen
	want := computeSignature(key, buf[:n], f.signature.LinkID, f.signature.Timestamp)
	if !equalSignature(want, f.signature.Value) {
		return ErrInvalidSignature
	}
	return nil
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
