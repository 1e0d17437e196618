package frame

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"time"
)

// SecretKey is the 32 byte shared secret used by MAVLink message signing.
type SecretKey [32]byte

// Timestamp counts 10 microsecond units since 2015-01-01T00:00:00Z. Only the
// low 48 bits travel on the wire.
type Timestamp uint64

// MaxTimestamp ...
const MaxTimestamp Timestamp = 1<<48 - 1

var timestampEpoch = time.Date(2015, time.January, 1, 0, 0, 0, 0, time.UTC)

// TimestampFromTime ...
func TimestampFromTime(t time.Time) Timestamp {
	d := t.Sub(timestampEpoch)
	if d < 0 {
		return 0
	}
	ts := Timestamp(d / (10 * time.Microsecond))
	if ts > MaxTimestamp {
		return MaxTimestamp
	}
	return ts
}

// Time ...
func (ts Timestamp) Time() time.Time {
	return timestampEpoch.Add(time.Duration(ts) * 10 * time.Microsecond)
}

// Signature is the 13 byte trailer of a signed v2 frame.
type Signature struct {
	LinkID    uint8
	Timestamp Timestamp
	Value     [6]byte
}

func (s Signature) marshal(b []byte) {
	b[0] = s.LinkID
	putUint48(b[1:7], uint64(s.Timestamp))
	copy(b[7:13], s.Value[:])
}

func unmarshalSignature(b []byte) Signature {
	s := Signature{
		LinkID:    b[0],
		Timestamp: Timestamp(uint48(b[1:7])),
	}
	copy(s.Value[:], b[7:13])
	return s
}

// computeSignature returns the first 48 bits of
// sha256(key | header | payload | crc | link id | timestamp).
func computeSignature(key SecretKey, signed []byte, linkID uint8, ts Timestamp) [6]byte {
	var trailer [7]byte
	trailer[0] = linkID
	putUint48(trailer[1:], uint64(ts))

	h := sha256.New()
	h.Write(key[:])
	h.Write(signed)
	h.Write(trailer[:])

	var out [6]byte
	copy(out[:], h.Sum(nil))
	return out
}

func equalSignature(a, b [6]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

func putUint48(b []byte, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	copy(b[:6], tmp[:6])
}

func uint48(b []byte) uint64 {
	var tmp [8]byte
	copy(tmp[:6], b[:6])
	return binary.LittleEndian.Uint64(tmp[:])
}
