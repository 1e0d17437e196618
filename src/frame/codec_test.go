package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/require"
)

var testDialect = NewDialect("test",
	MessageSpec{ID: 0, Name: "HEARTBEAT", CRCExtra: 50},
	MessageSpec{ID: 4, Name: "PING", CRCExtra: 237},
	MessageSpec{ID: 300, Name: "PROTOCOL_VERSION", CRCExtra: 217},
)

func TestCRCCheckValue(t *testing.T) {
	crc := crcInit
	for _, b := range []byte("123456789") {
		crc = crcAccumulate(b, crc)
	}
	if crc != 0x6F91 {
		t.Fatalf("CRC-16/MCRF4XX check value should be 0x6F91, not 0x%04X", crc)
	}
}

func TestEncodeDecodeV1(t *testing.T) {
	c := NewCodec(testDialect, false)
	f := New(V1, 1, 2, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}).WithSequence(42)

	b, err := c.Encode(f)
	require.NoError(t, err)
	require.Len(t, b, HeaderLenV1+9+ChecksumLen)
	require.Equal(t, MagicV1, b[0])

	got, n, err := c.Decode(b)
	require.NoError(t, err)
	require.Equal(t, len(b), n)
	require.Equal(t, V1, got.Version())
	require.Equal(t, uint8(42), got.Sequence())
	require.Equal(t, uint8(1), got.SystemID())
	require.Equal(t, uint8(2), got.ComponentID())
	require.Equal(t, f.Payload(), got.Payload())
}

func TestEncodeDecodeV2(t *testing.T) {
	c := NewCodec(testDialect, false)
	f := New(V2, 255, 190, 300, []byte("protocol")).WithSequence(7)

	b, err := c.Encode(f)
	require.NoError(t, err)
	require.Equal(t, MagicV2, b[0])

	got, _, err := c.Decode(b)
	require.NoError(t, err)
	require.Equal(t, uint32(300), got.MessageID())
	require.Equal(t, uint8(7), got.Sequence())
	require.False(t, got.IsSigned())
}

func TestEncodeErrors(t *testing.T) {
	c := NewCodec(testDialect, false)

	if _, err := c.Encode(New(V1, 1, 1, 300, nil)); !errors.Is(err, ErrMessageIDRange) {
		t.Fatalf("v1 cannot carry message 300, got %v", err)
	}
	if _, err := c.Encode(New(V2, 1, 1, 4, make([]byte, 256))); !errors.Is(err, ErrPayloadTooLong) {
		t.Fatalf("expected ErrPayloadTooLong, got %v", err)
	}
	if _, err := c.Encode(New(V2, 1, 1, 99, nil)); !errors.Is(err, ErrUnknownMessage) {
		t.Fatalf("expected ErrUnknownMessage, got %v", err)
	}
}

func TestDecodeChecksumFailure(t *testing.T) {
	c := NewCodec(testDialect, false)
	b, err := c.Encode(New(V2, 1, 1, 4, []byte{9, 9, 9}))
	require.NoError(t, err)

	b[HeaderLenV2] ^= 0xFF

	_, n, err := c.Decode(b)
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.ErrorIs(t, err, ErrChecksum)
	require.Equal(t, len(b), n)
	require.Equal(t, b, derr.Raw)
	require.Nil(t, derr.Partial)
}

func TestDecodeUnknownMessage(t *testing.T) {
	loose := NewCodec(nil, true)
	b, err := loose.Encode(New(V2, 1, 1, 77, []byte{1}))
	require.NoError(t, err)

	if _, _, err := loose.Decode(b); err != nil {
		t.Fatalf("allowUnknown codec should accept message 77: %v", err)
	}

	strict := NewCodec(testDialect, false)
	_, _, err = strict.Decode(b)
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.ErrorIs(t, err, ErrUnknownMessage)
	require.NotNil(t, derr.Partial)
	require.Equal(t, uint32(77), derr.Partial.MessageID())
}

func TestPayloadIsCopied(t *testing.T) {
	src := []byte{1, 2, 3}
	f := New(V2, 1, 1, 4, src)
	src[0] = 99

	p := f.Payload()
	require.Equal(t, byte(1), p[0])
	p[1] = 99
	require.Equal(t, byte(2), f.Payload()[1])
}

func TestSignVerify(t *testing.T) {
	c := NewCodec(testDialect, false)
	key := SecretKey{1, 2, 3}
	ts := TimestampFromTime(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))

	signed, err := c.Sign(New(V2, 1, 1, 4, []byte{1, 2, 3}), 3, ts, key)
	require.NoError(t, err)
	require.True(t, signed.IsSigned())
	require.Equal(t, IncompatSigned, signed.IncompatFlags()&IncompatSigned)
	require.NoError(t, c.Verify(signed, key))

	b, err := c.Encode(signed)
	require.NoError(t, err)
	require.Len(t, b, HeaderLenV2+3+ChecksumLen+SignatureLen)

	decoded, _, err := c.Decode(b)
	require.NoError(t, err)
	sig, ok := decoded.Signature()
	require.True(t, ok)
	require.Equal(t, uint8(3), sig.LinkID)
	require.Equal(t, ts, sig.Timestamp)
	require.NoError(t, c.Verify(decoded, key))

	require.ErrorIs(t, c.Verify(decoded, SecretKey{4}), ErrInvalidSignature)
	require.ErrorIs(t, c.Verify(decoded.WithoutSignature(), key), ErrUnsigned)

	_, err = c.Sign(New(V1, 1, 1, 4, nil), 0, ts, key)
	require.ErrorIs(t, err, ErrSignedV1)
}

func TestTimestamp(t *testing.T) {
	at := time.Date(2015, 1, 1, 0, 0, 1, 0, time.UTC)
	if ts := TimestampFromTime(at); ts != 100000 {
		t.Fatalf("one second after the epoch is 100000 units, got %d", ts)
	}
	if ts := TimestampFromTime(time.Unix(0, 0)); ts != 0 {
		t.Fatalf("times before the epoch clamp to 0, got %d", ts)
	}
	if !TimestampFromTime(at).Time().Equal(at) {
		t.Fatalf("Time should invert TimestampFromTime")
	}
}

func TestReaderResync(t *testing.T) {
	c := NewCodec(testDialect, false)
	a, _ := c.Encode(New(V2, 1, 1, 4, []byte("first")).WithSequence(1))
	b, _ := c.Encode(New(V1, 1, 1, 0, make([]byte, 9)).WithSequence(2))
	bad, _ := c.Encode(New(V2, 1, 1, 4, []byte("broken")))
	bad[len(bad)-1] ^= 0x01

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x11, 0x22})
	stream.Write(a)
	stream.Write(bad)
	stream.Write(b)
	stream.Write(a[:5])

	r := NewReader(&stream, c)

	_, err := r.Next()
	var derr *DecodeError
	require.ErrorAs(t, err, &derr)
	require.ErrorIs(t, err, ErrBadMagic)
	require.Equal(t, []byte{0x00, 0x11, 0x22}, derr.Raw)

	f, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, uint8(1), f.Sequence())

	_, err = r.Next()
	require.ErrorIs(t, err, ErrChecksum)

	f, err = r.Next()
	require.NoError(t, err)
	require.Equal(t, V1, f.Version())
	require.Equal(t, uint8(2), f.Sequence())

	_, err = r.Next()
	require.ErrorIs(t, err, ErrShortFrame)

	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
	_, err = r.Next()
	require.ErrorIs(t, err, io.EOF)
}

func TestReaderStrayMagic(t *testing.T) {
	c := NewCodec(testDialect, false)

	var stream []byte
	stream = append(stream, MagicV2, 40, 0x00)
	for seq := uint8(0); seq < 3; seq++ {
		b, err := c.Encode(New(V2, 1, 1, 4, []byte{seq, 0, 0, 0}).WithSequence(seq))
		require.NoError(t, err)
		stream = append(stream, b...)
	}

	readers := map[string]func() io.Reader{
		"whole":    func() io.Reader { return bytes.NewReader(stream) },
		"bytewise": func() io.Reader { return iotest.OneByteReader(bytes.NewReader(stream)) },
	}
	for name, mk := range readers {
		t.Run(name, func(t *testing.T) {
			r := NewReader(mk(), c)

			_, err := r.Next()
			var derr *DecodeError
			require.ErrorAs(t, err, &derr)
			require.ErrorIs(t, err, ErrUnknownMessage)
			require.Equal(t, []byte{MagicV2, 40, 0x00}, derr.Raw)

			for seq := uint8(0); seq < 3; seq++ {
				f, err := r.Next()
				require.NoError(t, err)
				require.Equal(t, seq, f.Sequence())
			}

			_, err = r.Next()
			require.ErrorIs(t, err, io.EOF)
		})
	}
}
