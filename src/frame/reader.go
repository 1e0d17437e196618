package frame

import (
	"errors"
	"io"
)

// Reader pulls frames out of a byte stream. Bytes that cannot be part of a
// frame are reported as *DecodeError and the reader resynchronises on the
// next magic byte.
//
// A refused candidate only costs its magic byte and the non-magic bytes that
// follow it. Everything from the next magic byte on is scanned again, so a
// stray 0xFD or 0xFE in front of a valid frame never swallows that frame.
type Reader struct {
	r     io.Reader
	codec *Codec
	buf   []byte
	chunk []byte
	err   error
}

// NewReader ...
func NewReader(r io.Reader, c *Codec) *Reader {
	return &Reader{
		r:     r,
		codec: c,
		buf:   make([]byte, 0, 4*MaxFrameLen),
		chunk: make([]byte, 2*MaxFrameLen),
	}
}

// Next returns the next frame. A *DecodeError means malformed input was
// skipped and Next can be called again. Any other error comes from the
// underlying reader and is returned again by every later call, once the
// buffered bytes are used up.
func (r *Reader) Next() (Frame, error) {
	for {
		i := magicIndex(r.buf)
		switch {
		case i > 0:
			return Frame{}, r.skip(i, &DecodeError{Err: ErrBadMagic})
		case i < 0 && len(r.buf) > 0 && (len(r.buf) >= MaxFrameLen || r.err != nil):
			return Frame{}, r.skip(len(r.buf), &DecodeError{Err: ErrBadMagic})
		case i == 0:
			if f, done, err := r.candidate(); done {
				return f, err
			}
		}

		if !r.fill() && len(r.buf) == 0 {
			return Frame{}, r.err
		}
	}
}

// candidate decodes the frame starting at buf[0]. done is false when more
// bytes are needed first.
func (r *Reader) candidate() (Frame, bool, error) {
	need := 3
	if len(r.buf) >= need {
		need, _ = FrameLen(r.buf)
	}
	if len(r.buf) < need {
		if r.err == nil {
			return Frame{}, false, nil
		}
		return Frame{}, true, r.resync(&DecodeError{Err: ErrShortFrame})
	}

	f, n, err := r.codec.Decode(r.buf[:need])
	if err != nil {
		derr := &DecodeError{Err: err}
		errors.As(err, &derr)
		return Frame{}, true, r.resync(derr)
	}
	r.consume(n)
	return f, true, nil
}

// resync drops the magic byte of a refused candidate together with the junk
// after it, up to the next magic byte already buffered.
func (r *Reader) resync(derr *DecodeError) error {
	n := len(r.buf)
	if i := magicIndex(r.buf[1:]); i >= 0 {
		n = 1 + i
	}
	return r.skip(n, derr)
}

func (r *Reader) skip(n int, derr *DecodeError) error {
	derr.Raw = clone(r.buf[:n])
	r.consume(n)
	return derr
}

func (r *Reader) consume(n int) {
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

// fill reads once from the underlying reader. It reports false when the
// reader has failed and no bytes came with the failure.
func (r *Reader) fill() bool {
	if r.err != nil {
		return false
	}
	n, err := r.r.Read(r.chunk)
	r.buf = append(r.buf, r.chunk[:n]...)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		r.err = err
	}
	return n > 0 || err == nil
}

func magicIndex(b []byte) int {
	for i, c := range b {
		if c == MagicV1 || c == MagicV2 {
			return i
		}
	}
	return -1
}
