package sign

import (
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/mavnode/src/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCodec = frame.NewCodec(frame.NewDialect("test",
	frame.MessageSpec{ID: 0, Name: "HEARTBEAT", CRCExtra: 50},
), false)

func testFrame() frame.Frame {
	return frame.New(frame.V2, 1, 1, 0, make([]byte, 9))
}

func TestStrategyParse(t *testing.T) {
	for _, st := range []Strategy{Sign, ReSign, Strict, Proxy, Strip} {
		got, err := ParseStrategy(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseStrategy("sometimes")
	assert.Error(t, err)
}

func TestSignStrategy(t *testing.T) {
	key := KeyFromPassphrase("secret")
	s := New(testCodec, 1, key)

	out, err := s.Outgoing(testFrame(), true)
	require.NoError(t, err)
	require.True(t, out.IsSigned())

	in, verified, err := s.Incoming(out)
	require.NoError(t, err)
	assert.True(t, verified)
	assert.True(t, in.IsSigned())

	_, verified, err = s.Incoming(testFrame())
	require.NoError(t, err, "Sign accepts unsigned frames")
	assert.False(t, verified)

	v1, err := s.Outgoing(testFrame().WithVersion(frame.V1), true)
	require.NoError(t, err)
	assert.False(t, v1.IsSigned())
}

func TestStrictStrategy(t *testing.T) {
	key := KeyFromPassphrase("secret")
	s := New(testCodec, 1, key, WithIncoming(Strict), WithOutgoing(Strict))

	_, _, err := s.Incoming(testFrame())
	require.ErrorIs(t, err, ErrUnsigned)

	_, err = s.Outgoing(testFrame().WithVersion(frame.V1), true)
	require.ErrorIs(t, err, ErrCannotSign)

	other := New(testCodec, 1, KeyFromPassphrase("other"))
	forged, err := other.Outgoing(testFrame(), true)
	require.NoError(t, err)
	_, _, err = s.Incoming(forged)
	require.ErrorIs(t, err, ErrInvalidSignature)

	remote := New(testCodec, 9, key)
	fromLink9, err := remote.Outgoing(testFrame(), true)
	require.NoError(t, err)
	_, _, err = s.Incoming(fromLink9)
	require.ErrorIs(t, err, ErrUnknownLink)

	withLink := New(testCodec, 1, key, WithIncoming(Strict), WithLink(9, key))
	_, verified, err := withLink.Incoming(fromLink9)
	require.NoError(t, err)
	assert.True(t, verified)
}

func TestProxyStripReSign(t *testing.T) {
	key := KeyFromPassphrase("secret")
	remote := New(testCodec, 7, KeyFromPassphrase("unknown"))
	signed, err := remote.Outgoing(testFrame(), true)
	require.NoError(t, err)

	proxy := New(testCodec, 1, key, WithIncoming(Proxy), WithOutgoing(Proxy))
	in, verified, err := proxy.Incoming(signed)
	require.NoError(t, err)
	assert.False(t, verified)
	assert.True(t, in.IsSigned())
	out, err := proxy.Outgoing(testFrame(), true)
	require.NoError(t, err)
	assert.False(t, out.IsSigned())

	strip := New(testCodec, 1, key, WithIncoming(Strip), WithOutgoing(Strip))
	in, _, err = strip.Incoming(signed)
	require.NoError(t, err)
	assert.False(t, in.IsSigned())
	assert.Zero(t, in.IncompatFlags()&frame.IncompatSigned)

	resign := New(testCodec, 1, key, WithOutgoing(ReSign))
	out, err = resign.Outgoing(signed, false)
	require.NoError(t, err)
	sig, _ := out.Signature()
	assert.Equal(t, uint8(1), sig.LinkID)
	require.NoError(t, testCodec.Verify(out, key))

	keep := New(testCodec, 1, key)
	out, err = keep.Outgoing(signed, false)
	require.NoError(t, err)
	sig, _ = out.Signature()
	assert.Equal(t, uint8(7), sig.LinkID, "Sign forwards signed frames unchanged")
}

func TestUniqueTimestamp(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u := NewUniqueTimestamp(func() time.Time { return fixed })

	const workers, each = 8, 100
	seen := make(map[frame.Timestamp]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				ts := u.Next()
				mu.Lock()
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*each {
		t.Fatalf("expected %d unique timestamps, got %d", workers*each, len(seen))
	}
	if u.Next() != frame.TimestampFromTime(fixed)+workers*each {
		t.Fatalf("timestamps should advance by one per call on a frozen clock")
	}
}

func TestParseKey(t *testing.T) {
	k, err := GenerateKey()
	require.NoError(t, err)
	parsed, err := ParseKey("0x" + EncodeKey(k))
	require.NoError(t, err)
	assert.Equal(t, k, parsed)

	_, err = ParseKey("abcd")
	assert.Error(t, err)
	_, err = ParseKey("zz")
	assert.Error(t, err)
}
