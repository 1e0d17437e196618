package peers

import (
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/mavnode/src/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTouchNewPeer(t *testing.T) {
	r := NewRegistry(time.Second)
	k := Key{SystemID: 1, ComponentID: 1}

	p, first, err := r.Touch(k, "a", t0, nil)
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, t0, p.FirstSeen)
	assert.Equal(t, "a", p.Connection)

	p, first, err = r.Touch(k, "b", t0.Add(time.Millisecond), nil)
	require.NoError(t, err)
	assert.False(t, first)
	assert.Equal(t, t0, p.FirstSeen)
	assert.Equal(t, "b", p.Connection)
	assert.Equal(t, []string{"a", "b"}, p.Connections)
	assert.Equal(t, 1, r.Len())
	assert.True(t, r.Has(k))
}

func TestTouchReplay(t *testing.T) {
	r := NewRegistry(time.Second)
	k := Key{SystemID: 7, ComponentID: 1}
	sig := &frame.Signature{LinkID: 2, Timestamp: 1000}

	_, _, err := r.Touch(k, "a", t0, sig)
	require.NoError(t, err)
	before, _ := r.Get(k)

	for _, ts := range []frame.Timestamp{1000, 999} {
		_, _, err = r.Touch(k, "b", t0.Add(time.Second), &frame.Signature{LinkID: 2, Timestamp: ts})
		require.ErrorIs(t, err, ErrReplay)
	}
	after, _ := r.Get(k)
	assert.Equal(t, before, after, "a replay must not update the peer")

	_, _, err = r.Touch(k, "a", t0, &frame.Signature{LinkID: 3, Timestamp: 5})
	require.NoError(t, err, "timestamps are tracked per link")

	p, _, err := r.Touch(k, "a", t0, &frame.Signature{LinkID: 2, Timestamp: 1001})
	require.NoError(t, err)
	assert.Equal(t, frame.Timestamp(1001), p.Links[2])
	assert.Equal(t, frame.Timestamp(5), p.Links[3])
}

func TestConcurrentReplay(t *testing.T) {
	r := NewRegistry(time.Second)
	k := Key{SystemID: 1, ComponentID: 1}
	r.Touch(k, "a", t0, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Touch(k, "a", t0, &frame.Signature{LinkID: 1, Timestamp: 42})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Fatalf("exactly one copy of a signed frame may be accepted, got %d", accepted)
	}
}

func TestSweep(t *testing.T) {
	r := NewRegistry(time.Second)
	a := Key{SystemID: 1, ComponentID: 1}
	b := Key{SystemID: 2, ComponentID: 1}
	r.Touch(a, "c", t0, nil)
	r.Touch(b, "c", t0.Add(800*time.Millisecond), nil)

	assert.Empty(t, r.Sweep(t0.Add(time.Second)), "exactly the timeout is still alive")

	lost := r.Sweep(t0.Add(1500 * time.Millisecond))
	require.Len(t, lost, 1)
	assert.Equal(t, a, lost[0].Key)
	assert.Empty(t, r.Sweep(t0.Add(1500*time.Millisecond)), "a peer is lost only once")

	lost = r.Sweep(t0.Add(time.Hour))
	require.Len(t, lost, 1)
	assert.Equal(t, b, lost[0].Key)
	assert.Zero(t, r.Len())
}

func TestDropConnection(t *testing.T) {
	r := NewRegistry(time.Second)
	only := Key{SystemID: 1, ComponentID: 1}
	both := Key{SystemID: 2, ComponentID: 1}
	r.Touch(only, "x", t0, nil)
	r.Touch(both, "y", t0, nil)
	r.Touch(both, "x", t0.Add(time.Millisecond), nil)

	lost := r.DropConnection("x")
	require.Len(t, lost, 1)
	assert.Equal(t, only, lost[0].Key)

	p, ok := r.Get(both)
	require.True(t, ok)
	assert.Equal(t, "y", p.Connection)
	assert.Equal(t, []string{"y"}, p.Connections)

	assert.Len(t, r.Clear(), 1)
	assert.Zero(t, r.Len())
}

func TestSnapshotIsCopy(t *testing.T) {
	r := NewRegistry(time.Second)
	k := Key{SystemID: 3, ComponentID: 4}
	r.Touch(k, "a", t0, &frame.Signature{LinkID: 1, Timestamp: 1})

	snap := r.Snapshot()
	snap[0].Links[1] = 99
	snap[0].Connections[0] = "z"

	p, _ := r.Get(k)
	assert.Equal(t, frame.Timestamp(1), p.Links[1])
	assert.Equal(t, "a", p.Connections[0])
	assert.Equal(t, "3:4", k.String())
}

func TestReplayAfterExpiry(t *testing.T) {
	r := NewRegistry(time.Second)
	k := Key{SystemID: 9, ComponentID: 1}
	sig := &frame.Signature{LinkID: 1, Timestamp: 1000}

	_, first, err := r.Touch(k, "a", t0, sig)
	require.NoError(t, err)
	require.True(t, first)

	require.Len(t, r.Sweep(t0.Add(5*time.Second)), 1)
	require.False(t, r.Has(k))

	p, first, err := r.Touch(k, "a", t0.Add(5*time.Second), sig)
	require.ErrorIs(t, err, ErrReplay)
	assert.False(t, first)
	assert.Equal(t, Peer{}, p)
	assert.False(t, r.Has(k), "a replay must not bring the peer back")

	r.Touch(k, "b", t0.Add(6*time.Second), nil)
	require.Len(t, r.DropConnection("b"), 1)
	r.Clear()
	_, _, err = r.Touch(k, "b", t0.Add(7*time.Second), &frame.Signature{LinkID: 1, Timestamp: 999})
	require.ErrorIs(t, err, ErrReplay, "dropping or clearing peers keeps link timestamps")

	p, first, err = r.Touch(k, "b", t0.Add(7*time.Second), &frame.Signature{LinkID: 1, Timestamp: 1001})
	require.NoError(t, err)
	assert.True(t, first)
	assert.Equal(t, frame.Timestamp(1001), p.Links[1])
}
