package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOut(t *testing.T) {
	b := NewBus[int](8)
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, 1, 2, 3))

	for _, s := range []*Subscription[int]{s1, s2} {
		for want := 1; want <= 3; want++ {
			got, err := s.Recv(ctx)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
		assert.Equal(t, uint64(3), s.Stats().Delivered)
	}
}

func TestLateSubscriberSeesOnlyNewItems(t *testing.T) {
	b := NewBus[string](4)
	early := b.Subscribe()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, "before"))
	late := b.Subscribe()
	require.NoError(t, b.Publish(ctx, "after"))

	v, _ := early.Recv(ctx)
	assert.Equal(t, "before", v)
	v, _ = late.Recv(ctx)
	assert.Equal(t, "after", v)
}

func TestBlockPolicyWaits(t *testing.T) {
	b := NewBus[int](1)
	s := b.Subscribe()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, 1))

	done := make(chan error, 1)
	go func() { done <- b.Publish(ctx, 2) }()

	select {
	case <-done:
		t.Fatalf("Publish should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	v, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, <-done)

	v, _ = s.Recv(ctx)
	assert.Equal(t, 2, v)
	assert.Zero(t, s.Stats().Dropped)
}

func TestBlockPolicyContext(t *testing.T) {
	b := NewBus[int](1)
	b.Subscribe()
	require.NoError(t, b.Publish(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, b.Publish(ctx, 2), context.DeadlineExceeded)
}

func TestDropOldest(t *testing.T) {
	var dropped []int
	b := NewBus[int](2,
		WithPolicy[int](DropOldest),
		WithDropCallback[int](func(i int) { dropped = append(dropped, i) }),
	)
	s := b.Subscribe()
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(ctx, i))
	}

	assert.Equal(t, uint64(3), s.Stats().Dropped)
	assert.Equal(t, []int{1, 2, 3}, dropped)
	v, _ := s.Recv(ctx)
	assert.Equal(t, 4, v)
	v, _ = s.Recv(ctx)
	assert.Equal(t, 5, v)
}

func TestUnsubscribeReleasesPublisher(t *testing.T) {
	b := NewBus[int](1)
	slow := b.Subscribe()
	other := b.Subscribe()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, 1))
	other.Recv(ctx)

	done := make(chan error, 1)
	go func() { done <- b.Publish(ctx, 2) }()
	time.Sleep(20 * time.Millisecond)
	slow.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("closing a subscriber should release blocked publishers")
	}

	v, err := other.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = slow.Recv(ctx)
	assert.ErrorIs(t, err, ErrUnsubscribed)
	assert.Equal(t, 1, b.Len())
}

func TestCloseDrainsThenTerminates(t *testing.T) {
	b := NewBus[int](4)
	s := b.Subscribe()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, 1, 2))
	b.Close()
	b.Close()

	require.ErrorIs(t, b.Publish(ctx, 3), ErrClosed)

	v, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, ok, err := s.TryRecv()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, err = s.Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = b.Subscribe().Recv(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseWakesReceiver(t *testing.T) {
	b := NewBus[int](4)
	s := b.Subscribe()

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Recv(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatalf("Close should wake blocked receivers")
	}
}

func TestBatchesStayContiguous(t *testing.T) {
	b := NewBus[[2]int](4)
	s := b.Subscribe()
	ctx := context.Background()

	const producers, batches = 4, 50
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < batches; i++ {
				b.Publish(ctx, [2]int{p, 0}, [2]int{p, 1})
			}
		}(p)
	}

	for n := 0; n < producers*batches; n++ {
		first, err := s.Recv(ctx)
		require.NoError(t, err)
		second, err := s.Recv(ctx)
		require.NoError(t, err)
		if first[1] != 0 || second[1] != 1 || first[0] != second[0] {
			t.Fatalf("batch split: %v then %v", first, second)
		}
	}
	wg.Wait()
}

func TestParsePolicy(t *testing.T) {
	for _, p := range []Policy{Block, DropOldest} {
		got, err := ParsePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	_, err := ParsePolicy("sometimes")
	assert.Error(t, err)
}
