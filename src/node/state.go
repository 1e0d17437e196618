package node

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// State captures the state of a node: Running, Closing or Closed.
type State uint32

const (
	// Running is the initial state of a node.
	Running State = iota
	// Closing is set while Close tears connections down.
	Closing
	// Closed is final.
	Closed
)

// String ...
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type state struct {
	state State
	wg    sync.WaitGroup
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine locked to its own OS thread and add it to the waitgroup
func (b *state) goThread(f func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		f()
	}()
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
