package node

import (
	"time"

	"github.com/benbjohnson/clock"
)

// ControlTimer turns a ticker into signals on tickCh. A tick that arrives
// while the previous one is still being handled is skipped rather than
// queued, so a slow consumer never sees a burst of stale ticks.
type ControlTimer struct {
	ticker     *clock.Ticker
	period     time.Duration
	tickCh     chan struct{} //sends a signal to listening process
	shutdownCh chan struct{} //receives instruction to exit Run loop
}

// NewControlTimer creates the ticker right away, so ticks are counted from
// the call and not from when Run gets scheduled.
func NewControlTimer(c clock.Clock, period time.Duration) *ControlTimer {
	return &ControlTimer{
		ticker:     c.Ticker(period),
		period:     period,
		tickCh:     make(chan struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Run ...
func (c *ControlTimer) Run() {
	defer c.ticker.Stop()
	for {
		select {
		case <-c.ticker.C:
			select {
			case c.tickCh <- struct{}{}:
			case <-c.shutdownCh:
				return
			}
		case <-c.shutdownCh:
			return
		}
	}
}

// Shutdown ...
func (c *ControlTimer) Shutdown() {
	close(c.shutdownCh)
}
