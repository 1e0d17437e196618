package sign

import (
	"sync/atomic"
	"time"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

// UniqueTimestamp hands out strictly increasing signing timestamps. When the
// wall clock has not advanced by one 10us unit since the last call, the
// previous value plus one is returned instead.
type UniqueTimestamp struct {
	last atomic.Uint64
	now  func() time.Time
}

// NewUniqueTimestamp ...
func NewUniqueTimestamp(now func() time.Time) *UniqueTimestamp {
	return &UniqueTimestamp{now: now}
}

// DefaultTimestamp is shared by every signer of the process unless one is
// given its own.
var DefaultTimestamp = NewUniqueTimestamp(time.Now)

// Next ...
func (u *UniqueTimestamp) Next() frame.Timestamp {
	now := uint64(frame.TimestampFromTime(u.now()))
	for {
		last := u.last.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if u.last.CompareAndSwap(last, next) {
			return frame.Timestamp(next)
		}
	}
}
