// Package dispatch fans events out to any number of subscribers.
//
// Every Subscription owns a bounded queue. Publishing copies each item into
// the queue of every current subscriber and applies the bus's overflow
// policy when a queue is full:
//
//   - Block: the publisher waits for room. Nothing is ever dropped, so a
//     slow subscriber slows its producer down.
//   - DropOldest: the oldest queued item is discarded to make room and the
//     drop is counted.
//
// A batch given to one Publish call is delivered contiguously to each
// subscriber, with no item of another batch in between.
//
// Closing the bus wakes every blocked publisher and subscriber. Subscribers
// still receive what was queued before the close and then get ErrClosed.
package dispatch
