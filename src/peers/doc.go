// Package peers keeps track of the remote systems a node has heard from.
//
// A peer is identified by its (system id, component id) pair, the same pair
// every MAVLink frame carries in its header. The Registry creates a peer the
// first time a valid frame from its key arrives, refreshes its last-seen time
// on every following frame and forgets it once nothing was heard from it for
// longer than the liveness timeout.
//
// When signing is in use the registry also holds, per peer and per signing
// link, the timestamp of the last accepted signature. A frame whose signature
// timestamp does not move past that value is a replay and is refused without
// touching the peer. Checking and updating happen under the same lock, so two
// connections delivering the same signed frame cannot both be accepted.
package peers
