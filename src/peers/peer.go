package peers

import (
	"fmt"
	"time"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

// Key identifies a peer.
type Key struct {
	SystemID    uint8 `json:"system_id"`
	ComponentID uint8 `json:"component_id"`
}

// KeyOf returns the key of the frame's sender.
func KeyOf(f frame.Frame) Key {
	return Key{SystemID: f.SystemID(), ComponentID: f.ComponentID()}
}

// String ...
func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.SystemID, k.ComponentID)
}

// Peer is a snapshot of what the registry knows about a remote system.
type Peer struct {
	Key       Key       `json:"key"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	// Connection is the id of the connection that carried the latest frame.
	Connection string `json:"connection"`
	// Connections lists every open connection the peer was seen on.
	Connections []string `json:"connections"`
	// Links maps signing link ids to the last accepted signature timestamp.
	Links map[uint8]frame.Timestamp `json:"links,omitempty"`
}

// Alive reports whether the peer was heard from within timeout of now.
func (p Peer) Alive(now time.Time, timeout time.Duration) bool {
	return now.Sub(p.LastSeen) <= timeout
}

// ByKey implements sort.Interface for Peers based on their Key.
type ByKey []Peer

func (a ByKey) Len() int      { return len(a) }
func (a ByKey) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a ByKey) Less(i, j int) bool {
	ai := a[i].Key
	aj := a[j].Key
	if ai.SystemID != aj.SystemID {
		return ai.SystemID < aj.SystemID
	}
	return ai.ComponentID < aj.ComponentID
}
