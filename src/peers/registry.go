package peers

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/mavnode/src/frame"
)

// ErrReplay is returned by Touch for a signature timestamp at or before the
// last one accepted on the same link.
var ErrReplay = errors.New("peers: replayed signature timestamp")

type entry struct {
	key       Key
	firstSeen time.Time
	lastSeen  time.Time
	lastConn  string
	conns     map[string]time.Time
}

// snapshot copies e. links are the link timestamps recorded for its key.
func (e *entry) snapshot(links map[uint8]frame.Timestamp) Peer {
	p := Peer{
		Key:         e.key,
		FirstSeen:   e.firstSeen,
		LastSeen:    e.lastSeen,
		Connection:  e.lastConn,
		Connections: make([]string, 0, len(e.conns)),
		Links:       make(map[uint8]frame.Timestamp, len(links)),
	}
	for c := range e.conns {
		p.Connections = append(p.Connections, c)
	}
	sort.Strings(p.Connections)
	for l, ts := range links {
		p.Links[l] = ts
	}
	return p
}

// Registry is the set of live peers.
//
// The last signature timestamp accepted per (key, link) is kept apart from
// the peers and survives their expiry, so frames captured before a peer went
// silent are still rejected once it returns.
type Registry struct {
	sync.RWMutex
	timeout time.Duration
	peers   map[Key]*entry
	links   map[Key]map[uint8]frame.Timestamp
}

// NewRegistry returns an empty registry that expires peers not heard from for
// longer than timeout.
func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		timeout: timeout,
		peers:   make(map[Key]*entry),
		links:   make(map[Key]map[uint8]frame.Timestamp),
	}
}

// Timeout ...
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Touch records a valid frame from key received on conn at the given time.
// sig is the frame's verified signature, or nil when no replay check
// applies. first reports that the peer was not known before. On ErrReplay
// the registry is left unchanged, and the returned peer is the known one,
// or the zero Peer if key is not live.
func (r *Registry) Touch(key Key, conn string, at time.Time, sig *frame.Signature) (p Peer, first bool, err error) {
	r.Lock()
	defer r.Unlock()

	e, ok := r.peers[key]
	links := r.links[key]
	if sig != nil {
		if last, seen := links[sig.LinkID]; seen && sig.Timestamp <= last {
			if !ok {
				return Peer{}, false, ErrReplay
			}
			return e.snapshot(links), false, ErrReplay
		}
	}

	if !ok {
		e = &entry{
			key:       key,
			firstSeen: at,
			conns:     make(map[string]time.Time),
		}
		r.peers[key] = e
	}

	e.lastSeen = at
	e.lastConn = conn
	e.conns[conn] = at
	if sig != nil {
		if links == nil {
			links = make(map[uint8]frame.Timestamp)
			r.links[key] = links
		}
		links[sig.LinkID] = sig.Timestamp
	}

	return e.snapshot(links), !ok, nil
}

// Sweep removes and returns the peers last seen more than the timeout
// before now.
func (r *Registry) Sweep(now time.Time) []Peer {
	r.Lock()
	defer r.Unlock()

	var lost []Peer
	for k, e := range r.peers {
		if now.Sub(e.lastSeen) > r.timeout {
			lost = append(lost, e.snapshot(r.links[k]))
			delete(r.peers, k)
		}
	}
	sort.Sort(ByKey(lost))
	return lost
}

// DropConnection forgets a closed connection. Peers that were seen only on
// it are removed and returned. Peers also seen elsewhere fall back to the
// remaining connection they were most recently heard on.
func (r *Registry) DropConnection(conn string) []Peer {
	r.Lock()
	defer r.Unlock()

	var lost []Peer
	for k, e := range r.peers {
		if _, ok := e.conns[conn]; !ok {
			continue
		}
		delete(e.conns, conn)
		if len(e.conns) == 0 {
			e.lastConn = ""
			lost = append(lost, e.snapshot(r.links[k]))
			delete(r.peers, k)
			continue
		}
		if e.lastConn == conn {
			e.lastConn = ""
			var latest time.Time
			for c, at := range e.conns {
				if e.lastConn == "" || at.After(latest) {
					e.lastConn = c
					latest = at
				}
			}
		}
	}
	sort.Sort(ByKey(lost))
	return lost
}

// Clear removes and returns every peer. Link timestamps are kept.
func (r *Registry) Clear() []Peer {
	r.Lock()
	defer r.Unlock()

	res := make([]Peer, 0, len(r.peers))
	for k, e := range r.peers {
		res = append(res, e.snapshot(r.links[k]))
	}
	r.peers = make(map[Key]*entry)
	sort.Sort(ByKey(res))
	return res
}

// Get ...
func (r *Registry) Get(key Key) (Peer, bool) {
	r.RLock()
	defer r.RUnlock()

	e, ok := r.peers[key]
	if !ok {
		return Peer{}, false
	}
	return e.snapshot(r.links[key]), true
}

// Has ...
func (r *Registry) Has(key Key) bool {
	r.RLock()
	defer r.RUnlock()

	_, ok := r.peers[key]
	return ok
}

// Snapshot returns copies of every peer ordered by key.
func (r *Registry) Snapshot() []Peer {
	r.RLock()
	defer r.RUnlock()

	res := make([]Peer, 0, len(r.peers))
	for k, e := range r.peers {
		res = append(res, e.snapshot(r.links[k]))
	}
	sort.Sort(ByKey(res))
	return res
}

// Len ...
func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.peers)
}
