package transport

import (
	"sync"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/link"
	"github.com/samber/oops"
)

// linkEntry is the table slot of one local link. settled is closed once
// the link leaves the handshake, either Active or Closed.
type linkEntry struct {
	link    *link.Link
	settled chan struct{}
	once    sync.Once
}

func newLinkEntry() *linkEntry {
	return &linkEntry{settled: make(chan struct{})}
}

func (e *linkEntry) settle() {
	e.once.Do(func() { close(e.settled) })
}

/*
[LinkTable]

Description
Arena of local links keyed by link id. Everything outside the table refers
to a link by id. Closed ids stay reserved until their retention passes so
late packets cannot resurrect them.
*/
type linkTable struct {
	mu     sync.RWMutex
	active map[common.AddressHash]*linkEntry
	closed map[common.AddressHash]time.Time
}

func newLinkTable() *linkTable {
	return &linkTable{
		active: make(map[common.AddressHash]*linkEntry),
		closed: make(map[common.AddressHash]time.Time),
	}
}

func (lt *linkTable) insert(id common.AddressHash, e *linkEntry) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if _, ok := lt.active[id]; ok {
		return oops.Wrapf(ErrTableCapacityExceeded, "link id %s already in use", id.Short())
	}
	if _, ok := lt.closed[id]; ok {
		return oops.Wrapf(ErrTableCapacityExceeded, "link id %s was closed", id.Short())
	}
	lt.active[id] = e
	return nil
}

func (lt *linkTable) get(id common.AddressHash) (*linkEntry, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	e, ok := lt.active[id]
	return e, ok
}

func (lt *linkTable) isClosed(id common.AddressHash) bool {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	_, ok := lt.closed[id]
	return ok
}

// retire moves id from the active set to the closed set until until.
func (lt *linkTable) retire(id common.AddressHash, until time.Time) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, ok := lt.active[id]
	delete(lt.active, id)
	lt.closed[id] = until
	return ok
}

func (lt *linkTable) all() []*linkEntry {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	out := make([]*linkEntry, 0, len(lt.active))
	for _, e := range lt.active {
		out = append(out, e)
	}
	return out
}

// forget drops closed ids whose retention passed.
func (lt *linkTable) forget(now time.Time) int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	n := 0
	for id, until := range lt.closed {
		if !now.Before(until) {
			delete(lt.closed, id)
			n++
		}
	}
	return n
}

func (lt *linkTable) len() int {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return len(lt.active)
}

// transitLink is a link relayed by this node. toDestination faces the
// responder and toInitiator the side the request came from.
type transitLink struct {
	toDestination string
	toInitiator   string
	lastSeen      time.Time
}

// reverseEntry routes proofs of a relayed packet back to its sender.
type reverseEntry struct {
	receivedOn string
	timestamp  time.Time
}

type transitTable struct {
	mu      sync.Mutex
	links   map[common.AddressHash]*transitLink
	reverse map[common.AddressHash]reverseEntry
}

func newTransitTable() *transitTable {
	return &transitTable{
		links:   make(map[common.AddressHash]*transitLink),
		reverse: make(map[common.AddressHash]reverseEntry),
	}
}

func (tt *transitTable) addLink(id common.AddressHash, toDestination, toInitiator string, now time.Time) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.links[id] = &transitLink{toDestination: toDestination, toInitiator: toInitiator, lastSeen: now}
}

// linkRoute returns the interface a packet for a relayed link that arrived
// on from should leave on.
func (tt *transitTable) linkRoute(id common.AddressHash, from string, towardInitiator bool, now time.Time) (string, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tl, ok := tt.links[id]
	if !ok {
		return "", false
	}
	tl.lastSeen = now
	switch {
	case tl.toDestination == tl.toInitiator:
		return tl.toDestination, true
	case from == tl.toDestination || towardInitiator:
		return tl.toInitiator, true
	default:
		return tl.toDestination, true
	}
}

func (tt *transitTable) addReverse(h common.AddressHash, receivedOn string, now time.Time) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	tt.reverse[h] = reverseEntry{receivedOn: receivedOn, timestamp: now}
}

// takeReverse removes and returns the reverse entry for a packet hash.
func (tt *transitTable) takeReverse(h common.AddressHash) (string, bool) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	e, ok := tt.reverse[h]
	delete(tt.reverse, h)
	return e.receivedOn, ok
}

func (tt *transitTable) expire(now time.Time, linkTimeout, reverseTimeout time.Duration) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for id, tl := range tt.links {
		if now.Sub(tl.lastSeen) >= linkTimeout {
			delete(tt.links, id)
		}
	}
	for h, e := range tt.reverse {
		if now.Sub(e.timestamp) >= reverseTimeout {
			delete(tt.reverse, h)
		}
	}
}

// dropInterface forgets transit state that used the interface.
func (tt *transitTable) dropInterface(id string) {
	tt.mu.Lock()
	defer tt.mu.Unlock()
	for lid, tl := range tt.links {
		if tl.toDestination == id || tl.toInitiator == id {
			delete(tt.links, lid)
		}
	}
	for h, e := range tt.reverse {
		if e.receivedOn == id {
			delete(tt.reverse, h)
		}
	}
}
