package transport

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/packet"
)

// maxRandomBlobs bounds the announce random hashes remembered per path.
const maxRandomBlobs = 64

/*
[PathEntry]

Description
The route to one destination, learned from its most useful announce. NextHop
is the transport id of the relay that propagated the announce and is zero
when the destination is a direct neighbour. Hops counts the relays between
this node and the destination.
*/
type PathEntry struct {
	Destination common.AddressHash
	NextHop     common.AddressHash
	Hops        int
	Interface   string
	Timestamp   time.Time
	Expires     time.Time
	Emitted     time.Time
	PacketHash  []byte
	Identity    *identity.Identity
	AppData     []byte

	announce    *packet.Packet
	randomBlobs [][]byte
}

// Direct reports whether the destination is reached without a relay.
func (e PathEntry) Direct() bool {
	return e.Hops == 0 || e.NextHop.IsZero()
}

func (e *PathEntry) hasBlob(blob []byte) bool {
	for _, b := range e.randomBlobs {
		if bytes.Equal(b, blob) {
			return true
		}
	}
	return false
}

// shouldReplace applies the freshness rule. An announce whose random hash
// was already recorded never replaces the entry. Otherwise a lower hop count
// wins, an equal hop count wins when the announce is not older than the
// current one or the entry expired, and a higher hop count wins only when
// the entry expired.
func shouldReplace(old *PathEntry, hops int, emitted time.Time, blob []byte, now time.Time) bool {
	if old == nil {
		return true
	}
	if old.hasBlob(blob) {
		return false
	}
	expired := !now.Before(old.Expires)
	switch {
	case hops < old.Hops:
		return true
	case hops == old.Hops:
		return expired || !emitted.Before(old.Emitted)
	default:
		return expired
	}
}

type pathTable struct {
	mu      sync.RWMutex
	entries map[common.AddressHash]*PathEntry
	waiters map[common.AddressHash][]chan struct{}
}

func newPathTable() *pathTable {
	return &pathTable{
		entries: make(map[common.AddressHash]*PathEntry),
		waiters: make(map[common.AddressHash][]chan struct{}),
	}
}

// update installs candidate if the freshness rule allows it and wakes every
// waiter for the destination. It reports whether the table changed.
func (pt *pathTable) update(candidate *PathEntry, blob []byte, now time.Time) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	old := pt.entries[candidate.Destination]
	if !shouldReplace(old, candidate.Hops, candidate.Emitted, blob, now) {
		return false
	}
	if old != nil {
		candidate.randomBlobs = old.randomBlobs
	}
	candidate.randomBlobs = append(candidate.randomBlobs, append([]byte(nil), blob...))
	if n := len(candidate.randomBlobs); n > maxRandomBlobs {
		candidate.randomBlobs = candidate.randomBlobs[n-maxRandomBlobs:]
	}
	pt.entries[candidate.Destination] = candidate
	for _, ch := range pt.waiters[candidate.Destination] {
		close(ch)
	}
	delete(pt.waiters, candidate.Destination)
	return true
}

func (pt *pathTable) lookup(dest common.AddressHash) (PathEntry, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	e, ok := pt.entries[dest]
	if !ok {
		return PathEntry{}, false
	}
	return *e, true
}

func (pt *pathTable) remove(dest common.AddressHash) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	_, ok := pt.entries[dest]
	delete(pt.entries, dest)
	return ok
}

// removeInterface drops every path learned on the interface.
func (pt *pathTable) removeInterface(id string) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	n := 0
	for dest, e := range pt.entries {
		if e.Interface == id {
			delete(pt.entries, dest)
			n++
		}
	}
	return n
}

func (pt *pathTable) expire(now time.Time) int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	n := 0
	for dest, e := range pt.entries {
		if !now.Before(e.Expires) {
			delete(pt.entries, dest)
			n++
		}
	}
	return n
}

// snapshot returns a copy of every entry ordered by destination.
func (pt *pathTable) snapshot() []PathEntry {
	pt.mu.RLock()
	out := make([]PathEntry, 0, len(pt.entries))
	for _, e := range pt.entries {
		out = append(out, *e)
	}
	pt.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Destination[:], out[j].Destination[:]) < 0
	})
	return out
}

func (pt *pathTable) len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.entries)
}

// wait returns a channel closed when a path to dest is installed.
func (pt *pathTable) wait(dest common.AddressHash) chan struct{} {
	ch := make(chan struct{})
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.waiters[dest] = append(pt.waiters[dest], ch)
	return ch
}

func (pt *pathTable) cancelWait(dest common.AddressHash, ch chan struct{}) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	list := pt.waiters[dest]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(pt.waiters, dest)
		return
	}
	pt.waiters[dest] = list
}
