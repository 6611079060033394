package transport

import (
	"sync"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/samber/oops"
)

// packetHash is a full SHA-256 packet hash used as a cache key.
type packetHash [crypto.HashLength]byte

func hashOf(b []byte) packetHash {
	var h packetHash
	copy(h[:], b)
	return h
}

type announceCacheEntry struct {
	Destination common.AddressHash
	PacketHash  packetHash
	Timestamp   time.Time
	Hops        int
}

/*
[AnnounceCache]

Description
Bounded record of recently processed announce hashes. Entries are never
refreshed on lookup, so eviction always removes the oldest insertion. An
entry only suppresses duplicates while it is younger than the dedup window.
*/
type announceCache struct {
	mu     sync.Mutex
	window time.Duration
	lru    *simplelru.LRU[packetHash, announceCacheEntry]
}

func newAnnounceCache(size int, window time.Duration) (*announceCache, error) {
	l, err := simplelru.NewLRU[packetHash, announceCacheEntry](size, nil)
	if err != nil {
		return nil, oops.Wrapf(err, "creating announce cache of %d entries", size)
	}
	return &announceCache{window: window, lru: l}, nil
}

func (c *announceCache) fresh(e announceCacheEntry, now time.Time) bool {
	return now.Sub(e.Timestamp) < c.window
}

// checkAndInsert inserts e unless its hash is already cached within the
// window. It reports true for a duplicate.
func (c *announceCache) checkAndInsert(e announceCacheEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(e.PacketHash); ok {
		if c.fresh(old, e.Timestamp) {
			return true
		}
		c.lru.Remove(e.PacketHash)
	}
	c.lru.Add(e.PacketHash, e)
	return false
}

// cull removes entries that fell out of the window, oldest first.
func (c *announceCache) cull(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for {
		_, e, ok := c.lru.GetOldest()
		if !ok || c.fresh(e, now) {
			return n
		}
		c.lru.RemoveOldest()
		n++
	}
}

func (c *announceCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

type discoveryEntry struct {
	requester string
	expires   time.Time
}

/*
[DiscoveryTable]

Description
State for path discovery: the bounded set of path request tags already
handled, the interfaces waiting for a path response we forwarded a request
for, and the time of our own last request per destination.
*/
type discoveryTable struct {
	tags *lru.Cache[string, struct{}]

	mu          sync.Mutex
	pending     map[common.AddressHash]discoveryEntry
	lastRequest map[common.AddressHash]time.Time
}

func newDiscoveryTable(size int) (*discoveryTable, error) {
	tags, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, oops.Wrapf(err, "creating discovery cache of %d entries", size)
	}
	return &discoveryTable{
		tags:        tags,
		pending:     make(map[common.AddressHash]discoveryEntry),
		lastRequest: make(map[common.AddressHash]time.Time),
	}, nil
}

func tagKey(dest common.AddressHash, tag []byte) string {
	return string(dest[:]) + string(tag)
}

// seenTag records a request tag, reporting whether it was already known.
func (d *discoveryTable) seenTag(dest common.AddressHash, tag []byte) bool {
	ok, _ := d.tags.ContainsOrAdd(tagKey(dest, tag), struct{}{})
	return ok
}

func (d *discoveryTable) addPending(dest common.AddressHash, requester string, expires time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[dest] = discoveryEntry{requester: requester, expires: expires}
}

// takePending removes and returns the requester waiting for dest.
func (d *discoveryTable) takePending(dest common.AddressHash, now time.Time) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.pending[dest]
	if !ok {
		return "", false
	}
	delete(d.pending, dest)
	if !now.Before(e.expires) {
		return "", false
	}
	return e.requester, true
}

// mayRequest reports whether a new request for dest may be emitted at now
// and records it if so.
func (d *discoveryTable) mayRequest(dest common.AddressHash, now time.Time, interval time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastRequest[dest]; ok && now.Sub(last) < interval {
		return false
	}
	d.lastRequest[dest] = now
	return true
}

func (d *discoveryTable) expire(now time.Time, interval time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for dest, e := range d.pending {
		if !now.Before(e.expires) {
			delete(d.pending, dest)
		}
	}
	for dest, last := range d.lastRequest {
		if now.Sub(last) >= interval {
			delete(d.lastRequest, dest)
		}
	}
}
