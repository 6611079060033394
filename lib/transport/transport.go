package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/config"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/identity"
	"github.com/go-i2p/go-rns/lib/ifac"
	"github.com/go-i2p/go-rns/lib/iface"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/oops"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ifaceEntry is an attached interface with its access code and announce
// ingress limiter.
type ifaceEntry struct {
	id      string
	iface   iface.Interface
	cfg     config.InterfaceConfig
	auth    *ifac.Authenticator
	limiter *rate.Limiter
	mtu     int
}

/*
[Transport]

Description
The routing context of one node. It is created at node start, shared by
every component that sends or receives, and torn down with Close. The
identity hash of the node identity is the transport id written into
relayed packets.
*/
type Transport struct {
	cfg      *config.NodeConfig
	identity *identity.Identity
	id       common.AddressHash
	clock    clock.Clock
	metrics  *metrics.Metrics

	ifMu       sync.RWMutex
	interfaces map[string]*ifaceEntry

	destMu       sync.RWMutex
	destinations map[common.AddressHash]*destination.Destination

	paths     *pathTable
	announces *announceCache
	hashlist  *lru.Cache[packetHash, struct{}]
	discovery *discoveryTable
	links     *linkTable
	transit   *transitTable
	requests  singleflight.Group

	subMu sync.RWMutex
	subs  map[*subscriber]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithMetrics records routing activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transport) { t.metrics = m }
}

// New creates a transport for the node identity id and starts its
// maintenance loop. A nil cfg uses the defaults and a nil id generates a
// fresh identity.
func New(cfg *config.NodeConfig, id *identity.Identity, opts ...Option) (*Transport, error) {
	if cfg == nil {
		cfg = config.DefaultNodeConfig()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if id == nil {
		var err error
		if id, err = identity.New(); err != nil {
			return nil, oops.Wrapf(err, "generating transport identity")
		}
	}
	t := &Transport{
		cfg:          cfg,
		identity:     id,
		id:           id.Hash(),
		clock:        clock.New(),
		interfaces:   make(map[string]*ifaceEntry),
		destinations: make(map[common.AddressHash]*destination.Destination),
		paths:        newPathTable(),
		links:        newLinkTable(),
		transit:      newTransitTable(),
		subs:         make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	var err error
	if t.announces, err = newAnnounceCache(cfg.Transport.AnnounceCacheSize, cfg.Transport.AnnounceDedupWindow); err != nil {
		return nil, err
	}
	if t.hashlist, err = lru.New[packetHash, struct{}](cfg.Transport.PacketHashlistSize); err != nil {
		return nil, oops.Wrapf(err, "creating packet hashlist")
	}
	if t.discovery, err = newDiscoveryTable(cfg.Transport.DiscoveryCacheSize); err != nil {
		return nil, err
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	ticker := t.clock.Ticker(cfg.Transport.MaintenanceInterval)
	t.wg.Add(1)
	go t.run(ticker)

	log.WithFields(logger.Fields{
		"at":           "transport.New",
		"reason":       "initialization",
		"transport_id": t.id.Short(),
		"enabled":      cfg.Transport.Enabled,
	}).Debug("transport started")
	return t, nil
}

// ID is the transport id of this node.
func (t *Transport) ID() common.AddressHash {
	return t.id
}

func (t *Transport) Identity() *identity.Identity {
	return t.identity
}

// Config returns the configuration the transport runs with.
func (t *Transport) Config() *config.NodeConfig {
	return t.cfg
}

// AddInterface attaches an interface. Access codes and the shared flag come
// from the interface configuration with the same name as the interface id.
// Interfaces implementing iface.Attacher are pointed at this transport.
func (t *Transport) AddInterface(i iface.Interface) error {
	if t.closed.Load() {
		return ErrClosed
	}
	id := i.ID()
	cfg, _ := t.cfg.Interface(id)
	e := &ifaceEntry{
		id:      id,
		iface:   i,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(t.cfg.Transport.AnnounceRate), t.cfg.Transport.AnnounceBurst),
		mtu:     packet.MTU,
	}
	if m, ok := i.(iface.MTUer); ok && m.MTU() > 0 {
		e.mtu = m.MTU()
	}
	if cfg.IFACEnabled() {
		auth, err := ifac.New(cfg.NetworkName, cfg.Passphrase, cfg.EffectiveIFACSize())
		if err != nil {
			return oops.Wrapf(err, "access code for interface %s", id)
		}
		e.auth = auth
	}

	t.ifMu.Lock()
	if _, ok := t.interfaces[id]; ok {
		t.ifMu.Unlock()
		return oops.Wrapf(ErrDuplicateInterface, "%s", id)
	}
	t.interfaces[id] = e
	t.ifMu.Unlock()

	if a, ok := i.(iface.Attacher); ok {
		a.Attach(t)
	}
	log.WithFields(logger.Fields{
		"at":        "(Transport) AddInterface",
		"reason":    "interface_attached",
		"interface": id,
		"ifac":      e.auth != nil,
	}).Debug("interface attached")
	return nil
}

// RemoveInterface detaches and closes an interface and forgets the paths
// and transit state that used it.
func (t *Transport) RemoveInterface(id string) error {
	t.ifMu.Lock()
	e, ok := t.interfaces[id]
	delete(t.interfaces, id)
	t.ifMu.Unlock()
	if !ok {
		return oops.Wrapf(ErrUnknownInterface, "%s", id)
	}
	dropped := t.paths.removeInterface(id)
	t.transit.dropInterface(id)
	t.metrics.SetPaths(t.paths.len())
	log.WithFields(logger.Fields{
		"at":            "(Transport) RemoveInterface",
		"reason":        "interface_removed",
		"interface":     id,
		"paths_dropped": dropped,
	}).Debug("interface detached")
	return e.iface.Close()
}

// Interfaces lists the ids of attached interfaces.
func (t *Transport) Interfaces() []string {
	t.ifMu.RLock()
	defer t.ifMu.RUnlock()
	out := make([]string, 0, len(t.interfaces))
	for id := range t.interfaces {
		out = append(out, id)
	}
	return out
}

func (t *Transport) interfaceEntry(id string) (*ifaceEntry, bool) {
	t.ifMu.RLock()
	defer t.ifMu.RUnlock()
	e, ok := t.interfaces[id]
	return e, ok
}

func (t *Transport) interfaceEntries() []*ifaceEntry {
	t.ifMu.RLock()
	defer t.ifMu.RUnlock()
	out := make([]*ifaceEntry, 0, len(t.interfaces))
	for _, e := range t.interfaces {
		out = append(out, e)
	}
	return out
}

// RegisterDestination makes an inbound destination reachable: DATA packets
// addressed to it are delivered, link requests are answered and path
// requests for it are answered with a path response.
func (t *Transport) RegisterDestination(d *destination.Destination) error {
	if d.Direction != destination.In {
		return oops.Wrapf(ErrInvalidDestination, "%s is not an inbound destination", d)
	}
	t.destMu.Lock()
	defer t.destMu.Unlock()
	if _, ok := t.destinations[d.Hash()]; ok {
		return oops.Wrapf(ErrDuplicateDestination, "%s", d)
	}
	t.destinations[d.Hash()] = d
	log.WithFields(logger.Fields{
		"at":          "(Transport) RegisterDestination",
		"reason":      "destination_registered",
		"destination": d.Hash().Short(),
		"name":        d.Name(),
	}).Debug("destination registered")
	return nil
}

// UnregisterDestination stops delivering to a local destination.
func (t *Transport) UnregisterDestination(hash common.AddressHash) bool {
	t.destMu.Lock()
	defer t.destMu.Unlock()
	_, ok := t.destinations[hash]
	delete(t.destinations, hash)
	return ok
}

// LocalDestinations returns the registered destinations, in no particular
// order.
func (t *Transport) LocalDestinations() []*destination.Destination {
	t.destMu.RLock()
	defer t.destMu.RUnlock()
	out := make([]*destination.Destination, 0, len(t.destinations))
	for _, d := range t.destinations {
		out = append(out, d)
	}
	return out
}

func (t *Transport) localDestination(hash common.AddressHash) (*destination.Destination, bool) {
	t.destMu.RLock()
	defer t.destMu.RUnlock()
	d, ok := t.destinations[hash]
	return d, ok
}

// send encodes p, applies the interface access code and hands the bytes to
// the interface.
func (t *Transport) send(e *ifaceEntry, p *packet.Packet) error {
	raw, err := p.Encode()
	if err != nil {
		return err
	}
	if e.auth != nil {
		if raw, err = e.auth.Apply(raw); err != nil {
			return err
		}
	}
	if len(raw) > e.mtu+t.ifacSize(e) {
		return oops.Wrapf(ErrMTUExceeded, "%d bytes on %s", len(raw), e.id)
	}
	if err := e.iface.Send(raw); err != nil {
		return oops.Wrapf(err, "sending on %s", e.id)
	}
	t.metrics.Sent(e.id)
	return nil
}

func (t *Transport) ifacSize(e *ifaceEntry) int {
	if e.auth == nil {
		return 0
	}
	return e.auth.Size()
}

// sendOn sends p on the interface with the given id.
func (t *Transport) sendOn(id string, p *packet.Packet) error {
	e, ok := t.interfaceEntry(id)
	if !ok {
		t.metrics.Dropped(metrics.DropInterfaceGone)
		return oops.Wrapf(ErrUnknownInterface, "%s", id)
	}
	return t.send(e, p)
}

// broadcast sends p on every interface except the one named except.
func (t *Transport) broadcast(p *packet.Packet, except string) error {
	var err error
	for _, e := range t.interfaceEntries() {
		if e.id == except {
			continue
		}
		err = multierr.Append(err, t.send(e, p))
	}
	return err
}

// Close tears down every link, stops the maintenance loop and closes every
// interface, reporting all close failures.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, e := range t.links.all() {
		if p, err := e.link.Teardown(); err == nil && p != nil {
			if err := t.sendLinkPacket(e.link, p); err != nil {
				log.WithFields(logger.Fields{
					"at":     "(Transport) Close",
					"reason": "teardown_send_failed",
					"link":   e.link.ID().Short(),
				}).WithError(err).Debug("could not notify peer")
			}
		}
		t.links.retire(e.link.ID(), t.clock.Now())
	}
	t.cancel()
	t.wg.Wait()

	t.ifMu.Lock()
	entries := make([]*ifaceEntry, 0, len(t.interfaces))
	for _, e := range t.interfaces {
		entries = append(entries, e)
	}
	t.interfaces = make(map[string]*ifaceEntry)
	t.ifMu.Unlock()

	var err error
	for _, e := range entries {
		if cerr := e.iface.Close(); cerr != nil {
			log.WithFields(logger.Fields{
				"at":        "(Transport) Close",
				"reason":    "interface_close_failed",
				"interface": e.id,
			}).WithError(cerr).Warn("error closing interface")
			err = multierr.Append(err, oops.Wrapf(cerr, "closing %s", e.id))
		}
	}
	log.WithFields(logger.Fields{
		"at":           "(Transport) Close",
		"reason":       "shutdown_complete",
		"transport_id": t.id.Short(),
	}).Debug("transport closed")
	return err
}

func (t *Transport) run(ticker *clock.Ticker) {
	defer t.wg.Done()
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case now := <-ticker.C:
			t.maintain(now)
		}
	}
}

func (t *Transport) now() time.Time {
	return t.clock.Now()
}
