// Package link implements the encrypted point to point link: the
// request/proof handshake, session key derivation, sequenced data and
// teardown. Link lifetime is owned by the transport link table; this
// package only moves a link through its states.
package link

import (
	"crypto/ed25519"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/config"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

const (
	// EphemeralKeySize is x25519_pub(32) || ed25519_pub(32).
	EphemeralKeySize = crypto.X25519KeySize + crypto.Ed25519PublicKeySize
	// SignallingSize is the optional MTU/mode trailer of requests and proofs.
	SignallingSize = 3
	// envelopeHeaderSize is msgtype(2) | sequence(2) | length(2).
	envelopeHeaderSize = 6
)

// MDU returns the largest plaintext that fits one encrypted link packet for
// the given MTU.
func MDU(mtu int) int {
	return ((mtu-packet.IFACMinSize-packet.HeaderMinSize-crypto.TokenOverhead)/16)*16 - 1
}

// MaxPayload is the largest Send payload at the default MTU.
var MaxPayload = MDU(packet.MTU) - envelopeHeaderSize

/*
[Link]

Description
One end of an encrypted link. The initiator is created with NewInitiator
and the responder with Accept. All state transitions happen under the link
mutex; events are pushed to a per link actor so the handler sees them in
order without holding the mutex.
*/
type Link struct {
	mu sync.Mutex

	id          common.AddressHash
	destination *destination.Destination
	initiator   bool
	state       State
	reason      CloseReason

	prv        []byte
	pub        []byte
	sigPriv    ed25519.PrivateKey
	peerPub    []byte
	peerSigPub []byte

	derivedKey []byte
	token      *crypto.Token

	txSeq   uint16
	rxNext  uint16
	seenRaw map[[crypto.HashLength]byte]struct{}

	createdAt     time.Time
	requestedAt   time.Time
	activatedAt   time.Time
	lastInbound   time.Time
	lastOutbound  time.Time
	lastKeepalive time.Time
	rtt           time.Duration

	hops        int
	mtu         int
	proofFailed bool
	announced   bool

	cfg    config.LinkConfig
	clock  clock.Clock
	events *eventQueue

	attachedInterface string
}

// Option configures a link at construction.
type Option func(*Link)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(l *Link) { l.clock = c }
}

// WithHandler installs the event handler.
func WithHandler(h Handler) Option {
	return func(l *Link) { l.events.handler = h }
}

// WithConfig sets the link timing policy.
func WithConfig(cfg config.LinkConfig) Option {
	return func(l *Link) { l.cfg = cfg }
}

// WithHops sets the hop count used to scale the establishment timeout.
func WithHops(hops int) Option {
	return func(l *Link) { l.hops = hops }
}

func newLink(dest *destination.Destination, initiator bool, opts []Option) *Link {
	l := &Link{
		destination: dest,
		initiator:   initiator,
		cfg:         config.Defaults().Link,
		clock:       clock.New(),
		events:      &eventQueue{},
		mtu:         packet.MTU,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.createdAt = l.clock.Now()
	return l
}

// NewInitiator prepares a link to an outbound single destination. Request
// must be called to produce the link request packet.
func NewInitiator(dest *destination.Destination, opts ...Option) (*Link, error) {
	if dest.Type != packet.Single || dest.Identity() == nil {
		return nil, oops.Wrapf(ErrInvalidRequest, "links need a single destination with an identity")
	}
	l := newLink(dest, true, opts)
	var err error
	if l.prv, l.pub, err = crypto.GenerateX25519(); err != nil {
		return nil, err
	}
	if l.sigPriv, err = crypto.GenerateEd25519(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) ID() common.AddressHash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// CloseReason is ReasonNone until the link is closed.
func (l *Link) CloseReason() CloseReason {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

func (l *Link) Initiator() bool {
	return l.initiator
}

// Destination is the peer destination for an initiator and the local
// destination for a responder.
func (l *Link) Destination() *destination.Destination {
	return l.destination
}

func (l *Link) RTT() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rtt
}

func (l *Link) MTU() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mtu
}

func (l *Link) LastInbound() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastInbound
}

// AttachedInterface is the interface the link was established over.
func (l *Link) AttachedInterface() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attachedInterface
}

func (l *Link) SetAttachedInterface(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attachedInterface = id
}

// Activate emits the activated event of an accepted link. Accept leaves
// this to the owner, which calls it once the link can be looked up.
// Repeated calls and calls on a link that is not active do nothing.
func (l *Link) Activate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activateLocked()
}

func (l *Link) activateLocked() {
	if l.state != StateActive || l.announced {
		return
	}
	l.announced = true
	l.events.emit(Event{LinkID: l.id, Type: EventActivated})
}

func (l *Link) String() string {
	return "<link " + l.ID().String() + ">"
}

// Close moves the link to Closed with reason and emits the closed event.
// It reports false if the link was already closed.
func (l *Link) Close(reason CloseReason) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(reason)
}

func (l *Link) closeLocked(reason CloseReason) bool {
	if l.state == StateClosed {
		return false
	}
	l.state = StateClosed
	l.reason = reason
	l.prv = nil
	l.token = nil
	l.seenRaw = nil
	log.WithFields(logger.Fields{
		"at":     "(Link) close",
		"link":   l.id.Short(),
		"reason": reason.String(),
	}).Debug("link closed")
	l.events.emit(Event{LinkID: l.id, Type: EventClosed, Reason: reason})
	return true
}

func (l *Link) establishmentTimeout() time.Duration {
	hops := l.hops
	if hops < 1 {
		hops = 1
	}
	return l.cfg.EstablishmentTimeoutPerHop * time.Duration(hops)
}

// CheckTimeout runs the link watchdog at now. It closes links whose
// handshake or inactivity deadline passed, and returns a keepalive packet
// when the initiator should send one.
func (l *Link) CheckTimeout(now time.Time) (*packet.Packet, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StatePending, StateAwaitingProof:
		if now.Sub(l.createdAt) >= l.establishmentTimeout() {
			reason := ReasonHandshakeTimeout
			if l.proofFailed {
				reason = ReasonHandshakeFailed
			}
			l.closeLocked(reason)
			return nil, true
		}
	case StateActive:
		idle := now.Sub(l.lastInbound)
		if idle >= l.cfg.InactivityTimeout {
			l.closeLocked(ReasonTimeout)
			return nil, true
		}
		if l.initiator && idle >= l.cfg.KeepaliveInterval && now.Sub(l.lastKeepalive) >= l.cfg.KeepaliveInterval {
			l.lastKeepalive = now
			l.lastOutbound = now
			return l.keepaliveLocked(keepaliveRequest), false
		}
	case StateClosed:
		return nil, true
	}
	return nil, false
}
