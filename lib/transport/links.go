package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/link"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// DefaultEventBuffer is the channel capacity of a link event subscription.
const DefaultEventBuffer = 256

/*
[LinkHandle]

Description
A collaborator's reference to a link. It holds only the link id; every
operation looks the link up in the link table, so a handle to a link that
was closed reports link.ErrLinkClosed instead of touching freed state.
*/
type LinkHandle struct {
	t  *Transport
	id common.AddressHash
}

func (h *LinkHandle) ID() common.AddressHash {
	return h.id
}

func (h *LinkHandle) lookup() (*link.Link, error) {
	e, ok := h.t.links.get(h.id)
	if !ok {
		return nil, oops.Wrapf(link.ErrLinkClosed, "link %s", h.id.Short())
	}
	return e.link, nil
}

// State is StateClosed once the link left the table.
func (h *LinkHandle) State() link.State {
	l, err := h.lookup()
	if err != nil {
		return link.StateClosed
	}
	return l.State()
}

func (h *LinkHandle) RTT() time.Duration {
	l, err := h.lookup()
	if err != nil {
		return 0
	}
	return l.RTT()
}

// Send transmits data over the link.
func (h *LinkHandle) Send(data []byte) error {
	l, err := h.lookup()
	if err != nil {
		return err
	}
	p, err := l.Send(data)
	if err != nil {
		return err
	}
	return h.t.sendLinkPacket(l, p)
}

// SendRaw transmits unsequenced data over the link.
func (h *LinkHandle) SendRaw(data []byte) error {
	l, err := h.lookup()
	if err != nil {
		return err
	}
	p, err := l.SendRaw(data)
	if err != nil {
		return err
	}
	return h.t.sendLinkPacket(l, p)
}

// Close tears the link down and notifies the peer.
func (h *LinkHandle) Close() error {
	l, err := h.lookup()
	if err != nil {
		return err
	}
	p, err := l.Teardown()
	h.t.retire(h.id)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	return h.t.sendLinkPacket(l, p)
}

// Link returns a handle to a link in the table, such as one accepted from a
// peer and announced through an Activated event.
func (t *Transport) Link(id common.AddressHash) (*LinkHandle, bool) {
	if _, ok := t.links.get(id); !ok {
		return nil, false
	}
	return &LinkHandle{t: t, id: id}, true
}

// OpenLink establishes a link to a remote single destination, requesting a
// path first when none is known. It returns once the link is Active, or
// fails with link.ErrHandshakeFailed or link.ErrHandshakeTimeout. A failed
// attempt leaves no entry in the link table.
func (t *Transport) OpenLink(ctx context.Context, dest *destination.Destination) (*LinkHandle, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	if !t.HasPath(dest.Hash()) {
		if err := t.RequestPath(ctx, dest.Hash()); err != nil {
			return nil, err
		}
	}
	path, ok := t.paths.lookup(dest.Hash())
	if !ok {
		return nil, oops.Wrapf(ErrDestinationUnreachable, "path to %s expired", dest.Hash().Short())
	}

	entry := newLinkEntry()
	l, err := link.NewInitiator(dest,
		link.WithClock(t.clock),
		link.WithConfig(t.cfg.Link),
		link.WithHops(path.Hops),
		link.WithHandler(t.linkHandler(entry)),
	)
	if err != nil {
		return nil, err
	}
	entry.link = l
	req, err := l.Request()
	if err != nil {
		return nil, err
	}
	id := l.ID()
	l.SetAttachedInterface(path.Interface)
	if err := t.links.insert(id, entry); err != nil {
		return nil, err
	}
	t.metrics.SetLinks(t.links.len())

	if err := t.sendOn(path.Interface, t.viaPath(req, path)); err != nil {
		l.Close(link.ReasonHandshakeFailed)
		t.retire(id)
		return nil, err
	}
	log.WithFields(logger.Fields{
		"at":          "(Transport) OpenLink",
		"reason":      "request_sent",
		"link":        id.Short(),
		"destination": dest.Hash().Short(),
		"hops":        path.Hops,
	}).Debug("waiting for link proof")

	timer := t.clock.Timer(l.HandshakeDeadline().Sub(t.now()))
	defer timer.Stop()
	select {
	case <-entry.settled:
	case <-timer.C:
		l.CheckTimeout(l.HandshakeDeadline())
	case <-ctx.Done():
		l.Close(link.ReasonHandshakeTimeout)
		t.retire(id)
		return nil, oops.Wrapf(ctx.Err(), "opening link to %s", dest.Hash().Short())
	case <-t.ctx.Done():
		l.Close(link.ReasonHandshakeTimeout)
		t.retire(id)
		return nil, ErrClosed
	}

	if l.State() == link.StateActive {
		return &LinkHandle{t: t, id: id}, nil
	}
	l.Close(link.ReasonHandshakeTimeout)
	t.retire(id)
	return nil, oops.Wrapf(l.CloseReason().Err(), "link to %s", dest.Hash().Short())
}

// viaPath addresses p to the next hop of path when the destination is not
// a direct neighbour.
func (t *Transport) viaPath(p *packet.Packet, path PathEntry) *packet.Packet {
	if path.Direct() {
		return p
	}
	return p.ToTransport(path.NextHop)
}

func (t *Transport) retire(id common.AddressHash) {
	t.links.retire(id, t.now().Add(t.cfg.Transport.ClosedLinkRetention))
	t.metrics.SetLinks(t.links.len())
}

func (t *Transport) sendLinkPacket(l *link.Link, p *packet.Packet) error {
	return t.sendOn(l.AttachedInterface(), p)
}

func (t *Transport) linkHandler(e *linkEntry) link.Handler {
	return func(ev link.Event) {
		if ev.Type != link.EventData {
			e.settle()
		}
		t.metrics.LinkEvent(ev.Type.String())
		t.publish(ev)
	}
}

// handleLinkRequest answers a link request for a local destination.
func (t *Transport) handleLinkRequest(p *packet.Packet, in *ifaceEntry) {
	d, ok := t.localDestination(p.Destination)
	if !ok {
		t.drop(p, in, metrics.DropUnroutable, "link request for unknown destination")
		return
	}
	if !d.AcceptsLinks() {
		t.drop(p, in, metrics.DropUnroutable, "destination does not accept links")
		return
	}
	id := link.IDFromRequest(p)
	if _, exists := t.links.get(id); exists || t.links.isClosed(id) {
		t.drop(p, in, metrics.DropDuplicate, ErrTableCapacityExceeded.Error())
		return
	}

	entry := newLinkEntry()
	l, proof, err := link.Accept(d, p,
		link.WithClock(t.clock),
		link.WithConfig(t.cfg.Link),
		link.WithHops(int(p.Hops)),
		link.WithHandler(t.linkHandler(entry)),
	)
	if err != nil {
		t.metrics.Dropped(metrics.DropInvalid)
		log.WithFields(logger.Fields{
			"at":          "(Transport) handleLinkRequest",
			"reason":      "invalid_request",
			"destination": p.Destination.Short(),
		}).WithError(err).Warn("rejecting link request")
		return
	}
	entry.link = l
	l.SetAttachedInterface(in.id)
	if err := t.links.insert(id, entry); err != nil {
		l.Close(link.ReasonHandshakeFailed)
		return
	}
	t.metrics.SetLinks(t.links.len())
	l.Activate()
	if err := t.send(in, proof); err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Transport) handleLinkRequest",
			"reason": "proof_send_failed",
			"link":   id.Short(),
		}).WithError(err).Warn("could not send link proof")
	}
}

// handleProof routes a proof to the local link awaiting it, or relays it
// for a link or packet this node forwarded.
func (t *Transport) handleProof(p *packet.Packet, in *ifaceEntry, now time.Time) {
	if p.DestinationType == packet.Link && p.Context == packet.ContextLRProof {
		if e, ok := t.links.get(p.Destination); ok && e.link.Initiator() {
			rtt, err := e.link.ValidateProof(p)
			if err != nil {
				reason := metrics.DropInvalid
				if errors.Is(err, link.ErrHandshakeFailed) {
					reason = metrics.DropVerification
				}
				t.drop(p, in, reason, err.Error())
				return
			}
			if err := t.sendLinkPacket(e.link, rtt); err != nil {
				log.WithFields(logger.Fields{
					"at":     "(Transport) handleProof",
					"reason": "rtt_send_failed",
					"link":   p.Destination.Short(),
				}).WithError(err).Debug("could not send rtt")
			}
			return
		}
		if t.relayLinkPacket(p, in, now) {
			return
		}
	}
	if t.relayProof(p, in) {
		return
	}
	t.drop(p, in, metrics.DropUnknownLink, "proof for nothing pending")
}

// handleLinkData feeds a packet addressed to a link id to the local link,
// or relays it when the link crosses this node.
func (t *Transport) handleLinkData(p *packet.Packet, in *ifaceEntry, now time.Time) {
	e, ok := t.links.get(p.Destination)
	if !ok {
		if t.relayLinkPacket(p, in, now) {
			return
		}
		if t.links.isClosed(p.Destination) {
			t.drop(p, in, metrics.DropClosedLink, "link closed")
			return
		}
		t.drop(p, in, metrics.DropUnknownLink, "no such link")
		return
	}
	reply, err := e.link.Receive(p)
	if err != nil {
		reason := metrics.DropInvalid
		switch {
		case errors.Is(err, link.ErrStaleSequence), errors.Is(err, link.ErrReplayedData):
			reason = metrics.DropStale
		case errors.Is(err, link.ErrLinkClosed):
			reason = metrics.DropClosedLink
		}
		t.drop(p, in, reason, err.Error())
	}
	if reply != nil {
		if err := t.sendLinkPacket(e.link, reply); err != nil {
			log.WithFields(logger.Fields{
				"at":     "(Transport) handleLinkData",
				"reason": "reply_send_failed",
				"link":   p.Destination.Short(),
			}).WithError(err).Debug("could not answer link packet")
		}
	}
	if e.link.State() == link.StateClosed {
		t.retire(p.Destination)
	}
}

type subscriber struct {
	ch   chan link.Event
	done chan struct{}
}

// SubscribeLinkEvents returns a stream of link events of every local link
// and a function that ends the subscription. Events of one link arrive in
// the order they happened.
func (t *Transport) SubscribeLinkEvents() (<-chan link.Event, func()) {
	sub := &subscriber{
		ch:   make(chan link.Event, DefaultEventBuffer),
		done: make(chan struct{}),
	}
	t.subMu.Lock()
	t.subs[sub] = struct{}{}
	t.subMu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, sub)
			t.subMu.Unlock()
			close(sub.done)
		})
	}
}

func (t *Transport) publish(ev link.Event) {
	t.subMu.RLock()
	subs := make([]*subscriber, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.subMu.RUnlock()
	for _, s := range subs {
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-t.ctx.Done():
		}
	}
}
