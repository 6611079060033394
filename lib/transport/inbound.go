package transport

import (
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/ifac"
	"github.com/go-i2p/go-rns/lib/iface"
	"github.com/go-i2p/go-rns/lib/link"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var _ iface.Ingester = (*Transport)(nil)

// IngestInbound processes bytes received on the interface interfaceID. Only
// undecodable or unauthenticated input is reported as an error; every other
// drop is logged and counted. Malformed input never changes a table.
func (t *Transport) IngestInbound(raw []byte, interfaceID string) error {
	if t.closed.Load() {
		return ErrClosed
	}
	in, ok := t.interfaceEntry(interfaceID)
	if !ok {
		return oops.Wrapf(ErrUnknownInterface, "%s", interfaceID)
	}

	if in.auth != nil {
		opened, err := in.auth.Open(raw)
		if err != nil {
			t.metrics.Dropped(metrics.DropAccessCode)
			return oops.Wrapf(err, "on %s", interfaceID)
		}
		raw = opened
	} else if ifac.HasFlag(raw) {
		t.metrics.Dropped(metrics.DropAccessCode)
		return oops.Wrapf(ifac.ErrUnauthenticated, "access coded packet on %s", interfaceID)
	}

	p, err := packet.Decode(raw)
	if err != nil {
		t.metrics.Dropped(metrics.DropDecode)
		log.WithFields(logger.Fields{
			"at":        "(Transport) IngestInbound",
			"reason":    "decode_failed",
			"interface": interfaceID,
			"length":    len(raw),
		}).WithError(err).Debug("dropping undecodable packet")
		return err
	}

	kind := p.Kind()
	now := t.now()
	if kind != packet.KindAnnounce && kind != packet.KindKeepalive {
		if seen, _ := t.hashlist.ContainsOrAdd(hashOf(p.Hash()), struct{}{}); seen {
			t.metrics.Dropped(metrics.DropDuplicate)
			return nil
		}
	}
	t.metrics.Received(interfaceID, kind.String())

	switch kind {
	case packet.KindAnnounce:
		t.handleAnnounce(p, in, now)
	case packet.KindPathRequest:
		t.handlePathRequest(p, in, now)
	default:
		t.dispatch(p, in, now)
	}
	return nil
}

func (t *Transport) dispatch(p *packet.Packet, in *ifaceEntry, now time.Time) {
	if p.DestinationType == packet.Plain && p.Hops > 0 {
		t.drop(p, in, metrics.DropUnroutable, "plain packets are not relayed")
		return
	}
	if p.HeaderType == packet.Header2 {
		if p.TransportID != t.id {
			t.drop(p, in, metrics.DropUnroutable, "relayed by another transport")
			return
		}
		if _, local := t.localDestination(p.Destination); !local {
			t.forward(p, in, now)
			return
		}
	}

	switch p.Type {
	case packet.LinkRequest:
		t.handleLinkRequest(p, in)
	case packet.Proof:
		t.handleProof(p, in, now)
	case packet.Data:
		if p.DestinationType == packet.Link {
			t.handleLinkData(p, in, now)
			return
		}
		t.deliverLocal(p, in)
	}
}

func (t *Transport) deliverLocal(p *packet.Packet, in *ifaceEntry) {
	d, ok := t.localDestination(p.Destination)
	if !ok || d.Type != p.DestinationType {
		t.drop(p, in, metrics.DropUnroutable, "no local destination")
		return
	}
	if !d.Receive(p) {
		t.drop(p, in, metrics.DropVerification, "not delivered")
	}
}

// forward relays a header type 2 packet addressed to this transport along
// the path table, one hop closer to its destination.
func (t *Transport) forward(p *packet.Packet, in *ifaceEntry, now time.Time) {
	if !t.cfg.Transport.Enabled {
		t.drop(p, in, metrics.DropUnroutable, "transport disabled")
		return
	}
	if int(p.Hops) >= t.cfg.Transport.MaxHops {
		t.drop(p, in, metrics.DropMaxHops, "hop limit reached")
		return
	}
	path, ok := t.paths.lookup(p.Destination)
	if !ok {
		t.drop(p, in, metrics.DropUnroutable, "no path")
		return
	}
	var out *packet.Packet
	if path.Direct() {
		out = p.ToBroadcast()
	} else {
		out = p.ToTransport(path.NextHop)
	}
	out.Hops++

	if p.Type == packet.LinkRequest {
		t.transit.addLink(link.IDFromRequest(p), path.Interface, in.id, now)
	} else {
		t.transit.addReverse(p.TruncatedHash(), in.id, now)
	}
	if err := t.sendOn(path.Interface, out); err != nil {
		log.WithFields(logger.Fields{
			"at":          "(Transport) forward",
			"reason":      "send_failed",
			"destination": p.Destination.Short(),
		}).WithError(err).Debug("could not relay packet")
		return
	}
	log.WithFields(logger.Fields{
		"at":          "(Transport) forward",
		"reason":      "relayed",
		"destination": p.Destination.Short(),
		"from":        in.id,
		"to":          path.Interface,
		"hops":        out.Hops,
	}).Debug("relayed packet")
}

// relayLinkPacket forwards a packet of a link this node relays.
func (t *Transport) relayLinkPacket(p *packet.Packet, in *ifaceEntry, now time.Time) bool {
	towardInitiator := p.Type == packet.Proof
	outID, ok := t.transit.linkRoute(p.Destination, in.id, towardInitiator, now)
	if !ok {
		return false
	}
	if int(p.Hops) >= t.cfg.Transport.MaxHops {
		t.drop(p, in, metrics.DropMaxHops, "hop limit reached")
		return true
	}
	out := p.Clone()
	out.Hops++
	if err := t.sendOn(outID, out); err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Transport) relayLinkPacket",
			"reason": "send_failed",
			"link":   p.Destination.Short(),
		}).WithError(err).Debug("could not relay link packet")
	}
	return true
}

// relayProof returns a packet proof along the reverse table.
func (t *Transport) relayProof(p *packet.Packet, in *ifaceEntry) bool {
	outID, ok := t.transit.takeReverse(p.Destination)
	if !ok {
		return false
	}
	if int(p.Hops) >= t.cfg.Transport.MaxHops {
		t.drop(p, in, metrics.DropMaxHops, "hop limit reached")
		return true
	}
	out := p.Clone()
	out.Hops++
	if err := t.sendOn(outID, out); err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Transport) relayProof",
			"reason": "send_failed",
		}).WithError(err).Debug("could not relay proof")
	}
	return true
}

func (t *Transport) drop(p *packet.Packet, in *ifaceEntry, reason, detail string) {
	t.metrics.Dropped(reason)
	log.WithFields(logger.Fields{
		"at":          "(Transport) IngestInbound",
		"reason":      reason,
		"detail":      detail,
		"interface":   in.id,
		"destination": p.Destination.Short(),
		"type":        p.Type.String(),
	}).Debug("dropping packet")
}

func shortOrNone(h common.AddressHash) string {
	if h.IsZero() {
		return "none"
	}
	return h.Short()
}
