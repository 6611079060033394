package transport

import (
	"context"

	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// SubmitOutbound sends a packet built by a collaborator. Announces and
// packets for plain and group destinations are broadcast on every
// interface. Link packets leave on the interface of their link. Packets for
// single destinations follow the path table, waiting for a path request
// when the destination is unknown.
func (t *Transport) SubmitOutbound(ctx context.Context, p *packet.Packet) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if _, err := p.Encode(); err != nil {
		return err
	}

	switch {
	case p.Type == packet.Announce:
		t.rememberAnnounce(p)
		return t.broadcast(p, "")
	case p.DestinationType == packet.Plain || p.DestinationType == packet.Group:
		return t.broadcast(p, "")
	case p.DestinationType == packet.Link:
		e, ok := t.links.get(p.Destination)
		if !ok {
			return oops.Wrapf(ErrUnknownLink, "%s", p.Destination.Short())
		}
		return t.sendLinkPacket(e.link, p)
	}

	path, ok := t.paths.lookup(p.Destination)
	if !ok {
		if err := t.RequestPath(ctx, p.Destination); err != nil {
			return err
		}
		if path, ok = t.paths.lookup(p.Destination); !ok {
			return oops.Wrapf(ErrDestinationUnreachable, "path to %s expired", p.Destination.Short())
		}
	}
	log.WithFields(logger.Fields{
		"at":          "(Transport) SubmitOutbound",
		"reason":      "routed",
		"destination": p.Destination.Short(),
		"hops":        path.Hops,
		"interface":   path.Interface,
	}).Debug("sending packet along path")
	return t.sendOn(path.Interface, t.viaPath(p, path))
}
