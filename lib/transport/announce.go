package transport

import (
	"errors"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// handleAnnounce validates an announce, suppresses duplicates through the
// announce cache, applies the freshness rule to the path table and
// propagates announces that changed it.
func (t *Transport) handleAnnounce(p *packet.Packet, in *ifaceEntry, now time.Time) {
	if !in.limiter.AllowN(now, 1) {
		t.drop(p, in, metrics.DropRateLimited, "announce ingress rate")
		return
	}
	if int(p.Hops) > t.cfg.Transport.MaxHops {
		t.drop(p, in, metrics.DropMaxHops, "announce beyond hop limit")
		return
	}
	info, err := destination.ValidateAnnounce(p)
	if err != nil {
		reason := metrics.DropInvalid
		if errors.Is(err, crypto.ErrCryptoVerificationFailed) {
			reason = metrics.DropVerification
		}
		t.metrics.Dropped(reason)
		log.WithFields(logger.Fields{
			"at":          "(Transport) handleAnnounce",
			"reason":      reason,
			"interface":   in.id,
			"destination": p.Destination.Short(),
		}).WithError(err).Warn("rejecting announce")
		return
	}
	if _, local := t.localDestination(p.Destination); local {
		t.drop(p, in, metrics.DropDuplicate, "announce for a local destination")
		return
	}

	hash := hashOf(p.Hash())
	dup := t.announces.checkAndInsert(announceCacheEntry{
		Destination: p.Destination,
		PacketHash:  hash,
		Timestamp:   now,
		Hops:        int(p.Hops),
	})
	if dup {
		t.metrics.Dropped(metrics.DropDuplicate)
		return
	}

	entry := &PathEntry{
		Destination: p.Destination,
		Hops:        int(p.Hops),
		Interface:   in.id,
		Timestamp:   now,
		Expires:     now.Add(t.cfg.Transport.PathExpiry),
		Emitted:     info.Emitted(),
		PacketHash:  append([]byte(nil), hash[:]...),
		Identity:    info.Identity,
		AppData:     info.AppData,
		announce:    p.Clone(),
	}
	if p.HeaderType == packet.Header2 {
		entry.NextHop = p.TransportID
	}
	if !t.paths.update(entry, info.RandomHash, now) {
		t.drop(p, in, metrics.DropStale, "path table holds a better entry")
		return
	}
	t.metrics.AnnounceAccepted()
	t.metrics.SetPaths(t.paths.len())
	log.WithFields(logger.Fields{
		"at":          "(Transport) handleAnnounce",
		"reason":      "path_updated",
		"destination": p.Destination.Short(),
		"hops":        p.Hops,
		"next_hop":    shortOrNone(entry.NextHop),
		"interface":   in.id,
	}).Debug("learned path")

	t.relayAnnounce(p, in, now)
}

// relayAnnounce rebroadcasts an accepted announce with this node as the
// relay. Path responses only go to the interface that asked for them.
func (t *Transport) relayAnnounce(p *packet.Packet, in *ifaceEntry, now time.Time) {
	requester, pending := t.discovery.takePending(p.Destination, now)
	if !t.cfg.Transport.Enabled {
		return
	}
	if int(p.Hops) >= t.cfg.Transport.MaxHops {
		log.WithFields(logger.Fields{
			"at":          "(Transport) relayAnnounce",
			"reason":      "hop_limit",
			"destination": p.Destination.Short(),
		}).Debug("not propagating announce")
		return
	}
	out := p.ToTransport(t.id)
	out.Hops++

	if p.Context == packet.ContextPathResponse {
		if pending && requester != in.id {
			if err := t.sendOn(requester, out); err == nil {
				t.metrics.AnnouncePropagated()
			}
		}
		return
	}

	sent := 0
	for _, e := range t.interfaceEntries() {
		if e.id == in.id && !e.cfg.Shared {
			continue
		}
		if err := t.send(e, out); err != nil {
			log.WithFields(logger.Fields{
				"at":        "(Transport) relayAnnounce",
				"reason":    "send_failed",
				"interface": e.id,
			}).WithError(err).Debug("could not propagate announce")
			continue
		}
		sent++
	}
	if sent > 0 {
		t.metrics.AnnouncePropagated()
	}
}

// AnnounceNow builds a fresh announce for a registered destination and
// sends it on every interface. It never waits on link state.
func (t *Transport) AnnounceNow(d *destination.Destination) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if _, ok := t.localDestination(d.Hash()); !ok {
		return oops.Wrapf(ErrUnknownDestination, "%s", d)
	}
	p, err := d.AnnounceAt(nil, t.now())
	if err != nil {
		return err
	}
	t.rememberAnnounce(p)
	if err := t.broadcast(p, ""); err != nil {
		return oops.Wrapf(err, "announcing %s", d.Hash().Short())
	}
	log.WithFields(logger.Fields{
		"at":          "(Transport) AnnounceNow",
		"reason":      "announce_sent",
		"destination": d.Hash().Short(),
	}).Debug("announced destination")
	return nil
}

// rememberAnnounce records an announce emitted by this node so that copies
// echoed back by neighbours are suppressed.
func (t *Transport) rememberAnnounce(p *packet.Packet) {
	t.announces.checkAndInsert(announceCacheEntry{
		Destination: p.Destination,
		PacketHash:  hashOf(p.Hash()),
		Timestamp:   t.now(),
	})
}

// LookupPath returns the path to dest, if one is known.
func (t *Transport) LookupPath(dest common.AddressHash) (PathEntry, bool) {
	return t.paths.lookup(dest)
}

func (t *Transport) HasPath(dest common.AddressHash) bool {
	_, ok := t.paths.lookup(dest)
	return ok
}

// HopsTo returns the hop count to dest, or -1 when no path is known.
func (t *Transport) HopsTo(dest common.AddressHash) int {
	if e, ok := t.paths.lookup(dest); ok {
		return e.Hops
	}
	return -1
}

// Paths returns a snapshot of the path table.
func (t *Transport) Paths() []PathEntry {
	return t.paths.snapshot()
}

// ExpirePath forgets the path to dest.
func (t *Transport) ExpirePath(dest common.AddressHash) bool {
	ok := t.paths.remove(dest)
	t.metrics.SetPaths(t.paths.len())
	return ok
}
