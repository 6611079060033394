package transport

import (
	"context"
	"time"

	"github.com/go-i2p/go-rns/lib/common"
	"github.com/go-i2p/go-rns/lib/crypto"
	"github.com/go-i2p/go-rns/lib/destination"
	"github.com/go-i2p/go-rns/lib/metrics"
	"github.com/go-i2p/go-rns/lib/packet"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// PathRequestTagLength is the size of the random tag identifying a request.
const PathRequestTagLength = common.AddressHashLength

/*
[Path Request]

Description
A DATA packet to the plain destination rnstransport.path.request.

Contents
	destination_hash(16) | [requesting_transport_id(16)] | tag(<=16)

The transport id is present when a transport node sends the request.
*/
func (t *Transport) pathRequestPacket(dest common.AddressHash, tag []byte) *packet.Packet {
	data := make([]byte, 0, 2*common.AddressHashLength+len(tag))
	data = append(data, dest[:]...)
	if t.cfg.Transport.Enabled {
		data = append(data, t.id[:]...)
	}
	data = append(data, tag...)
	return &packet.Packet{
		DestinationType: packet.Plain,
		Type:            packet.Data,
		Destination:     packet.PathRequestHash,
		Context:         packet.ContextNone,
		Data:            data,
	}
}

func parsePathRequest(data []byte) (dest common.AddressHash, tag []byte, ok bool) {
	if len(data) <= common.AddressHashLength {
		return dest, nil, false
	}
	copy(dest[:], data[:common.AddressHashLength])
	rest := data[common.AddressHashLength:]
	if len(rest) > PathRequestTagLength {
		rest = rest[common.AddressHashLength:]
	}
	if len(rest) > PathRequestTagLength {
		rest = rest[:PathRequestTagLength]
	}
	return dest, rest, len(rest) > 0
}

// RequestPath asks the network for a path to dest and waits until an
// announce installs one. It fails with ErrDestinationUnreachable when the
// request timeout passes first. Concurrent requests for one destination
// share a single request packet, and a destination is asked for at most
// once per request interval.
func (t *Transport) RequestPath(ctx context.Context, dest common.AddressHash) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.HasPath(dest) {
		return nil
	}
	ready := t.paths.wait(dest)
	defer t.paths.cancelWait(dest, ready)
	if t.HasPath(dest) {
		return nil
	}

	if err := t.emitPathRequest(dest); err != nil {
		log.WithFields(logger.Fields{
			"at":          "(Transport) RequestPath",
			"reason":      "send_failed",
			"destination": dest.Short(),
		}).WithError(err).Warn("path request not sent on every interface")
	}

	timer := t.clock.Timer(t.cfg.Transport.PathRequestTimeout)
	defer timer.Stop()
	select {
	case <-ready:
		return nil
	case <-timer.C:
		t.metrics.PathRequest("timeout")
		return oops.Wrapf(ErrDestinationUnreachable, "no path to %s after %s", dest.Short(), t.cfg.Transport.PathRequestTimeout)
	case <-ctx.Done():
		return oops.Wrapf(ctx.Err(), "waiting for path to %s", dest.Short())
	case <-t.ctx.Done():
		return ErrClosed
	}
}

func (t *Transport) emitPathRequest(dest common.AddressHash) error {
	_, err, _ := t.requests.Do(dest.String(), func() (any, error) {
		if !t.discovery.mayRequest(dest, t.now(), t.cfg.Transport.PathRequestMinInterval) {
			return nil, nil
		}
		tag, err := crypto.RandomBytes(PathRequestTagLength)
		if err != nil {
			return nil, err
		}
		t.discovery.seenTag(dest, tag)
		t.metrics.PathRequest("sent")
		log.WithFields(logger.Fields{
			"at":          "(Transport) RequestPath",
			"reason":      "path_unknown",
			"destination": dest.Short(),
		}).Debug("requesting path")
		return nil, t.broadcast(t.pathRequestPacket(dest, tag), "")
	})
	return err
}

// handlePathRequest answers a path request for a local destination or,
// on a transport node, from the path table. Unknown destinations are
// asked for on the other interfaces and the requester is remembered so
// the response can be relayed back.
func (t *Transport) handlePathRequest(p *packet.Packet, in *ifaceEntry, now time.Time) {
	dest, tag, ok := parsePathRequest(p.Data)
	if !ok {
		t.drop(p, in, metrics.DropInvalid, "malformed path request")
		return
	}
	if t.discovery.seenTag(dest, tag) {
		t.drop(p, in, metrics.DropDuplicate, "path request tag already handled")
		return
	}

	if d, local := t.localDestination(dest); local {
		t.answerLocal(d, in)
		return
	}
	if !t.cfg.Transport.Enabled {
		return
	}

	if path, known := t.paths.lookup(dest); known && path.announce != nil {
		if path.Interface == in.id && !in.cfg.Shared {
			log.WithFields(logger.Fields{
				"at":          "(Transport) handlePathRequest",
				"reason":      "requester_shares_path_interface",
				"destination": dest.Short(),
			}).Debug("leaving path request to the destination side")
			return
		}
		resp := path.announce.ToTransport(t.id)
		resp.Hops = byte(path.Hops + 1)
		resp.Context = packet.ContextPathResponse
		if err := t.send(in, resp); err != nil {
			log.WithFields(logger.Fields{
				"at":     "(Transport) handlePathRequest",
				"reason": "send_failed",
			}).WithError(err).Debug("could not answer path request")
			return
		}
		t.metrics.PathRequest("answered_cached")
		return
	}

	t.discovery.addPending(dest, in.id, now.Add(t.cfg.Transport.PathRequestTimeout))
	if err := t.broadcast(t.pathRequestPacket(dest, tag), in.id); err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Transport) handlePathRequest",
			"reason": "forward_failed",
		}).WithError(err).Debug("could not forward path request")
	}
	t.metrics.PathRequest("forwarded")
}

func (t *Transport) answerLocal(d *destination.Destination, in *ifaceEntry) {
	if d.Type != packet.Single {
		return
	}
	resp, err := d.PathResponseAt(nil, t.now())
	if err != nil {
		log.WithFields(logger.Fields{
			"at":          "(Transport) handlePathRequest",
			"reason":      "path_response_failed",
			"destination": d.Hash().Short(),
		}).WithError(err).Error("could not build path response")
		return
	}
	t.rememberAnnounce(resp)
	if err := t.send(in, resp); err != nil {
		log.WithFields(logger.Fields{
			"at":     "(Transport) handlePathRequest",
			"reason": "send_failed",
		}).WithError(err).Debug("could not answer path request")
		return
	}
	t.metrics.PathRequest("answered_local")
}
