package transport

import (
	"time"

	"github.com/go-i2p/logger"
)

// maintain sweeps every table at now: expired paths, announce cache
// entries outside the dedup window, stale discovery state, link timeouts
// and keepalives, closed link ids past retention and idle transit entries.
func (t *Transport) maintain(now time.Time) {
	tc := t.cfg.Transport
	expired := t.paths.expire(now)
	culled := t.announces.cull(now)
	t.discovery.expire(now, tc.PathRequestMinInterval)
	t.transit.expire(now, tc.TransitLinkTimeout, tc.ReverseTimeout)

	closed := 0
	for _, e := range t.links.all() {
		keepalive, done := e.link.CheckTimeout(now)
		if keepalive != nil {
			if err := t.sendLinkPacket(e.link, keepalive); err != nil {
				log.WithFields(logger.Fields{
					"at":     "(Transport) maintain",
					"reason": "keepalive_send_failed",
					"link":   e.link.ID().Short(),
				}).WithError(err).Debug("could not send keepalive")
			}
		}
		if done {
			t.links.retire(e.link.ID(), now.Add(tc.ClosedLinkRetention))
			closed++
		}
	}
	forgotten := t.links.forget(now)

	t.metrics.SetPaths(t.paths.len())
	t.metrics.SetLinks(t.links.len())
	if expired+culled+closed+forgotten > 0 {
		log.WithFields(logger.Fields{
			"at":               "(Transport) maintain",
			"reason":           "sweep",
			"paths_expired":    expired,
			"announces_culled": culled,
			"links_closed":     closed,
			"ids_forgotten":    forgotten,
		}).Debug("maintenance sweep")
	}
}
