// Package metrics holds the Prometheus collectors of one node. Collectors
// are per instance so several nodes can live in one process; Register
// exposes them on a registry of the caller's choice.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
)

const namespace = "rns"

// Drop reasons used as the reason label of PacketsDropped.
const (
	DropDecode        = "decode"
	DropDuplicate     = "duplicate"
	DropAccessCode    = "access_code"
	DropInvalid       = "invalid"
	DropMaxHops       = "max_hops"
	DropRateLimited   = "rate_limited"
	DropStale         = "stale"
	DropUnroutable    = "unroutable"
	DropClosedLink    = "closed_link"
	DropUnknownLink   = "unknown_link"
	DropVerification  = "verification"
	DropInterfaceGone = "interface_gone"
)

type Metrics struct {
	PacketsReceived     *prometheus.CounterVec
	PacketsSent         *prometheus.CounterVec
	PacketsDropped      *prometheus.CounterVec
	AnnouncesAccepted   prometheus.Counter
	AnnouncesPropagated prometheus.Counter
	AnnouncesEmitted    *prometheus.CounterVec
	PathRequests        *prometheus.CounterVec
	LinkEvents          *prometheus.CounterVec
	Paths               prometheus.Gauge
	Links               prometheus.Gauge
}

// New creates an unregistered set of collectors.
func New() *Metrics {
	return &Metrics{
		PacketsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "packets_received_total",
				Help:      "Inbound packets accepted for processing.",
			},
			[]string{"interface", "kind"},
		),
		PacketsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "packets_sent_total",
				Help:      "Packets handed to interfaces.",
			},
			[]string{"interface"},
		),
		PacketsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "packets_dropped_total",
				Help:      "Inbound or outbound packets dropped, by reason.",
			},
			[]string{"reason"},
		),
		AnnouncesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "announce",
			Name:      "accepted_total",
			Help:      "Announces that updated the path table.",
		}),
		AnnouncesPropagated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "announce",
			Name:      "propagated_total",
			Help:      "Announces rebroadcast with an incremented hop count.",
		}),
		AnnouncesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "announce",
				Name:      "emitted_total",
				Help:      "Announces of local destinations, by result.",
			},
			[]string{"result"},
		),
		PathRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "path",
				Name:      "requests_total",
				Help:      "Path requests by outcome.",
			},
			[]string{"outcome"},
		),
		LinkEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "link",
				Name:      "events_total",
				Help:      "Link lifecycle events.",
			},
			[]string{"event"},
		),
		Paths: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "path",
			Name:      "entries",
			Help:      "Entries in the path table.",
		}),
		Links: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "active",
			Help:      "Links in the link table.",
		}),
	}
}

// Collectors lists every collector of the set.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PacketsReceived, m.PacketsSent, m.PacketsDropped,
		m.AnnouncesAccepted, m.AnnouncesPropagated, m.AnnouncesEmitted,
		m.PathRequests, m.LinkEvents, m.Paths, m.Links,
	}
}

// Register adds every collector to reg, reporting all failures.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var err error
	for _, c := range m.Collectors() {
		err = multierr.Append(err, reg.Register(c))
	}
	return err
}

// The helpers below accept a nil receiver so components can run without
// metrics.

func (m *Metrics) Received(iface, kind string) {
	if m != nil {
		m.PacketsReceived.WithLabelValues(iface, kind).Inc()
	}
}

func (m *Metrics) Sent(iface string) {
	if m != nil {
		m.PacketsSent.WithLabelValues(iface).Inc()
	}
}

func (m *Metrics) Dropped(reason string) {
	if m != nil {
		m.PacketsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) AnnounceAccepted() {
	if m != nil {
		m.AnnouncesAccepted.Inc()
	}
}

func (m *Metrics) AnnouncePropagated() {
	if m != nil {
		m.AnnouncesPropagated.Inc()
	}
}

func (m *Metrics) AnnounceEmitted(result string) {
	if m != nil {
		m.AnnouncesEmitted.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) PathRequest(outcome string) {
	if m != nil {
		m.PathRequests.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) LinkEvent(event string) {
	if m != nil {
		m.LinkEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) SetPaths(n int) {
	if m != nil {
		m.Paths.Set(float64(n))
	}
}

func (m *Metrics) SetLinks(n int) {
	if m != nil {
		m.Links.Set(float64(n))
	}
}
