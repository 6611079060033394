package config

import (
	"time"

	"github.com/go-i2p/logger"
)

// NodeConfig is the complete configuration of a node.
type NodeConfig struct {
	Transport  TransportConfig   `mapstructure:"transport" yaml:"transport"`
	Link       LinkConfig        `mapstructure:"link" yaml:"link"`
	Announce   AnnounceConfig    `mapstructure:"announce" yaml:"announce"`
	Interfaces []InterfaceConfig `mapstructure:"interfaces" yaml:"interfaces"`
}

// TransportConfig contains routing policy for the transport core.
type TransportConfig struct {
	// Enabled makes the node a transport node: it relays announces with its
	// own transport id, forwards header type 2 traffic and answers path
	// requests for paths it knows.
	// Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxHops is the hop limit. Announces that arrive with more hops are
	// dropped and announces that reach it are not propagated further. At
	// most MaxHopLimit, so a relayed hop count always fits its byte.
	// Default: 128
	MaxHops int `mapstructure:"max_hops" yaml:"max_hops"`

	// PathExpiry is how long a path learned from an announce stays valid.
	// Default: 7 days
	PathExpiry time.Duration `mapstructure:"path_expiry" yaml:"path_expiry"`

	// AnnounceDedupWindow is how long an announce packet hash suppresses
	// identical copies.
	// Default: 1 hour
	AnnounceDedupWindow time.Duration `mapstructure:"announce_dedup_window" yaml:"announce_dedup_window"`

	// AnnounceCacheSize bounds the announce cache. The oldest entry is
	// evicted when it is full.
	// Default: 8192
	AnnounceCacheSize int `mapstructure:"announce_cache_size" yaml:"announce_cache_size"`

	// PacketHashlistSize bounds the set of recently seen packet hashes.
	// Default: 100000
	PacketHashlistSize int `mapstructure:"packet_hashlist_size" yaml:"packet_hashlist_size"`

	// DiscoveryCacheSize bounds the set of path request tags remembered for
	// duplicate suppression.
	// Default: 1024
	DiscoveryCacheSize int `mapstructure:"discovery_cache_size" yaml:"discovery_cache_size"`

	// PathRequestTimeout is how long a send or RequestPath waits for an
	// announce before failing with an unreachable destination.
	// Default: 15 seconds
	PathRequestTimeout time.Duration `mapstructure:"path_request_timeout" yaml:"path_request_timeout"`

	// PathRequestMinInterval is the minimum time between two path requests
	// emitted for the same destination.
	// Default: 20 seconds
	PathRequestMinInterval time.Duration `mapstructure:"path_request_min_interval" yaml:"path_request_min_interval"`

	// AnnounceRate and AnnounceBurst limit inbound announces per interface
	// (token bucket, announces per second).
	// Default: 20/s with a burst of 40
	AnnounceRate  float64 `mapstructure:"announce_rate" yaml:"announce_rate"`
	AnnounceBurst int     `mapstructure:"announce_burst" yaml:"announce_burst"`

	// ClosedLinkRetention is how long closed link ids are remembered so that
	// late packets cannot resurrect them.
	// Default: 10 minutes
	ClosedLinkRetention time.Duration `mapstructure:"closed_link_retention" yaml:"closed_link_retention"`

	// ReverseTimeout expires reverse table entries used to route proofs back
	// to the sender of a relayed packet.
	// Default: 8 minutes
	ReverseTimeout time.Duration `mapstructure:"reverse_timeout" yaml:"reverse_timeout"`

	// TransitLinkTimeout expires relayed link entries that carry no traffic.
	// Default: 15 minutes
	TransitLinkTimeout time.Duration `mapstructure:"transit_link_timeout" yaml:"transit_link_timeout"`

	// MaintenanceInterval is how often tables are swept.
	// Default: 1 second
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval" yaml:"maintenance_interval"`
}

// LinkConfig contains timing for the link handshake and keepalives.
type LinkConfig struct {
	// EstablishmentTimeoutPerHop bounds the request/proof round trip,
	// multiplied by the number of hops to the destination.
	// Default: 6 seconds
	EstablishmentTimeoutPerHop time.Duration `mapstructure:"establishment_timeout_per_hop" yaml:"establishment_timeout_per_hop"`

	// KeepaliveInterval is the idle time after which the initiator sends a
	// keepalive.
	// Default: 360 seconds
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval" yaml:"keepalive_interval"`

	// InactivityTimeout closes a link that received nothing for this long.
	// Default: 720 seconds
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" yaml:"inactivity_timeout"`

	// MTU is the link MTU offered when SignalMTU is set.
	// Default: 500
	MTU int `mapstructure:"mtu" yaml:"mtu"`

	// SignalMTU appends the 3 byte MTU and mode signalling to link requests.
	// Default: false
	SignalMTU bool `mapstructure:"signal_mtu" yaml:"signal_mtu"`
}

// AnnounceConfig controls the announce scheduler.
type AnnounceConfig struct {
	// Interval between periodic announces of every registered destination.
	// Default: 15 minutes
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// OnStart emits an announce for every destination when the scheduler starts.
	// Default: true
	OnStart bool `mapstructure:"on_start" yaml:"on_start"`
}

// InterfaceConfig holds per-interface options, matched by interface id.
type InterfaceConfig struct {
	Name string `mapstructure:"name" yaml:"name"`

	// NetworkName and Passphrase enable interface access codes. Either one
	// is enough; both are combined when set.
	NetworkName string `mapstructure:"network_name" yaml:"network_name,omitempty"`
	Passphrase  string `mapstructure:"passphrase" yaml:"passphrase,omitempty"`

	// IFACSize is the access code length in bytes.
	// Default: 16
	IFACSize int `mapstructure:"ifac_size" yaml:"ifac_size,omitempty"`

	// Shared marks a broadcast medium (radio, ethernet segment) on which
	// announces are repeated back out of the interface they arrived on.
	Shared bool `mapstructure:"shared" yaml:"shared,omitempty"`
}

// DefaultIFACSize is used when access codes are enabled without a size.
const DefaultIFACSize = 16

// MaxHopLimit is the largest accepted Transport.MaxHops.
const MaxHopLimit = 254

// IFACEnabled reports whether access codes are configured.
func (c InterfaceConfig) IFACEnabled() bool {
	return c.NetworkName != "" || c.Passphrase != ""
}

// EffectiveIFACSize returns the configured size or DefaultIFACSize.
func (c InterfaceConfig) EffectiveIFACSize() int {
	if c.IFACSize > 0 {
		return c.IFACSize
	}
	return DefaultIFACSize
}

// Interface returns the options for the named interface, if any.
func (c *NodeConfig) Interface(name string) (InterfaceConfig, bool) {
	for _, ic := range c.Interfaces {
		if ic.Name == name {
			return ic, true
		}
	}
	return InterfaceConfig{}, false
}

// Defaults returns a NodeConfig with all default values set.
func Defaults() NodeConfig {
	return NodeConfig{
		Transport:  buildTransportDefaults(),
		Link:       buildLinkDefaults(),
		Announce:   buildAnnounceDefaults(),
		Interfaces: []InterfaceConfig{},
	}
}

// DefaultNodeConfig returns a pointer to a fresh default configuration.
func DefaultNodeConfig() *NodeConfig {
	cfg := Defaults()
	return &cfg
}

func buildTransportDefaults() TransportConfig {
	return TransportConfig{
		Enabled:                false,
		MaxHops:                128,
		PathExpiry:             7 * 24 * time.Hour,
		AnnounceDedupWindow:    time.Hour,
		AnnounceCacheSize:      8192,
		PacketHashlistSize:     100000,
		DiscoveryCacheSize:     1024,
		PathRequestTimeout:     15 * time.Second,
		PathRequestMinInterval: 20 * time.Second,
		AnnounceRate:           20,
		AnnounceBurst:          40,
		ClosedLinkRetention:    10 * time.Minute,
		ReverseTimeout:         8 * time.Minute,
		TransitLinkTimeout:     15 * time.Minute,
		MaintenanceInterval:    time.Second,
	}
}

func buildLinkDefaults() LinkConfig {
	return LinkConfig{
		EstablishmentTimeoutPerHop: 6 * time.Second,
		KeepaliveInterval:          360 * time.Second,
		InactivityTimeout:          720 * time.Second,
		MTU:                        500,
		SignalMTU:                  false,
	}
}

func buildAnnounceDefaults() AnnounceConfig {
	return AnnounceConfig{
		Interval: 15 * time.Minute,
		OnStart:  true,
	}
}

// Validate checks a configuration for values the core cannot operate with.
func Validate(cfg *NodeConfig) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating node configuration")
	validators := []func() error{
		func() error { return validateTransport(cfg.Transport) },
		func() error { return validateLink(cfg.Link) },
		func() error { return validateAnnounce(cfg.Announce) },
		func() error { return validateInterfaces(cfg.Interfaces) },
	}
	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	switch {
	case t.MaxHops < 1 || t.MaxHops > MaxHopLimit:
		return newValidationError("Transport.MaxHops must be between 1 and 254")
	case t.AnnounceDedupWindow <= 0:
		return newValidationError("Transport.AnnounceDedupWindow must be positive")
	case t.PathExpiry <= 0:
		return newValidationError("Transport.PathExpiry must be positive")
	case t.AnnounceCacheSize < 1:
		return newValidationError("Transport.AnnounceCacheSize must be at least 1")
	case t.PacketHashlistSize < 1:
		return newValidationError("Transport.PacketHashlistSize must be at least 1")
	case t.DiscoveryCacheSize < 1:
		return newValidationError("Transport.DiscoveryCacheSize must be at least 1")
	case t.PathRequestTimeout <= 0:
		return newValidationError("Transport.PathRequestTimeout must be positive")
	case t.AnnounceRate <= 0 || t.AnnounceBurst < 1:
		return newValidationError("Transport.AnnounceRate and AnnounceBurst must be positive")
	case t.MaintenanceInterval <= 0:
		return newValidationError("Transport.MaintenanceInterval must be positive")
	}
	return nil
}

func validateLink(l LinkConfig) error {
	switch {
	case l.EstablishmentTimeoutPerHop <= 0:
		return newValidationError("Link.EstablishmentTimeoutPerHop must be positive")
	case l.KeepaliveInterval <= 0:
		return newValidationError("Link.KeepaliveInterval must be positive")
	case l.InactivityTimeout < l.KeepaliveInterval:
		return newValidationError("Link.InactivityTimeout must not be shorter than Link.KeepaliveInterval")
	case l.MTU < 500 || l.MTU > 0x1FFFFF:
		return newValidationError("Link.MTU must be between 500 and 2097151")
	}
	return nil
}

func validateAnnounce(a AnnounceConfig) error {
	if a.Interval <= 0 {
		return newValidationError("Announce.Interval must be positive")
	}
	return nil
}

func validateInterfaces(list []InterfaceConfig) error {
	seen := make(map[string]bool, len(list))
	for _, ic := range list {
		if ic.Name == "" {
			return newValidationError("Interfaces entries need a name")
		}
		if seen[ic.Name] {
			return newValidationError("duplicate interface " + ic.Name)
		}
		seen[ic.Name] = true
		if ic.IFACSize < 0 || ic.IFACSize > 64 {
			return newValidationError("interface " + ic.Name + " IFACSize must be between 1 and 64")
		}
	}
	return nil
}

type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
