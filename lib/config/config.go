package config

import (
	"os"
	"path/filepath"

	"github.com/go-i2p/go-rns/lib/util"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GORNS_BASE_DIR = ".go-rns"

// BuildRNSDirPath returns $HOME/.go-rns, or .go-rns under the working
// directory when no home directory is known.
func BuildRNSDirPath() string {
	home, err := util.UserHome()
	if err != nil {
		log.WithFields(logger.Fields{
			"at":     "BuildRNSDirPath",
			"reason": "no_home_directory",
		}).WithError(err).Warn("keeping configuration in the working directory")
		return GORNS_BASE_DIR
	}
	return filepath.Join(home, GORNS_BASE_DIR)
}

func setDefaults(v *viper.Viper) {
	d := Defaults()

	// Transport defaults
	v.SetDefault("transport.enabled", d.Transport.Enabled)
	v.SetDefault("transport.max_hops", d.Transport.MaxHops)
	v.SetDefault("transport.path_expiry", d.Transport.PathExpiry)
	v.SetDefault("transport.announce_dedup_window", d.Transport.AnnounceDedupWindow)
	v.SetDefault("transport.announce_cache_size", d.Transport.AnnounceCacheSize)
	v.SetDefault("transport.packet_hashlist_size", d.Transport.PacketHashlistSize)
	v.SetDefault("transport.discovery_cache_size", d.Transport.DiscoveryCacheSize)
	v.SetDefault("transport.path_request_timeout", d.Transport.PathRequestTimeout)
	v.SetDefault("transport.path_request_min_interval", d.Transport.PathRequestMinInterval)
	v.SetDefault("transport.announce_rate", d.Transport.AnnounceRate)
	v.SetDefault("transport.announce_burst", d.Transport.AnnounceBurst)
	v.SetDefault("transport.closed_link_retention", d.Transport.ClosedLinkRetention)
	v.SetDefault("transport.reverse_timeout", d.Transport.ReverseTimeout)
	v.SetDefault("transport.transit_link_timeout", d.Transport.TransitLinkTimeout)
	v.SetDefault("transport.maintenance_interval", d.Transport.MaintenanceInterval)

	// Link defaults
	v.SetDefault("link.establishment_timeout_per_hop", d.Link.EstablishmentTimeoutPerHop)
	v.SetDefault("link.keepalive_interval", d.Link.KeepaliveInterval)
	v.SetDefault("link.inactivity_timeout", d.Link.InactivityTimeout)
	v.SetDefault("link.mtu", d.Link.MTU)
	v.SetDefault("link.signal_mtu", d.Link.SignalMTU)

	// Announce defaults
	v.SetDefault("announce.interval", d.Announce.Interval)
	v.SetDefault("announce.on_start", d.Announce.OnStart)

	v.SetDefault("interfaces", []InterfaceConfig{})
}

// NewNodeConfigFromViper decodes a NodeConfig from v.
func NewNodeConfigFromViper(v *viper.Viper) (*NodeConfig, error) {
	cfg := &NodeConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, oops.Wrapf(err, "decoding node configuration")
	}
	if cfg.Interfaces == nil {
		cfg.Interfaces = []InterfaceConfig{}
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadNodeConfig reads the YAML file at path on top of the defaults.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, oops.Wrapf(err, "reading config file %s", path)
	}
	log.WithFields(logger.Fields{
		"at":   "LoadNodeConfig",
		"file": v.ConfigFileUsed(),
	}).Debug("using config file")
	return NewNodeConfigFromViper(v)
}

// WriteNodeConfig writes cfg to path as YAML, creating parent directories.
func WriteNodeConfig(path string, cfg *NodeConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return oops.Wrapf(err, "encoding node configuration")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return oops.Wrapf(err, "creating config directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return oops.Wrapf(err, "writing config file %s", path)
	}
	log.Debugf("Created default configuration at: %s", path)
	return nil
}

// InitConfig loads CfgFile, or $HOME/.go-rns/config.yaml when CfgFile is
// empty, writing a default file there first if none exists.
func InitConfig() (*NodeConfig, error) {
	path := CfgFile
	if path == "" {
		path = filepath.Join(BuildRNSDirPath(), "config.yaml")
		ok, err := util.RegularFileExists(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := WriteNodeConfig(path, DefaultNodeConfig()); err != nil {
				return nil, err
			}
		}
	}
	return LoadNodeConfig(path)
}
