package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, Validate(DefaultNodeConfig()))
}

func TestMaxHopLimitAccepted(t *testing.T) {
	cfg := DefaultNodeConfig()
	cfg.Transport.MaxHops = MaxHopLimit
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*NodeConfig)
	}{
		{"max hops zero", func(c *NodeConfig) { c.Transport.MaxHops = 0 }},
		{"max hops too large", func(c *NodeConfig) { c.Transport.MaxHops = 300 }},
		{"max hops overflows relay", func(c *NodeConfig) { c.Transport.MaxHops = 255 }},
		{"zero dedup window", func(c *NodeConfig) { c.Transport.AnnounceDedupWindow = 0 }},
		{"empty announce cache", func(c *NodeConfig) { c.Transport.AnnounceCacheSize = 0 }},
		{"no announce rate", func(c *NodeConfig) { c.Transport.AnnounceRate = 0 }},
		{"inactivity before keepalive", func(c *NodeConfig) { c.Link.InactivityTimeout = time.Second }},
		{"small mtu", func(c *NodeConfig) { c.Link.MTU = 100 }},
		{"zero announce interval", func(c *NodeConfig) { c.Announce.Interval = 0 }},
		{"unnamed interface", func(c *NodeConfig) { c.Interfaces = []InterfaceConfig{{}} }},
		{"duplicate interface", func(c *NodeConfig) {
			c.Interfaces = []InterfaceConfig{{Name: "a"}, {Name: "a"}}
		}},
		{"oversized ifac", func(c *NodeConfig) {
			c.Interfaces = []InterfaceConfig{{Name: "a", IFACSize: 65}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultNodeConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), "configuration validation failed")
			}
		})
	}
}
