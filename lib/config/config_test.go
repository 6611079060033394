package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsRoundTripThroughViper(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg, err := NewNodeConfigFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, DefaultNodeConfig(), cfg)
}

func TestLoadNodeConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
transport:
  enabled: true
  max_hops: 8
  announce_dedup_window: 90s
link:
  keepalive_interval: 2m
  inactivity_timeout: 5m
interfaces:
  - name: radio0
    network_name: mesh
    passphrase: secret
    shared: true
  - name: tcp0
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Transport.Enabled)
	assert.Equal(t, 8, cfg.Transport.MaxHops)
	assert.Equal(t, 90*time.Second, cfg.Transport.AnnounceDedupWindow)
	assert.Equal(t, 2*time.Minute, cfg.Link.KeepaliveInterval)
	assert.Equal(t, Defaults().Transport.PathExpiry, cfg.Transport.PathExpiry)
	assert.Equal(t, Defaults().Announce, cfg.Announce)

	radio, ok := cfg.Interface("radio0")
	require.True(t, ok)
	assert.True(t, radio.IFACEnabled())
	assert.True(t, radio.Shared)
	assert.Equal(t, DefaultIFACSize, radio.EffectiveIFACSize())

	tcp, ok := cfg.Interface("tcp0")
	require.True(t, ok)
	assert.False(t, tcp.IFACEnabled())

	_, ok = cfg.Interface("missing")
	assert.False(t, ok)
}

func TestLoadNodeConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport:\n  max_hops: 0\n"), 0o644))

	_, err := LoadNodeConfig(path)
	assert.Error(t, err)

	_, err = LoadNodeConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultNodeConfig()
	cfg.Transport.MaxHops = 32
	cfg.Announce.Interval = 5 * time.Minute
	cfg.Interfaces = []InterfaceConfig{{Name: "pipe", Passphrase: "p", IFACSize: 8}}

	require.NoError(t, WriteNodeConfig(path, cfg))
	loaded, err := LoadNodeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestInitConfigUsesCfgFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, WriteNodeConfig(path, DefaultNodeConfig()))

	CfgFile = path
	defer func() { CfgFile = "" }()

	cfg, err := InitConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultNodeConfig(), cfg)
}
