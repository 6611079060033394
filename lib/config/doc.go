// Package config provides configuration management for a go-rns node.
//
// # Sections
//
// A node configuration has four sections:
//   - transport: routing policy (hop limit, dedup window, table sizes, path request timing)
//   - link: handshake and keepalive timing for encrypted links
//   - announce: the periodic announce scheduler
//   - interfaces: per-interface options such as access codes
//
// Every policy constant the routing core relies on lives here rather than as
// a literal in the code that uses it. Defaults() is the single source of
// truth; setDefaults registers the same values with viper so that a config
// file only needs to name the keys it overrides.
//
// # Files
//
// LoadNodeConfig reads a YAML file through viper. WriteNodeConfig writes a
// complete configuration with gopkg.in/yaml.v3, which is how a default file
// is created under $HOME/.go-rns.
package config
