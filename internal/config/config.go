// Package config loads the gossip overlay's runtime configuration via
// viper/pflag, with config-file + environment + flag precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/paw-chain/gossip-overlay/internal/connmgr"
	"github.com/paw-chain/gossip-overlay/internal/gossip"
)

// Config is the top-level configuration for the gossipd entrypoint.
type Config struct {
	PeeringMode          string        `mapstructure:"peering_mode"`
	SelfEndpoint         string        `mapstructure:"self_endpoint"`
	InitialPeerEndpoints []string      `mapstructure:"initial_peer_endpoints"`
	InitialSeedEndpoints []string      `mapstructure:"initial_seed_endpoints"`
	MinPeers             int           `mapstructure:"min_peers"`
	MaxPeers             int           `mapstructure:"max_peers"`
	CheckFrequency       time.Duration `mapstructure:"check_frequency"`

	ChainID     string `mapstructure:"chain_id"`
	NodeID      string `mapstructure:"node_id"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	AdminAddr   string `mapstructure:"admin_addr"`
}

// DefaultConfig returns the standard gossipd defaults.
func DefaultConfig() Config {
	return Config{
		PeeringMode:    "dynamic",
		MinPeers:       3,
		MaxPeers:       10,
		CheckFrequency: 1 * time.Second,
		MetricsAddr:    ":9650",
		AdminAddr:      ":9651",
	}
}

// BindFlags registers the gossipd flag surface on fs.
func BindFlags(fs *pflag.FlagSet) {
	d := DefaultConfig()
	fs.String("peering-mode", d.PeeringMode, "peering policy: static or dynamic")
	fs.String("self-endpoint", d.SelfEndpoint, "this validator's advertised endpoint")
	fs.StringSlice("initial-peer-endpoints", nil, "statically configured peer endpoints")
	fs.StringSlice("initial-seed-endpoints", nil, "dynamic-mode seed endpoints")
	fs.Int("min-peers", d.MinPeers, "minimum active peers before discovery kicks in")
	fs.Int("max-peers", d.MaxPeers, "maximum active peers")
	fs.Duration("check-frequency", d.CheckFrequency, "reconciliation loop tick interval")
	fs.String("chain-id", "", "chain id exchanged during the transport handshake")
	fs.String("node-id", "", "this node's id exchanged during the transport handshake")
	fs.String("metrics-addr", d.MetricsAddr, "address to serve /metrics on")
	fs.String("admin-addr", d.AdminAddr, "address to serve the read-only admin API on")
}

// Load builds a Config from fs's bound flags plus environment variables
// prefixed GOSSIPD_, and an optional config file if --config was given.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOSSIPD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path, err := fs.GetString("config"); err == nil && path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	cfg.PeeringMode = v.GetString("peering-mode")
	cfg.SelfEndpoint = v.GetString("self-endpoint")
	cfg.InitialPeerEndpoints = v.GetStringSlice("initial-peer-endpoints")
	cfg.InitialSeedEndpoints = v.GetStringSlice("initial-seed-endpoints")
	cfg.MinPeers = v.GetInt("min-peers")
	cfg.MaxPeers = v.GetInt("max-peers")
	cfg.CheckFrequency = v.GetDuration("check-frequency")
	cfg.ChainID = v.GetString("chain-id")
	cfg.NodeID = v.GetString("node-id")
	cfg.MetricsAddr = v.GetString("metrics-addr")
	cfg.AdminAddr = v.GetString("admin-addr")
	return cfg, nil
}

// GossipConfig projects Config onto gossip.Config.
func (c Config) GossipConfig() gossip.Config {
	return gossip.Config{
		SelfEndpoint: c.SelfEndpoint,
		MaxPeers:     c.MaxPeers,
	}
}

// ConnManagerConfig projects Config onto connmgr.Config.
func (c Config) ConnManagerConfig() connmgr.Config {
	mode := connmgr.PeeringDynamic
	if c.PeeringMode == string(connmgr.PeeringStatic) {
		mode = connmgr.PeeringStatic
	}
	return connmgr.Config{
		PeeringMode:          mode,
		SelfEndpoint:         c.SelfEndpoint,
		InitialPeerEndpoints: c.InitialPeerEndpoints,
		InitialSeedEndpoints: c.InitialSeedEndpoints,
		MinPeers:             c.MinPeers,
		MaxPeers:             c.MaxPeers,
		CheckFrequency:       c.CheckFrequency,
	}
}
