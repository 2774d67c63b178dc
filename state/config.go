package state

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Mode selects whether an IPCP bootstraps a DIF or joins one as a member.
type Mode string

const (
	ModeBootstrap Mode = "bootstrap"
	ModeMember    Mode = "member"
)

// BootstrapPeer is a pre-configured underlay endpoint for a member's
// configured bootstrap peers (spec.md §6, member-only bootstrap_peers).
type BootstrapPeer struct {
	RinaAddr uint64 `yaml:"rina_addr"`
	Endpoint string `yaml:"endpoint"`
}

type ShimCfg struct {
	BindEndpoint string `yaml:"bind_endpoint"`
}

type EnrolmentCfg struct {
	TimeoutSecs           int `yaml:"timeout_secs"`
	MaxRetries            int `yaml:"max_retries"`
	InitialBackoffMs      int `yaml:"initial_backoff_ms"`
	HeartbeatIntervalSecs int `yaml:"heartbeat_interval_secs"`
	ConnectionTimeoutSecs int `yaml:"connection_timeout_secs"`
}

type StaticRouteCfg struct {
	Dst             uint64 `yaml:"dst"`
	NextHopRinaAddr uint64 `yaml:"next_hop_rina_addr"`
	NextHopEndpoint string `yaml:"next_hop_endpoint"`
}

type RoutingCfg struct {
	StaticRoutes []StaticRouteCfg `yaml:"static_routes"`
}

type RibCfg struct {
	ChangeLogSize        int    `yaml:"change_log_size"`
	SnapshotIntervalSecs int    `yaml:"snapshot_interval_secs"`
	SnapshotPath         string `yaml:"snapshot_path,omitempty"`
	RibSyncIntervalSecs  int    `yaml:"rib_sync_interval_secs"`
}

// Config is the external configuration record from spec.md §6. Parsing the
// on-disk syntax is ambient plumbing; the record's semantics are the part of
// the core this package owns.
type Config struct {
	IpcpName string `yaml:"ipcp_name"`
	Mode     Mode   `yaml:"mode"`
	DifName  string `yaml:"dif_name"`

	// bootstrap-only
	Address          uint64 `yaml:"address,omitempty"`
	AddressPoolStart uint64 `yaml:"address_pool_start,omitempty"`
	AddressPoolEnd   uint64 `yaml:"address_pool_end,omitempty"`

	// member-only
	BootstrapPeers []BootstrapPeer `yaml:"bootstrap_peers,omitempty"`

	Shim      ShimCfg      `yaml:"shim"`
	Enrolment EnrolmentCfg `yaml:"enrolment"`
	Routing   RoutingCfg   `yaml:"routing"`
	Rib       RibCfg       `yaml:"rib"`
}

// Load reads and validates a YAML-encoded Config from path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := NameValidator(c.IpcpName); err != nil {
		return fmt.Errorf("ipcp_name: %w", err)
	}
	if err := NameValidator(c.DifName); err != nil {
		return fmt.Errorf("dif_name: %w", err)
	}
	if err := EndpointValidator(c.Shim.BindEndpoint); err != nil {
		return fmt.Errorf("shim.bind_endpoint: %w", err)
	}

	switch c.Mode {
	case ModeBootstrap:
		if c.AddressPoolStart == 0 || c.AddressPoolEnd < c.AddressPoolStart {
			return fmt.Errorf("bootstrap mode requires a valid address_pool_start/end range")
		}
		if err := AddressValidator(c.Address); err != nil {
			return fmt.Errorf("address: %w", err)
		}
	case ModeMember:
		if len(c.BootstrapPeers) == 0 {
			return fmt.Errorf("member mode requires at least one bootstrap_peer")
		}
		for i, peer := range c.BootstrapPeers {
			if err := AddressValidator(peer.RinaAddr); err != nil {
				return fmt.Errorf("bootstrap_peers[%d].rina_addr: %w", i, err)
			}
			if err := EndpointValidator(peer.Endpoint); err != nil {
				return fmt.Errorf("bootstrap_peers[%d].endpoint: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeBootstrap, ModeMember, c.Mode)
	}
	return nil
}

func (c *Config) EnrolmentTimeout() time.Duration {
	if c.Enrolment.TimeoutSecs <= 0 {
		return DefaultEnrolmentTimeout
	}
	return time.Duration(c.Enrolment.TimeoutSecs) * time.Second
}

func (c *Config) MaxRetries() int {
	if c.Enrolment.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return c.Enrolment.MaxRetries
}

func (c *Config) InitialBackoff() time.Duration {
	if c.Enrolment.InitialBackoffMs <= 0 {
		return DefaultInitialBackoff
	}
	return time.Duration(c.Enrolment.InitialBackoffMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	if c.Enrolment.HeartbeatIntervalSecs <= 0 {
		return DefaultHeartbeatInterval
	}
	return time.Duration(c.Enrolment.HeartbeatIntervalSecs) * time.Second
}

func (c *Config) ConnectionTimeout() time.Duration {
	if c.Enrolment.ConnectionTimeoutSecs <= 0 {
		return DefaultConnectionTimeout
	}
	return time.Duration(c.Enrolment.ConnectionTimeoutSecs) * time.Second
}

func (c *Config) ChangeLogCapacity() int {
	if c.Rib.ChangeLogSize <= 0 {
		return DefaultChangeLogCapacity
	}
	return c.Rib.ChangeLogSize
}

func (c *Config) RibSyncInterval() time.Duration {
	if c.Rib.RibSyncIntervalSecs <= 0 {
		return DefaultRibSyncInterval
	}
	return time.Duration(c.Rib.RibSyncIntervalSecs) * time.Second
}

func (c *Config) SnapshotInterval() time.Duration {
	if c.Rib.SnapshotIntervalSecs <= 0 {
		return DefaultSnapshotInterval
	}
	return time.Duration(c.Rib.SnapshotIntervalSecs) * time.Second
}
