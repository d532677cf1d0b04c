// Package config defines per-session configuration and a YAML loader for
// externalizing lane/bandwidth tuning.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LaneKind enumerates the four lane reliability/ordering policies.
type LaneKind int

const (
	UnreliableUnordered LaneKind = iota
	UnreliableSequenced
	ReliableUnordered
	ReliableOrdered
)

func (k LaneKind) String() string {
	switch k {
	case UnreliableUnordered:
		return "unreliable-unordered"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	case ReliableUnordered:
		return "reliable-unordered"
	case ReliableOrdered:
		return "reliable-ordered"
	default:
		return "unknown"
	}
}

// Config holds every per-session tunable.
type Config struct {
	// SessionID labels this session's metrics and log lines. The caller
	// sets it, e.g. to the string form of the ID uuid that the transport/udp,
	// transport/ws and transport/quicdgram adapters mint per connection; the
	// adapters do not set it themselves. Left empty, metrics are still
	// recorded, just under an empty session_id label.
	SessionID                   string
	Version                     uint64
	Lanes                       []LaneKind
	MTU                         int
	BandwidthBytesPerSec        int
	PerLaneBandwidthBytesPerSec []int
	RetransmitBase              time.Duration
	RetransmitCeiling           time.Duration
	IdleTimeout                 time.Duration
	HandshakeTimeout            time.Duration
	MaxReassemblyBytes          int
	MaxSendQueueBytes           int
	PacketRecordCapacity        int
	InitialRTT                  time.Duration
	ReassemblyDropWindow        time.Duration
}

// Default returns a Config with conservative defaults: a 333ms initial RTT,
// a 1200-byte MTU (safe for most network paths once IP/UDP overhead is
// subtracted), and generous resource ceilings suitable for a single
// long-lived session.
func Default() *Config {
	return &Config{
		Version:              1,
		Lanes:                []LaneKind{UnreliableUnordered},
		MTU:                  1200,
		BandwidthBytesPerSec: 1 << 20, // 1 MiB/s
		RetransmitBase:       0,       // derived from RTT when zero
		RetransmitCeiling:    2 * time.Second,
		IdleTimeout:          30 * time.Second,
		HandshakeTimeout:     5 * time.Second,
		MaxReassemblyBytes:   4 << 20,
		MaxSendQueueBytes:    4 << 20,
		PacketRecordCapacity: 1024,
		InitialRTT:           333 * time.Millisecond,
		ReassemblyDropWindow: 5 * time.Second,
	}
}

// Option mutates a Config in place, following the functional-options idiom.
type Option func(*Config)

// New builds a Config from Default() with the given options applied.
func New(opts ...Option) *Config {
	c := Default()
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithSessionID(id string) Option { return func(c *Config) { c.SessionID = id } }
func WithVersion(v uint64) Option { return func(c *Config) { c.Version = v } }
func WithLanes(lanes ...LaneKind) Option {
	return func(c *Config) { c.Lanes = append([]LaneKind(nil), lanes...) }
}
func WithMTU(mtu int) Option { return func(c *Config) { c.MTU = mtu } }
func WithBandwidth(bytesPerSec int) Option {
	return func(c *Config) { c.BandwidthBytesPerSec = bytesPerSec }
}
func WithPerLaneBandwidth(bytesPerSec ...int) Option {
	return func(c *Config) { c.PerLaneBandwidthBytesPerSec = append([]int(nil), bytesPerSec...) }
}
func WithIdleTimeout(d time.Duration) Option { return func(c *Config) { c.IdleTimeout = d } }
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Config) { c.HandshakeTimeout = d }
}
func WithMaxReassemblyBytes(n int) Option { return func(c *Config) { c.MaxReassemblyBytes = n } }
func WithMaxSendQueueBytes(n int) Option { return func(c *Config) { c.MaxSendQueueBytes = n } }
func WithPacketRecordCapacity(n int) Option {
	return func(c *Config) { c.PacketRecordCapacity = n }
}
func WithInitialRTT(d time.Duration) Option { return func(c *Config) { c.InitialRTT = d } }
func WithReassemblyDropWindow(d time.Duration) Option {
	return func(c *Config) { c.ReassemblyDropWindow = d }
}

// yamlConfig mirrors Config with plain-old-data/string fields suitable for
// unmarshaling, then converts into a Config.
type yamlConfig struct {
	Version                     uint64   `yaml:"version"`
	Lanes                       []string `yaml:"lanes"`
	MTU                         int      `yaml:"mtu"`
	BandwidthBytesPerSec        int      `yaml:"bandwidth_bytes_per_sec"`
	PerLaneBandwidthBytesPerSec []int    `yaml:"per_lane_bandwidth_bytes_per_sec"`
	RetransmitBaseMillis        int      `yaml:"retransmit_base_ms"`
	RetransmitCeilingMillis     int      `yaml:"retransmit_ceiling_ms"`
	IdleTimeoutMillis           int      `yaml:"idle_timeout_ms"`
	HandshakeTimeoutMillis      int      `yaml:"handshake_timeout_ms"`
	MaxReassemblyBytes          int      `yaml:"max_reassembly_bytes"`
	MaxSendQueueBytes           int      `yaml:"max_send_queue_bytes"`
	PacketRecordCapacity        int      `yaml:"packet_record_capacity"`
	InitialRTTMillis            int      `yaml:"initial_rtt_ms"`
	ReassemblyDropWindowMillis  int      `yaml:"reassembly_drop_window_ms"`
}

var laneNames = map[string]LaneKind{
	"unreliable-unordered": UnreliableUnordered,
	"unreliable-sequenced": UnreliableSequenced,
	"reliable-unordered":   ReliableUnordered,
	"reliable-ordered":     ReliableOrdered,
}

// LoadYAML reads a Config from a YAML file, starting from Default() so an
// omitted field keeps its default value.
func LoadYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	c := Default()
	if y.Version != 0 {
		c.Version = y.Version
	}
	if len(y.Lanes) > 0 {
		lanes := make([]LaneKind, 0, len(y.Lanes))
		for _, name := range y.Lanes {
			kind, ok := laneNames[name]
			if !ok {
				return nil, fmt.Errorf("config: unknown lane kind %q", name)
			}
			lanes = append(lanes, kind)
		}
		c.Lanes = lanes
	}
	if y.MTU != 0 {
		c.MTU = y.MTU
	}
	if y.BandwidthBytesPerSec != 0 {
		c.BandwidthBytesPerSec = y.BandwidthBytesPerSec
	}
	if len(y.PerLaneBandwidthBytesPerSec) > 0 {
		c.PerLaneBandwidthBytesPerSec = y.PerLaneBandwidthBytesPerSec
	}
	if y.RetransmitBaseMillis != 0 {
		c.RetransmitBase = time.Duration(y.RetransmitBaseMillis) * time.Millisecond
	}
	if y.RetransmitCeilingMillis != 0 {
		c.RetransmitCeiling = time.Duration(y.RetransmitCeilingMillis) * time.Millisecond
	}
	if y.IdleTimeoutMillis != 0 {
		c.IdleTimeout = time.Duration(y.IdleTimeoutMillis) * time.Millisecond
	}
	if y.HandshakeTimeoutMillis != 0 {
		c.HandshakeTimeout = time.Duration(y.HandshakeTimeoutMillis) * time.Millisecond
	}
	if y.MaxReassemblyBytes != 0 {
		c.MaxReassemblyBytes = y.MaxReassemblyBytes
	}
	if y.MaxSendQueueBytes != 0 {
		c.MaxSendQueueBytes = y.MaxSendQueueBytes
	}
	if y.PacketRecordCapacity != 0 {
		c.PacketRecordCapacity = y.PacketRecordCapacity
	}
	if y.InitialRTTMillis != 0 {
		c.InitialRTT = time.Duration(y.InitialRTTMillis) * time.Millisecond
	}
	if y.ReassemblyDropWindowMillis != 0 {
		c.ReassemblyDropWindow = time.Duration(y.ReassemblyDropWindowMillis) * time.Millisecond
	}
	return c, nil
}

// Validate checks internal consistency (lane count bounds, a positive MTU,
// per-lane bandwidth list length matching the lane count).
func (c *Config) Validate() error {
	if len(c.Lanes) == 0 {
		return fmt.Errorf("config: at least one lane is required")
	}
	if len(c.Lanes) > 255 {
		return fmt.Errorf("config: at most 255 lanes are supported, got %d", len(c.Lanes))
	}
	if c.MTU <= 0 {
		return fmt.Errorf("config: MTU must be positive, got %d", c.MTU)
	}
	if len(c.PerLaneBandwidthBytesPerSec) > 0 && len(c.PerLaneBandwidthBytesPerSec) != len(c.Lanes) {
		return fmt.Errorf("config: per_lane_bandwidth_bytes_per_sec length %d does not match lane count %d",
			len(c.PerLaneBandwidthBytesPerSec), len(c.Lanes))
	}
	return nil
}
