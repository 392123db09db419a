// Package config holds the endpoint configuration and its TOML loader.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/BurntSushi/toml"
)

// Role selects which side of the session handshake this process plays.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// LinkKind selects the datagram transport.
type LinkKind string

const (
	LinkUDP    LinkKind = "udp"
	LinkWebRTC LinkKind = "webrtc"
)

var ErrInvalid = errors.New("config: invalid")

// Config stores every runtime parameter. Durations are written as Go
// duration strings in the file ("10s", "1m").
type Config struct {
	Role     Role     `toml:"role"`
	Listen   string   `toml:"listen"`    // server: bind address; client: optional local address
	Server   string   `toml:"server"`    // client: address of the server
	ServerID uint32   `toml:"server_id"` // sent in SessionRequest
	Link     LinkKind `toml:"link"`
	Signal   string   `toml:"signal"` // webrtc: signaling listen address (server) or URL (client)

	// SignalToken must be presented by signaling clients. Server only.
	SignalToken string `toml:"signal_token"`

	// Whitelist restricts which server IDs a server accepts. Empty accepts all.
	Whitelist []uint32 `toml:"whitelist"`

	PingInterval  time.Duration `toml:"ping_interval"`
	PingTimeout   time.Duration `toml:"ping_timeout"`
	SweepInterval time.Duration `toml:"sweep_interval"`
	EchoPing      bool          `toml:"echo_ping"`

	InboxSize    int     `toml:"inbox_size"`
	OutboxSize   int     `toml:"outbox_size"`
	InboundRate  float64 `toml:"inbound_rate"` // datagrams per second, 0 disables the limit
	InboundBurst int     `toml:"inbound_burst"`
	MaxDatagram  int     `toml:"max_datagram"`

	Admin         string        `toml:"admin"` // admin HTTP address, empty disables it
	StatsInterval time.Duration `toml:"stats_interval"`
	Debug         bool          `toml:"debug"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Role:          RoleServer,
		Listen:        "0.0.0.0:1110",
		ServerID:      1,
		Link:          LinkUDP,
		PingInterval:  10 * time.Second,
		PingTimeout:   60 * time.Second,
		SweepInterval: 10 * time.Second,
		EchoPing:      true,
		InboxSize:     1024,
		OutboxSize:    256,
		MaxDatagram:   512,
		StatsInterval: 10 * time.Second,
	}
}

// Load reads path over the defaults and validates the result. Keys that do
// not map to a field are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q in %s", ErrInvalid, undecoded[0].String(), path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the combination of values.
func (c Config) Validate() error {
	switch c.Role {
	case RoleServer:
		if _, err := c.ListenAddr(); err != nil {
			return err
		}
	case RoleClient:
		if c.Link != LinkWebRTC {
			if _, err := c.ServerAddr(); err != nil {
				return err
			}
		}
		if _, err := c.ListenAddr(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: role %q", ErrInvalid, c.Role)
	}

	switch c.Link {
	case LinkUDP:
	case LinkWebRTC:
		if c.Signal == "" {
			return fmt.Errorf("%w: webrtc link needs a signal address", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: link %q", ErrInvalid, c.Link)
	}

	if c.PingInterval <= 0 || c.PingTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalid)
	}
	if c.PingInterval >= c.PingTimeout {
		return fmt.Errorf("%w: ping_interval %s must be shorter than ping_timeout %s", ErrInvalid, c.PingInterval, c.PingTimeout)
	}
	if c.InboxSize <= 0 || c.OutboxSize <= 0 {
		return fmt.Errorf("%w: queue sizes must be positive", ErrInvalid)
	}
	if c.MaxDatagram <= 0 || c.MaxDatagram > 65507 {
		return fmt.Errorf("%w: max_datagram %d out of range", ErrInvalid, c.MaxDatagram)
	}
	if c.InboundRate < 0 || c.InboundBurst < 0 {
		return fmt.Errorf("%w: inbound rate and burst must not be negative", ErrInvalid)
	}
	return nil
}

// ListenAddr parses Listen. An empty Listen yields the zero address, which
// lets the transport pick an ephemeral port.
func (c Config) ListenAddr() (netip.AddrPort, error) {
	if c.Listen == "" {
		return netip.AddrPort{}, nil
	}
	ap, err := netip.ParseAddrPort(c.Listen)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: listen %q: %w", ErrInvalid, c.Listen, err)
	}
	return ap, nil
}

// ServerAddr parses Server.
func (c Config) ServerAddr() (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(c.Server)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: server %q: %w", ErrInvalid, c.Server, err)
	}
	return ap, nil
}

// Accepts reports whether a SessionRequest carrying serverID passes the
// whitelist.
func (c Config) Accepts(serverID uint32) bool {
	if len(c.Whitelist) == 0 {
		return true
	}
	for _, id := range c.Whitelist {
		if id == serverID {
			return true
		}
	}
	return false
}
