package link

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/danmuck/charlink/internal/auth"
	"github.com/danmuck/charlink/internal/protocol"
)

var (
	ErrAddressRequired  = errors.New("link: authority address required")
	ErrUserIDRequired   = errors.New("link: user id required")
	ErrZonesRequired    = errors.New("link: at least one zone required")
	ErrInvalidPolicy    = errors.New("link: invalid disconnect policy")
	ErrInvalidDuration  = errors.New("link: invalid duration")
	ErrInvalidQueueSize = errors.New("link: invalid queue size")
)

// DisconnectPolicy decides what happens to local sessions when the link drops.
type DisconnectPolicy string

const (
	// PolicyKick force-terminates every local session.
	PolicyKick DisconnectPolicy = "kick"
	// PolicyPreserve keeps local sessions; they are reported again once the
	// link is ready.
	PolicyPreserve DisconnectPolicy = "preserve"
)

func ParseDisconnectPolicy(raw string) (DisconnectPolicy, error) {
	switch DisconnectPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PolicyKick:
		return PolicyKick, nil
	case PolicyPreserve:
		return PolicyPreserve, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

// BackoffConfig defines reconnect delay behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines one front-end's link to its authority.
type Config struct {
	Node       string
	Address    string
	UserID     string
	Password   string
	PublicAddr netip.AddrPort
	Zones      []string

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	StartDelay       time.Duration
	Backoff          BackoffConfig

	CensusInterval time.Duration
	SweepInterval  time.Duration
	TickInterval   time.Duration
	AuthTTL        time.Duration

	OutboundQueue  int
	ReadBufferSize int

	DisconnectPolicy DisconnectPolicy
	HideGMSessions   bool
	ServerInfo       protocol.ServerInfo
}

// DefaultConfig returns the legacy cadence: first attempt after 1s, fixed 10s
// retries, census every 5s, pending-auth sweep every 10s.
func DefaultConfig() Config {
	return Config{
		Node:             "frontend",
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     15 * time.Second,
		StartDelay:       time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Second,
			Multiplier:   1.0,
		},
		CensusInterval:   5 * time.Second,
		SweepInterval:    10 * time.Second,
		TickInterval:     100 * time.Millisecond,
		AuthTTL:          auth.DefaultTTL,
		OutboundQueue:    1024,
		ReadBufferSize:   64 * 1024,
		DisconnectPolicy: PolicyKick,
		ServerInfo: protocol.ServerInfo{
			BaseRate: 100,
			JobRate:  100,
			DropRate: 100,
		},
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Node) == "" {
		c.Node = d.Node
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.StartDelay == 0 {
		c.StartDelay = d.StartDelay
	}
	if c.Backoff.InitialDelay == 0 {
		c.Backoff.InitialDelay = d.Backoff.InitialDelay
	}
	if c.Backoff.Multiplier == 0 {
		c.Backoff.Multiplier = d.Backoff.Multiplier
	}
	if c.CensusInterval == 0 {
		c.CensusInterval = d.CensusInterval
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.AuthTTL == 0 {
		c.AuthTTL = d.AuthTTL
	}
	if c.OutboundQueue == 0 {
		c.OutboundQueue = d.OutboundQueue
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.DisconnectPolicy == "" {
		c.DisconnectPolicy = d.DisconnectPolicy
	}
	if c.ServerInfo == (protocol.ServerInfo{}) {
		c.ServerInfo = d.ServerInfo
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if strings.TrimSpace(c.UserID) == "" {
		return ErrUserIDRequired
	}
	if len(c.Zones) == 0 {
		return ErrZonesRequired
	}
	if _, err := ParseDisconnectPolicy(string(c.DisconnectPolicy)); err != nil {
		return err
	}
	durations := map[string]time.Duration{
		"connect_timeout":   c.ConnectTimeout,
		"handshake_timeout": c.HandshakeTimeout,
		"census_interval":   c.CensusInterval,
		"sweep_interval":    c.SweepInterval,
		"tick_interval":     c.TickInterval,
		"auth_ttl":          c.AuthTTL,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s=%s", ErrInvalidDuration, name, d)
		}
	}
	if c.StartDelay < 0 || c.Backoff.InitialDelay < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidDuration)
	}
	if c.OutboundQueue <= 0 || c.ReadBufferSize <= 0 {
		return ErrInvalidQueueSize
	}
	if _, err := (protocol.Handshake{UserID: c.UserID, Password: c.Password, Addr: c.PublicAddr}).Encode(); err != nil {
		return fmt.Errorf("link: handshake credentials: %w", err)
	}
	if _, err := (protocol.ZoneRegistration{Zones: c.Zones}).Encode(); err != nil {
		return fmt.Errorf("link: zones: %w", err)
	}
	if _, err := c.ServerInfo.Encode(); err != nil {
		return fmt.Errorf("link: server info: %w", err)
	}
	return nil
}
