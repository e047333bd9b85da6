package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/charlink/internal/frontend"
	"github.com/danmuck/charlink/internal/link"
)

func apply(cfg frontend.Config, raw File, meta toml.MetaData) (frontend.Config, error) {
	if meta.IsDefined("node") {
		if node := strings.TrimSpace(raw.Node); node != "" {
			cfg.Link.Node = node
		}
	}
	if err := setDuration(meta, "heartbeat", raw.Heartbeat, &cfg.HeartbeatInterval); err != nil {
		return cfg, err
	}

	if meta.IsDefined("authority", "address") {
		cfg.Link.Address = strings.TrimSpace(raw.Authority.Address)
	}
	if meta.IsDefined("authority", "user_id") {
		cfg.Link.UserID = strings.TrimSpace(raw.Authority.UserID)
	}
	if meta.IsDefined("authority", "password") {
		cfg.Link.Password = raw.Authority.Password
	}
	if meta.IsDefined("authority", "public_addr") {
		ap, err := netip.ParseAddrPort(strings.TrimSpace(raw.Authority.PublicAddr))
		if err != nil {
			return cfg, fmt.Errorf("parse authority.public_addr: %w", err)
		}
		cfg.Link.PublicAddr = ap
	}
	if meta.IsDefined("authority", "zones") {
		cfg.Link.Zones = normalizeZones(raw.Authority.Zones)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"start_delay", raw.Link.StartDelay, &cfg.Link.StartDelay},
		{"retry_interval", raw.Link.RetryInterval, &cfg.Link.Backoff.InitialDelay},
		{"retry_max", raw.Link.RetryMax, &cfg.Link.Backoff.MaxDelay},
		{"connect_timeout", raw.Link.ConnectTimeout, &cfg.Link.ConnectTimeout},
		{"handshake_timeout", raw.Link.HandshakeTimeout, &cfg.Link.HandshakeTimeout},
		{"write_timeout", raw.Link.WriteTimeout, &cfg.Link.WriteTimeout},
		{"census_interval", raw.Link.CensusInterval, &cfg.Link.CensusInterval},
		{"sweep_interval", raw.Link.SweepInterval, &cfg.Link.SweepInterval},
		{"tick_interval", raw.Link.TickInterval, &cfg.Link.TickInterval},
	}
	for _, d := range durations {
		if err := setDuration(meta, "link."+d.key, d.raw, d.dst); err != nil {
			return cfg, err
		}
	}
	if meta.IsDefined("link", "retry_multiplier") {
		cfg.Link.Backoff.Multiplier = raw.Link.RetryMultiplier
	}
	if meta.IsDefined("link", "retry_jitter") {
		cfg.Link.Backoff.Jitter = raw.Link.RetryJitter
	}
	if meta.IsDefined("link", "outbound_queue") {
		cfg.Link.OutboundQueue = raw.Link.OutboundQueue
	}
	if meta.IsDefined("link", "read_buffer_size") {
		cfg.Link.ReadBufferSize = raw.Link.ReadBufferSize
	}
	if meta.IsDefined("link", "discard_opcodes") {
		cfg.DiscardOpcodes = append([]uint16(nil), raw.Link.DiscardOpcodes...)
	}

	if err := setDuration(meta, "sessions.auth_ttl", raw.Sessions.AuthTTL, &cfg.Link.AuthTTL); err != nil {
		return cfg, err
	}
	if meta.IsDefined("sessions", "disconnect_policy") {
		policy, err := link.ParseDisconnectPolicy(raw.Sessions.DisconnectPolicy)
		if err != nil {
			return cfg, err
		}
		cfg.Link.DisconnectPolicy = policy
	}
	if meta.IsDefined("sessions", "hide_gm_sessions") {
		cfg.Link.HideGMSessions = raw.Sessions.HideGMSessions
	}

	if meta.IsDefined("rates", "base") {
		cfg.Link.ServerInfo.BaseRate = raw.Rates.Base
	}
	if meta.IsDefined("rates", "job") {
		cfg.Link.ServerInfo.JobRate = raw.Rates.Job
	}
	if meta.IsDefined("rates", "drop") {
		cfg.Link.ServerInfo.DropRate = raw.Rates.Drop
	}
	if meta.IsDefined("rates", "motd") {
		cfg.Link.ServerInfo.MOTD = raw.Rates.MOTD
	}

	if meta.IsDefined("admin", "listen") {
		cfg.Admin.ListenAddr = strings.TrimSpace(raw.Admin.Listen)
	}
	if meta.IsDefined("admin", "cors_origins") {
		cfg.Admin.CorsOrigins = raw.Admin.CorsOrigins
	}
	if meta.IsDefined("admin", "token") {
		cfg.Admin.Token = strings.TrimSpace(raw.Admin.Token)
	}

	if cfg.HeartbeatInterval <= 0 {
		return cfg, frontend.ErrInvalidHeartbeatInterval
	}
	if err := cfg.Link.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setDuration parses raw into dst when the dotted key is present.
func setDuration(meta toml.MetaData, key, raw string, dst *time.Duration) error {
	if !meta.IsDefined(strings.Split(key, ".")...) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func normalizeZones(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, z := range in {
		v := strings.TrimSpace(z)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// fromConfig renders cfg in the on-disk shape.
func fromConfig(cfg frontend.Config) File {
	l := cfg.Link
	f := File{
		Node:      l.Node,
		Heartbeat: cfg.HeartbeatInterval.String(),
		Authority: Authority{
			Address:  l.Address,
			UserID:   l.UserID,
			Password: l.Password,
			Zones:    append([]string{}, l.Zones...),
		},
		Link: Link{
			StartDelay:       l.StartDelay.String(),
			RetryInterval:    l.Backoff.InitialDelay.String(),
			RetryMultiplier:  l.Backoff.Multiplier,
			RetryMax:         l.Backoff.MaxDelay.String(),
			RetryJitter:      l.Backoff.Jitter,
			ConnectTimeout:   l.ConnectTimeout.String(),
			HandshakeTimeout: l.HandshakeTimeout.String(),
			WriteTimeout:     l.WriteTimeout.String(),
			CensusInterval:   l.CensusInterval.String(),
			SweepInterval:    l.SweepInterval.String(),
			TickInterval:     l.TickInterval.String(),
			OutboundQueue:    l.OutboundQueue,
			ReadBufferSize:   l.ReadBufferSize,
			DiscardOpcodes:   append([]uint16{}, cfg.DiscardOpcodes...),
		},
		Sessions: Sessions{
			AuthTTL:          l.AuthTTL.String(),
			DisconnectPolicy: string(l.DisconnectPolicy),
			HideGMSessions:   l.HideGMSessions,
		},
		Rates: Rates{
			Base: l.ServerInfo.BaseRate,
			Job:  l.ServerInfo.JobRate,
			Drop: l.ServerInfo.DropRate,
			MOTD: l.ServerInfo.MOTD,
		},
		Admin: Admin{
			Listen:      cfg.Admin.ListenAddr,
			CorsOrigins: append([]string{}, cfg.Admin.CorsOrigins...),
			Token:       cfg.Admin.Token,
		},
	}
	if l.PublicAddr.IsValid() {
		f.Authority.PublicAddr = l.PublicAddr.String()
	}
	return f
}
