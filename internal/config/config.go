// Package config reads and writes the charlinkd TOML file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/charlink/internal/frontend"
)

// File is the on-disk shape. Durations are Go duration strings.
type File struct {
	Node      string    `toml:"node"`
	Heartbeat string    `toml:"heartbeat"`
	Authority Authority `toml:"authority"`
	Link      Link      `toml:"link"`
	Sessions  Sessions  `toml:"sessions"`
	Rates     Rates     `toml:"rates"`
	Admin     Admin     `toml:"admin"`
}

type Authority struct {
	Address    string   `toml:"address"`
	UserID     string   `toml:"user_id"`
	Password   string   `toml:"password"`
	PublicAddr string   `toml:"public_addr"`
	Zones      []string `toml:"zones"`
}

type Link struct {
	StartDelay       string   `toml:"start_delay"`
	RetryInterval    string   `toml:"retry_interval"`
	RetryMultiplier  float64  `toml:"retry_multiplier"`
	RetryMax         string   `toml:"retry_max"`
	RetryJitter      bool     `toml:"retry_jitter"`
	ConnectTimeout   string   `toml:"connect_timeout"`
	HandshakeTimeout string   `toml:"handshake_timeout"`
	WriteTimeout     string   `toml:"write_timeout"`
	CensusInterval   string   `toml:"census_interval"`
	SweepInterval    string   `toml:"sweep_interval"`
	TickInterval     string   `toml:"tick_interval"`
	OutboundQueue    int      `toml:"outbound_queue"`
	ReadBufferSize   int      `toml:"read_buffer_size"`
	DiscardOpcodes   []uint16 `toml:"discard_opcodes"`
}

type Sessions struct {
	AuthTTL          string `toml:"auth_ttl"`
	DisconnectPolicy string `toml:"disconnect_policy"`
	HideGMSessions   bool   `toml:"hide_gm_sessions"`
}

type Rates struct {
	Base uint16 `toml:"base"`
	Job  uint16 `toml:"job"`
	Drop uint16 `toml:"drop"`
	MOTD string `toml:"motd"`
}

type Admin struct {
	Listen      string   `toml:"listen"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

// Load reads path and applies every key it defines onto
// frontend.DefaultConfig. Unknown keys are an error.
func Load(path string) (frontend.Config, error) {
	var raw File
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return frontend.Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return frontend.Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}
	cfg, err := apply(frontend.DefaultConfig(), raw, meta)
	if err != nil {
		return frontend.Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}
