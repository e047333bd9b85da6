package link

import (
	"errors"
	"math/rand"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/charlink/internal/protocol"
)

func TestDefaultsMatchLegacyCadence(t *testing.T) {
	cfg := Config{Address: "a:1", UserID: "u", Zones: []string{"prontera"}}.WithDefaults()
	if cfg.StartDelay != time.Second || cfg.Backoff.InitialDelay != 10*time.Second {
		t.Fatalf("retry cadence=%s/%s", cfg.StartDelay, cfg.Backoff.InitialDelay)
	}
	if cfg.CensusInterval != 5*time.Second || cfg.SweepInterval != 10*time.Second || cfg.AuthTTL != 30*time.Second {
		t.Fatalf("timers=%s/%s/%s", cfg.CensusInterval, cfg.SweepInterval, cfg.AuthTTL)
	}
	if cfg.DisconnectPolicy != PolicyKick {
		t.Fatalf("policy=%s", cfg.DisconnectPolicy)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	base := testConfig()
	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"address", func(c *Config) { c.Address = " " }, ErrAddressRequired},
		{"user", func(c *Config) { c.UserID = "" }, ErrUserIDRequired},
		{"zones", func(c *Config) { c.Zones = nil }, ErrZonesRequired},
		{"policy", func(c *Config) { c.DisconnectPolicy = "linger" }, ErrInvalidPolicy},
		{"tick", func(c *Config) { c.TickInterval = -time.Second }, ErrInvalidDuration},
		{"start delay", func(c *Config) { c.StartDelay = -time.Second }, ErrInvalidDuration},
		{"queue", func(c *Config) { c.OutboundQueue = -1 }, ErrInvalidQueueSize},
		{"long user", func(c *Config) { c.UserID = strings.Repeat("u", 24) }, protocol.ErrStringTooLong},
		{"long zone", func(c *Config) { c.Zones = []string{strings.Repeat("z", 16)} }, protocol.ErrStringTooLong},
		{"ipv6 addr", func(c *Config) { c.PublicAddr = netip.MustParseAddrPort("[::1]:5121") }, protocol.ErrInvalidAddress},
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config: %v", err)
	}
}

func TestParseDisconnectPolicy(t *testing.T) {
	for raw, want := range map[string]DisconnectPolicy{"": PolicyKick, "KICK": PolicyKick, " preserve ": PolicyPreserve} {
		got, err := ParseDisconnectPolicy(raw)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %s err %v", raw, got, err)
		}
	}
	if _, err := ParseDisconnectPolicy("drop"); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}

func TestNextBackoffDelay(t *testing.T) {
	fixed := BackoffConfig{InitialDelay: 10 * time.Second, Multiplier: 1}
	for attempt := 0; attempt < 20; attempt++ {
		if d := NextBackoffDelay(fixed, attempt, nil); d != 10*time.Second {
			t.Fatalf("attempt %d: delay=%s", attempt, d)
		}
	}

	growing := BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if d := NextBackoffDelay(growing, i+1, nil); d != w {
			t.Fatalf("attempt %d: delay=%s want=%s", i+1, d, w)
		}
	}

	jittered := BackoffConfig{InitialDelay: 10 * time.Second, Multiplier: 1, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		d := NextBackoffDelay(jittered, 1, rng)
		if d < 10*time.Second || d >= 15*time.Second {
			t.Fatalf("jittered delay %s outside [10s,15s)", d)
		}
	}

	if d := NextBackoffDelay(BackoffConfig{}, 3, nil); d != 0 {
		t.Fatalf("zero config delay=%s", d)
	}
}

func TestZoneDirectory(t *testing.T) {
	a := netip.MustParseAddrPort("10.0.0.2:5121")
	b := netip.MustParseAddrPort("10.0.0.3:5121")
	d := NewZoneDirectory([]string{"prontera"})

	if n := d.Announce(a, []string{"prontera", "geffen", "", "payon"}); n != 2 {
		t.Fatalf("announce added %d", n)
	}
	if _, ok := d.Lookup("prontera"); ok {
		t.Fatalf("local zone recorded as remote")
	}
	if n := d.Announce(a, []string{"geffen"}); n != 0 {
		t.Fatalf("re-announce counted %d", n)
	}
	if n := d.Announce(b, []string{"payon"}); n != 1 {
		t.Fatalf("move counted %d", n)
	}
	if n := d.Withdraw(a, []string{"payon", "geffen"}); n != 1 {
		t.Fatalf("withdraw removed %d", n)
	}
	if addr, ok := d.Lookup("payon"); !ok || addr != b {
		t.Fatalf("zone re-announced elsewhere was withdrawn")
	}
	entries := d.Entries()
	if len(entries) != 1 || entries[0] != (ZoneEntry{Zone: "payon", Addr: b}) {
		t.Fatalf("entries=%+v", entries)
	}
	if n := d.Withdraw(netip.AddrPort{}, []string{"payon"}); n != 1 {
		t.Fatalf("addressless withdraw removed %d", n)
	}
	d.Announce(a, []string{"izlude", "alberta"})
	if n := d.Clear(); n != 2 || d.Len() != 0 {
		t.Fatalf("clear=%d len=%d", n, d.Len())
	}
}

func TestBanMessage(t *testing.T) {
	until := protocol.AccountBan{Kind: protocol.BanKindUntil, Value: 1700000000}
	if got := banMessage(until); got != "Your account has been banished until 14-11-2023 22:13:20" {
		t.Fatalf("until message=%q", got)
	}
	if got := banMessage(protocol.AccountBan{Kind: protocol.BanKindStatus, Value: 5}); !strings.Contains(got, "blocked by the GM Team") {
		t.Fatalf("status message=%q", got)
	}
	if got := banMessage(protocol.AccountBan{Kind: protocol.BanKindStatus, Value: 42}); got != "Your account has not more authorised." {
		t.Fatalf("fallback message=%q", got)
	}
}

func TestStateNames(t *testing.T) {
	names := StateNames()
	if len(names) != 5 || names[Ready] != "ready" || Disconnected.String() != "disconnected" {
		t.Fatalf("names=%v", names)
	}
	if State(9).String() != "state(9)" {
		t.Fatalf("unknown state label=%s", State(9))
	}
}
