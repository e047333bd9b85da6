package config

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/danmuck/charlink/internal/frontend"
	"github.com/pelletier/go-toml/v2"
)

// Template renders a complete config file: the runtime defaults plus
// placeholder authority credentials.
func Template() ([]byte, error) {
	cfg := frontend.DefaultConfig()
	cfg.Link.Address = "127.0.0.1:6121"
	cfg.Link.UserID = "s1"
	cfg.Link.Password = "p1"
	cfg.Link.PublicAddr = netip.MustParseAddrPort("127.0.0.1:5121")
	cfg.Link.Zones = []string{"prontera"}
	cfg.Admin.ListenAddr = "127.0.0.1:7121"
	cfg.Admin.CorsOrigins = []string{"http://localhost:3000"}

	out, err := toml.Marshal(fromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("config template render failed: %w", err)
	}
	return out, nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, template, 0o600)
}
