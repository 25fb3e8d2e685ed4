package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/phanxgames/arbor/internal/bounce"
)

// Config is the arborbench configuration file.
//
//	ticks = 600
//	metrics_addr = ":9100"
//
//	[scene]
//	groups = 5
//	half = 30
type Config struct {
	Ticks       int           `toml:"ticks"`
	MetricsAddr string        `toml:"metrics_addr"`
	Scene       bounce.Config `toml:"scene"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Ticks: 600,
		Scene: bounce.DefaultConfig(),
	}
}

// LoadConfig reads path over the defaults. Keys missing from the file keep
// their default values; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return cfg, fmt.Errorf("config %s: unknown key %q", path, undec[0].String())
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Ticks <= 0 {
		return errors.New("ticks must be positive")
	}
	return c.Scene.Validate()
}

// WriteTOML encodes c to w.
func (c Config) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
