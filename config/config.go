package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultCycleSecs is one week, the settlement granularity used by most
// deployments.
const DefaultCycleSecs uint32 = 604800

// Config holds the daemon's deployment parameters. CycleSecs is part of the
// ledger's wire format: it must never change once a data directory holds
// state.
type Config struct {
	RPCAddress  string `toml:"RPCAddress"`
	DataDir     string `toml:"DataDir"`
	CycleSecs   uint32 `toml:"CycleSecs"`
	NetworkName string `toml:"NetworkName"`
	Env         string `toml:"Env"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants a running daemon depends on.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.CycleSecs <= 1 {
		return fmt.Errorf("config: CycleSecs must exceed one second, got %d", c.CycleSecs)
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:  "127.0.0.1:8645",
		DataDir:     "./dripsdata",
		CycleSecs:   DefaultCycleSecs,
		NetworkName: "drips-local",
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
