// Package config loads the TOML file selected by -c on the command
// line and validates it into a typed Config. Unlike the teacher's
// jsonconfig (which parses a dynamic JSON tree for blobserver
// storage graphs), ephemera's configuration surface is flat and
// fully static, so a struct tag decode is enough.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Log       LogConfig       `toml:"log"`
	Authorize AuthorizeConfig `toml:"authorize"`
	HTTPS     HTTPSConfig     `toml:"https"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type StorageConfig struct {
	Path     string `toml:"path"`
	Quota    int64  `toml:"quota"`
	Reserved int64  `toml:"reserved"`
}

type LogConfig struct {
	Level string `toml:"level"`
	Path  string `toml:"path"`
}

type AuthorizeConfig struct {
	Secret string `toml:"secret"`
}

type HTTPSConfig struct {
	Port int    `toml:"port"`
	Cert string `toml:"cert"`
	Key  string `toml:"key"`
}

// Load decodes and validates the TOML file at path. Any failure here
// is fatal at startup per the error taxonomy's "Fatal" category.
func Load(path string) (*Config, error) {
	var c Config
	meta, err := toml.DecodeFile(path, &c)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		// Unknown keys are tolerated (forward compatibility) but
		// logged by the caller; not a parse failure.
		_ = undec
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.Quota <= 0 {
		return fmt.Errorf("storage.quota must be positive, got %d", c.Storage.Quota)
	}
	if c.Storage.Reserved < 0 || c.Storage.Reserved >= c.Storage.Quota {
		return fmt.Errorf("storage.reserved must be in [0, quota), got %d", c.Storage.Reserved)
	}
	switch c.Log.Level {
	case "", "error", "warn", "info", "debug", "trace":
	default:
		return fmt.Errorf("log.level must be one of error|warn|info|debug|trace, got %q", c.Log.Level)
	}
	if c.HTTPS.Port != 0 && (c.HTTPS.Cert == "" || c.HTTPS.Key == "") {
		return fmt.Errorf("https.cert and https.key are required when https.port is set")
	}
	return nil
}

// EffectiveQuota is the byte budget after the reserved deduction,
// per the quota cache invariant: committed + reserved <= quota - reserved_minimum.
func (c *Config) EffectiveQuota() int64 {
	return c.Storage.Quota - c.Storage.Reserved
}
