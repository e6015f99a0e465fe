// Package config loads the control plane's configuration, recognising
// spec.md §6.3's environment variables (and the equivalent TOML keys)
// with environment taking precedence over file. Grounded on the teacher's
// modules/zeta/config TOML-file + env-override pattern
// (decode.go/encode.go), generalised from the teacher's user/system/repo
// config cascade to spec.md's flatter control-plane settings.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the control plane's resolved configuration (spec.md §6.3).
type Config struct {
	DatabaseURL     string `toml:"database_url"`
	S3Bucket        string `toml:"s3_bucket"`
	StorageBasePath string `toml:"storage_base_path"`
	Port            int    `toml:"port"`
	Debug           bool   `toml:"debug"`
}

// Defaults mirrors what the teacher's config package does for an unset
// file: a struct with StorageBasePath "./data/blobs" and Port 8080 set and
// every other field left at its zero value.
func Defaults() *Config {
	return &Config{
		StorageBasePath: "./data/blobs",
		Port:            8080,
	}
}

// Load reads path (if non-empty and present) as TOML, then overlays
// environment variables DATABASE_URL, S3_BUCKET, STORAGE_BASE_PATH, PORT,
// DEBUG (spec.md §6.3). Environment always wins, matching the teacher's
// "most specific source wins" cascade.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, err
			}
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		cfg.DatabaseURL = v
	}
	if v, ok := os.LookupEnv("S3_BUCKET"); ok {
		cfg.S3Bucket = v
	}
	if v, ok := os.LookupEnv("STORAGE_BASE_PATH"); ok {
		cfg.StorageBasePath = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v, ok := os.LookupEnv("DEBUG"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
}

// UsesObjectStore reports whether S3Bucket selects the object-store blob
// backend over the filesystem one (spec.md §6.3: "If set, selects
// object-store backend; otherwise filesystem").
func (c *Config) UsesObjectStore() bool {
	return c.S3Bucket != ""
}
