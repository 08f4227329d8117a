// Package config loads the registry service configuration: defaults,
// then an optional yaml file, then AGENTPASS_-prefixed environment
// overrides (AGENTPASS_STORE_TYPE -> store.type).
package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "AGENTPASS_"

type Config struct {
	Server ServerConfig `koanf:"server"`
	Store  StoreConfig  `koanf:"store"`
	Issuer IssuerConfig `koanf:"issuer"`
	Log    LogConfig    `koanf:"log"`
}

type ServerConfig struct {
	Port                string `koanf:"port"`
	ReadTimeoutSeconds  int    `koanf:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `koanf:"write_timeout_seconds"`
	IdleTimeoutSeconds  int    `koanf:"idle_timeout_seconds"`
}

type StoreConfig struct {
	Type            string `koanf:"type"` // memory, mongo, file
	MongoURI        string `koanf:"mongo_uri"`
	MongoDatabase   string `koanf:"mongo_database"`
	MongoCollection string `koanf:"mongo_collection"`
	FileDir         string `koanf:"file_dir"`
}

type IssuerConfig struct {
	// MasterSecret seeds agent key derivation. In deployments where the
	// principal authenticates per session, this stays empty and the
	// derivation seed comes from the proof-of-control signature instead.
	MasterSecret string `koanf:"master_secret"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

// Load reads configuration. path may be empty to skip the file layer.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("server.port", "8080")
	k.Set("server.read_timeout_seconds", 10)
	k.Set("server.write_timeout_seconds", 10)
	k.Set("server.idle_timeout_seconds", 60)
	k.Set("store.type", "memory")
	k.Set("store.mongo_uri", "")
	k.Set("store.mongo_database", "agentpass")
	k.Set("store.mongo_collection", "agents")
	k.Set("store.file_dir", "./data/agents")
	k.Set("log.level", "info")
	k.Set("log.format", "text")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, envPrefix)), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	switch cfg.Store.Type {
	case "memory", "mongo", "file":
	default:
		return nil, fmt.Errorf("config: unknown store type %q", cfg.Store.Type)
	}
	return &cfg, nil
}
