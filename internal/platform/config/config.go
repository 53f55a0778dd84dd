package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        LogConfig        `koanf:"log"`
	Federation FederationConfig `koanf:"federation"`
	Breaker    BreakerConfig    `koanf:"breaker"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MigrationsPath string `koanf:"migrations_path"`
	MaxConns       int    `koanf:"max_conns"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// FederationConfig controls inbound signature verification and outbound
// key/account fetches.
type FederationConfig struct {
	Domain           string   `koanf:"domain"`
	UserAgent        string   `koanf:"user_agent"`
	FetchTimeoutSecs int      `koanf:"fetch_timeout_secs"`
	KeyMaxAgeHours   int      `koanf:"key_max_age_hours"`
	BlockedDomains   []string `koanf:"blocked_domains"`
}

// BreakerConfig controls the circuit breaker applied to outbound fetches.
type BreakerConfig struct {
	FailureThreshold int `koanf:"failure_threshold"`
	CooloffSecs      int `koanf:"cooloff_secs"`
}

func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	// Defaults
	_ = k.Load(confmap.Provider(map[string]any{
		"server.port":                   8080,
		"server.host":                   "0.0.0.0",
		"database.max_conns":            25,
		"database.migrations_path":      "migrations",
		"log.level":                     "info",
		"log.format":                    "json",
		"federation.domain":             "localhost",
		"federation.user_agent":         "arbor/0.1",
		"federation.fetch_timeout_secs": 10,
		"federation.key_max_age_hours":  24,
		"breaker.failure_threshold":     1,
		"breaker.cooloff_secs":          300,
	}, "."), nil)

	// YAML file (optional)
	for _, path := range configPaths {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// Config file is optional, skip if not found
			continue
		}
	}

	// Environment variables override everything
	// ARBOR_SERVER_PORT -> server.port
	_ = k.Load(env.Provider("ARBOR_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "ARBOR_")),
			"_", ".",
		)
	}), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
