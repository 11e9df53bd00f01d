package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Agency   AgencyConfig   `json:"agency"`
	Channels ChannelsConfig `json:"channels"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// AgencyConfig tunes the engine loops and the trigger catalog source.
type AgencyConfig struct {
	TriggerIntervalSeconds    int    `json:"trigger_interval_seconds"`    // default 30
	RecurrenceIntervalSeconds int    `json:"recurrence_interval_seconds"` // default 60
	PoolSize                  int    `json:"pool_size"`
	HourlyMax                 int    `json:"hourly_max"`
	CatalogPath               string `json:"catalog_path"` // empty means the builtin catalog
}

type ChannelsConfig struct {
	Push    PushChannelConfig    `json:"push"`
	Slack   SlackChannelConfig   `json:"slack"`
	Discord DiscordChannelConfig `json:"discord"`
}

type PushChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	RelayURL string `json:"relay_url"`
}

type SlackChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

type DiscordChannelConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
