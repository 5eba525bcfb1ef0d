// Package config loads xhub command configuration from an optional YAML file,
// XHUB_* environment variables and command flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type TransportConfig struct {
	// Name selects a registered transport: "websocket" or "memory".
	Name    string         `mapstructure:"name"`
	Options map[string]any `mapstructure:"options"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type HubConfig struct {
	Name     string      `mapstructure:"name"`
	Port     int         `mapstructure:"port"`
	Services []string    `mapstructure:"services"`
	Redis    RedisConfig `mapstructure:"redis"`
}

type PeerConfig struct {
	Service        string        `mapstructure:"service"`
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"` // e.g., 0.0.0.0:9090
}

type ObserverPoolConfig struct {
	Workers    int `mapstructure:"workers"`
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Transport TransportConfig    `mapstructure:"transport"`
	Hub       HubConfig          `mapstructure:"hub"`
	Peer      PeerConfig         `mapstructure:"peer"`
	Log       LogConfig          `mapstructure:"log"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
	Observers ObserverPoolConfig `mapstructure:"observers"`
}

// New returns a viper instance with defaults and XHUB_* environment binding.
// Callers bind their flags on it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault("transport.name", "websocket")
	v.SetDefault("transport.options", map[string]any{})
	v.SetDefault("hub.name", "Hub")
	v.SetDefault("hub.port", 8080)
	v.SetDefault("hub.services", []string{})
	v.SetDefault("hub.redis.enabled", false)
	v.SetDefault("hub.redis.addr", "127.0.0.1:6379")
	v.SetDefault("hub.redis.username", "")
	v.SetDefault("hub.redis.password", "")
	v.SetDefault("hub.redis.db", 0)
	v.SetDefault("hub.redis.key", "xhub:services")
	v.SetDefault("peer.service", "")
	v.SetDefault("peer.host", "localhost")
	v.SetDefault("peer.port", 8080)
	v.SetDefault("peer.connect_timeout", 5*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", "127.0.0.1:9090")
	v.SetDefault("observers.workers", 0)
	v.SetDefault("observers.buffer_size", 1024)

	v.SetEnvPrefix("XHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Transport.Options == nil {
		cfg.Transport.Options = map[string]any{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	if c.Transport.Name == "" {
		return fmt.Errorf("config: transport.name required")
	}
	if c.Hub.Port < 0 || c.Hub.Port > 65535 {
		return fmt.Errorf("config: hub.port out of range: %d", c.Hub.Port)
	}
	if c.Peer.Port < 0 || c.Peer.Port > 65535 {
		return fmt.Errorf("config: peer.port out of range: %d", c.Peer.Port)
	}
	if c.Peer.ConnectTimeout <= 0 {
		return fmt.Errorf("config: peer.connect_timeout must be > 0, got %v", c.Peer.ConnectTimeout)
	}
	if c.Hub.Redis.Enabled && c.Hub.Redis.Addr == "" {
		return fmt.Errorf("config: hub.redis.addr required when redis is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("config: metrics.listen_addr required when metrics are enabled")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}
