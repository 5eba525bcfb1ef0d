package gorillaws

import (
	"fmt"
	"strings"
	"time"
)

// Config for the WebSocket transport.
type Config struct {
	Path       string
	HealthPath string

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	CloseTimeout     time.Duration
	ReadLimit        int64

	// AllowedOrigins restricts the Origin header on upgrade. Empty accepts any origin.
	AllowedOrigins []string
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	return Config{
		Path:             "/",
		HealthPath:       "/healthz",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		CloseTimeout:     time.Second,
		ReadLimit:        1 << 20,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("config: path must start with '/', got %q", c.Path)
	}
	if c.HealthPath != "" && !strings.HasPrefix(c.HealthPath, "/") {
		return fmt.Errorf("config: health_path must start with '/', got %q", c.HealthPath)
	}
	if c.HealthPath == c.Path {
		return fmt.Errorf("config: health_path and path must differ")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("config: handshake_timeout must be > 0, got %v", c.HandshakeTimeout)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("config: write_timeout must be > 0, got %v", c.WriteTimeout)
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("config: close_timeout must be > 0, got %v", c.CloseTimeout)
	}
	if c.ReadLimit < 1 {
		return fmt.Errorf("config: read_limit must be >= 1, got %d", c.ReadLimit)
	}
	return nil
}

// toMap converts Config to generic map for transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"path":              c.Path,
		"health_path":       c.HealthPath,
		"handshake_timeout": c.HandshakeTimeout,
		"write_timeout":     c.WriteTimeout,
		"close_timeout":     c.CloseTimeout,
		"read_limit":        c.ReadLimit,
		"allowed_origins":   c.AllowedOrigins,
	}
}

// ConfigFromMap safely converts generic map to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	if v, ok := m["path"].(string); ok && v != "" {
		c.Path = v
	}
	if v, ok := m["health_path"].(string); ok {
		c.HealthPath = v
	}
	if v, ok := parseDuration(m["handshake_timeout"]); ok && v > 0 {
		c.HandshakeTimeout = v
	}
	if v, ok := parseDuration(m["write_timeout"]); ok && v > 0 {
		c.WriteTimeout = v
	}
	if v, ok := parseDuration(m["close_timeout"]); ok && v > 0 {
		c.CloseTimeout = v
	}
	switch v := m["read_limit"].(type) {
	case int:
		if v > 0 {
			c.ReadLimit = int64(v)
		}
	case int64:
		if v > 0 {
			c.ReadLimit = v
		}
	case float64:
		if v > 0 {
			c.ReadLimit = int64(v)
		}
	}
	switch v := m["allowed_origins"].(type) {
	case []string:
		c.AllowedOrigins = v
	case []any:
		for _, o := range v {
			if s, ok := o.(string); ok {
				c.AllowedOrigins = append(c.AllowedOrigins, s)
			}
		}
	case string:
		if v != "" {
			c.AllowedOrigins = strings.Split(v, ",")
		}
	}
	return c
}

func parseDuration(v any) (time.Duration, bool) {
	switch d := v.(type) {
	case time.Duration:
		return d, true
	case string:
		p, err := time.ParseDuration(d)
		return p, err == nil
	case int:
		return time.Duration(d), true
	case int64:
		return time.Duration(d), true
	case float64:
		return time.Duration(d), true
	}
	return 0, false
}
