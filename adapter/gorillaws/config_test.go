package gorillaws

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromMap_Defaults(t *testing.T) {
	c := ConfigFromMap(nil)
	assert.Equal(t, Defaults(), c)
	require.NoError(t, c.Validate())
}

func TestConfigFromMap_Values(t *testing.T) {
	c := ConfigFromMap(map[string]any{
		"path":              "/ws",
		"health_path":       "",
		"handshake_timeout": "2s",
		"write_timeout":     3 * time.Second,
		"close_timeout":     float64(time.Millisecond * 250),
		"read_limit":        4096,
		"allowed_origins":   "https://a.example,https://b.example",
	})
	assert.Equal(t, "/ws", c.Path)
	assert.Empty(t, c.HealthPath)
	assert.Equal(t, 2*time.Second, c.HandshakeTimeout)
	assert.Equal(t, 3*time.Second, c.WriteTimeout)
	assert.Equal(t, 250*time.Millisecond, c.CloseTimeout)
	assert.EqualValues(t, 4096, c.ReadLimit)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.AllowedOrigins)
}

func TestConfig_ZeroValueRoundTripsToDefaults(t *testing.T) {
	c := ConfigFromMap(Config{}.toMap())
	assert.Equal(t, "/", c.Path)
	assert.EqualValues(t, 1<<20, c.ReadLimit)
	require.NoError(t, c.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(c *Config){
		"relative path":      func(c *Config) { c.Path = "ws" },
		"relative health":    func(c *Config) { c.HealthPath = "healthz" },
		"same paths":         func(c *Config) { c.HealthPath = c.Path },
		"no handshake":       func(c *Config) { c.HandshakeTimeout = 0 },
		"no write timeout":   func(c *Config) { c.WriteTimeout = 0 },
		"no close timeout":   func(c *Config) { c.CloseTimeout = -time.Second },
		"non-positive limit": func(c *Config) { c.ReadLimit = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Defaults()
			mutate(&c)
			assert.Error(t, c.Validate())

			_, err := NewTransport(c)
			assert.Error(t, err)
		})
	}
}

func TestTransport_CheckOrigin(t *testing.T) {
	cfg := Defaults()
	cfg.AllowedOrigins = []string{"https://ok.example"}
	tr, err := NewTransport(cfg)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Origin", "https://ok.example")
	assert.True(t, tr.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, tr.checkOrigin(r))

	open, err := NewTransport(Defaults())
	require.NoError(t, err)
	assert.True(t, open.checkOrigin(r))
}
