package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCOVER_TIMEOUT", "")
	t.Setenv("SCORING_WORKERS", "")
	t.Setenv("SWIPE_CONSUMER_NAME", "worker-a")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.DiscoverTimeout)
	assert.Equal(t, 8, cfg.ScoringWorkers)
	assert.Equal(t, "compass:swipes", cfg.SwipeStream)
	assert.Equal(t, "worker-a", cfg.SwipeConsumerName)
	assert.Equal(t, 168*time.Hour, cfg.EventDedupTTL)
	require.NoError(t, cfg.Validate())
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	t.Setenv("DISCOVER_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.DiscoverTimeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"default secret in production", func(c *Config) { c.Environment = "production" }, false},
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, false},
		{"zero workers", func(c *Config) { c.ScoringWorkers = 0 }, false},
		{"refill hour out of range", func(c *Config) { c.RefillHour = 24 }, false},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }, false},
		{"redis without stream", func(c *Config) {
			c.RedisURL = "redis://localhost:6379/0"
			c.SwipeStream = ""
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
