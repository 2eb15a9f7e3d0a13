package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SCRIBE_SECURITY_JWT_SECRET", "test-secret")

	cfg, err := LoadConfig("SCRIBE", "")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 50, cfg.Gateway.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Gateway.BatchInterval)
	assert.Equal(t, 8, cfg.Reconciler.Workers)
	assert.Equal(t, 100, cfg.Reconciler.HistoryLimit)
	assert.Equal(t, 2*time.Second, cfg.Reconciler.FlushInterval)
	assert.Equal(t, 30*time.Minute, cfg.Reconciler.IdleTTL)
	assert.Equal(t, 30*time.Second, cfg.Presence.RecordTTL)
	assert.Equal(t, 5*time.Minute, cfg.Presence.IndexTTL)
	assert.Equal(t, "snapshots/", cfg.Archiver.Prefix)
	assert.Equal(t, 5*time.Minute, cfg.Archiver.PresignTTL)
	assert.Equal(t, "document.", cfg.Bridge.RoutingPrefix)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.Kafka.ProduceRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Kafka.ProduceBackoff)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("SCRIBE_SECURITY_JWT_SECRET", "test-secret")
	t.Setenv("SCRIBE_GATEWAY_PORT", "9999")
	t.Setenv("SCRIBE_REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig("SCRIBE", "")
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Security:   SecurityConfig{JWTSecret: "s"},
			Kafka:      KafkaConfig{Brokers: []string{"localhost:9092"}},
			Gateway:    GatewayConfig{BatchSize: 50},
			Reconciler: ReconcilerConfig{Workers: 4, HistoryLimit: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing secret", func(c *Config) { c.Security.JWTSecret = "" }, "jwt_secret"},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }, "brokers"},
		{"zero batch", func(c *Config) { c.Gateway.BatchSize = 0 }, "batch_size"},
		{"zero workers", func(c *Config) { c.Reconciler.Workers = 0 }, "workers"},
		{"zero history", func(c *Config) { c.Reconciler.HistoryLimit = 0 }, "history_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig("SCRIBE", "/nonexistent/config.yaml")
	assert.Error(t, err)
}
