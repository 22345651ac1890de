package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, QueueNone, cfg.QueueDriver)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("QUEUE_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MalformedValues(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("REDIS_DB", "zero")

	_, err := Load()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "REQUEST_TIMEOUT")
	assert.Contains(t, err.Error(), "REDIS_DB")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown store", func(c *Config) { c.StoreDriver = "sqlite" }, "STORE_DRIVER"},
		{"unknown queue", func(c *Config) { c.QueueDriver = "sqs" }, "QUEUE_DRIVER"},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET"},
		{"kafka without brokers", func(c *Config) { c.QueueDriver = QueueKafka; c.KafkaBrokers = nil }, "KAFKA_BROKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{StoreDriver: StoreMemory, QueueDriver: QueueNone, JWTSecret: "x"}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
