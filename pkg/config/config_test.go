package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "scylla", cfg.Store)
	assert.Equal(t, []string{"localhost:9042"}, cfg.ScyllaHosts)
	assert.Equal(t, 256, cfg.SendQueueSize)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_Lists(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
}

func TestLoad_ProductionRequiresSecret(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"store", "STORE", "postgres", "STORE"},
		{"policy", "OVERFLOW_POLICY", "block", "OVERFLOW_POLICY"},
		{"queue", "SEND_QUEUE_SIZE", "0", "SEND_QUEUE_SIZE"},
		{"node", "NODE_ID", "x", "NODE_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "development")
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
