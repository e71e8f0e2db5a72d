package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}, cfg.RetryBackoff)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, 1, cfg.ScyllaReplication)
}

func TestLoadServerRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadServer()
	assert.ErrorContains(t, err, "JWT_SECRET")

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CHAT_STORE", "postgres")
	_, err = LoadServer()
	assert.ErrorContains(t, err, "CHAT_STORE")

	t.Setenv("CHAT_STORE", "")
	t.Setenv("RETRY_BACKOFF", "1s,soon")
	_, err = LoadServer()
	assert.ErrorContains(t, err, "RETRY_BACKOFF")

	t.Setenv("RETRY_BACKOFF", "")
	t.Setenv("METRICS_ENABLED", "maybe")
	_, err = LoadServer()
	assert.ErrorContains(t, err, "METRICS_ENABLED")
}

func TestLoadClientDerivesWebsocketURL(t *testing.T) {
	t.Setenv("CHAT_API_URL", "https://chat.example.com/")
	t.Setenv("RETRY_BACKOFF", " , ")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.BaseURL)
	assert.Equal(t, "wss://chat.example.com/ws", cfg.WSURL)
	assert.Empty(t, cfg.RetryBackoff, "blank schedule disables reconnects")
	assert.Equal(t, 3*time.Second, cfg.TypingWindow)
}
