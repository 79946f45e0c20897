package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "fulfillment-service", cfg.ServiceName)
	assert.Equal(t, 8010, cfg.HTTPPort)
	assert.Equal(t, "http://localhost:5000", cfg.GatewayBaseURL)
	assert.Equal(t, 5, cfg.PollIntervalSeconds)
	assert.Equal(t, 0, cfg.AnalysisMaxPolls)
	assert.Equal(t, 5, cfg.RedirectCountdownStart)
	assert.Equal(t, "memory", cfg.ReplayStore)
	assert.Equal(t, 48, cfg.ReplayTTLHours)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FULFILLMENT_HTTP_PORT", "9000")
	t.Setenv("GATEWAY_BASE_URL", "https://api.plancosmique.example")
	t.Setenv("REPLAY_STORE", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, "https://api.plancosmique.example", cfg.GatewayBaseURL)
	assert.Equal(t, "redis", cfg.ReplayStore)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "FULFILLMENT_HTTP_PORT", "70000"},
		{"bad gateway url", "GATEWAY_BASE_URL", "not a url"},
		{"zero poll interval", "ANALYSIS_POLL_INTERVAL_SECONDS", "0"},
		{"negative max polls", "ANALYSIS_MAX_POLLS", "-1"},
		{"zero countdown", "REDIRECT_COUNTDOWN_START", "0"},
		{"unknown replay store", "REPLAY_STORE", "postgres"},
		{"sample rate above one", "OTEL_SAMPLE_RATE", "1.5"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
