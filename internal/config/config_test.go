package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LOCK_TIMEOUT", "2s")
	t.Setenv("ORG_TIMEZONE", "UTC")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
	assert.Equal(t, 5*time.Minute, cfg.ScheduleCacheTTL)
	assert.Equal(t, "postgres", cfg.DBDriver)
}

func TestLoadConfig_RejectsUnknownTimezone(t *testing.T) {
	t.Setenv("ORG_TIMEZONE", "Mars/Olympus_Mons")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "ORG_TIMEZONE")
}

func TestLoadConfig_RejectsNonPositiveDurations(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"LOCK_TIMEOUT", "0s"},
		{"LOCK_TIMEOUT", "-1s"},
		{"SCHEDULE_CACHE_TTL", "0s"},
		{"VALIDATOR_INTERVAL", "-5m"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv("ORG_TIMEZONE", "UTC")
			t.Setenv(tt.key, tt.value)

			_, err := LoadConfig()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestAlertRecipients(t *testing.T) {
	cfg := Config{AlertEmailTo: " ops@example.com, ,oncall@example.com "}
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.AlertRecipients())
	assert.Empty(t, Config{}.AlertRecipients())
}
