package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"PORT", "RELAY_PATH", "DEFAULT_ROOM", "ROOM_CAPACITY",
		"PROTOCOL_VIOLATION_THRESHOLD", "ALLOWED_ORIGINS", "GO_ENV", "LOG_LEVEL",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearRelayEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.GetServerAddr())
	assert.Equal(t, "/yjs", cfg.RelayPath)
	assert.Equal(t, "bytetogether", cfg.DefaultRoom)
	assert.Equal(t, 5, cfg.Capacity)
	assert.Equal(t, 5, cfg.ProtocolViolationThreshold)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("PORT", "9001")
	t.Setenv("ROOM_CAPACITY", "2")
	t.Setenv("ALLOWED_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("GO_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9001", cfg.GetServerAddr())
	assert.Equal(t, 2, cfg.Capacity)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.AllowedOrigins)
	assert.True(t, cfg.OriginAllowed("https://a.test"))
	assert.False(t, cfg.OriginAllowed("https://attacker.test"))
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadRejectsBadCapacity(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("ROOM_CAPACITY", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
