package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Session.TurnDuration)
	assert.Equal(t, 60*time.Second, cfg.Presence.IdleWindow)
	assert.Equal(t, "pass", cfg.TurnClock.Resolver)
	assert.False(t, cfg.NATS.Enabled)
}

func TestLoadFile_YAMLAndEnvOverrides(t *testing.T) {
	path := writeFile(t, `
log_level: debug
server:
  port: "9000"
session:
  max_players: 6
  turn_duration: 45s
  allowed_actions: [draw, discard, fold_all]
  finishing_actions: [fold_all]
turnclock:
  workers: 8
  resolver: random
auth:
  secret: from-file
nats:
  enabled: true
`)
	t.Setenv("TURN_DURATION", "20s")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, 6, cfg.Session.MaxPlayers)
	assert.Equal(t, 2, cfg.Session.MinPlayers)
	assert.Equal(t, 20*time.Second, cfg.Session.TurnDuration)
	assert.Equal(t, []string{"fold_all"}, cfg.Session.FinishingActions)
	assert.Equal(t, "from-file", cfg.Auth.Secret)
	assert.Equal(t, "nats://broker:4222", cfg.JetStreamConfig().URL)

	assert.Equal(t, 8, cfg.TurnClockConfig().Workers)
	assert.Equal(t, 20*time.Second, cfg.SessionConfig().TurnDuration)
}

func TestLoadFile_Validation(t *testing.T) {
	cases := map[string]string{
		"missing secret":      "server:\n  port: \"80\"\n",
		"bad players":         "auth:\n  secret: x\nsession:\n  min_players: 5\n  max_players: 3\n",
		"unknown resolver":    "auth:\n  secret: x\nturnclock:\n  resolver: smart\n",
		"zero rule timeout":   "auth:\n  secret: x\nsession:\n  rule_engine_timeout: 0s\n",
		"zero reap interval":  "auth:\n  secret: x\nsession:\n  reap_interval: 0s\n",
		"negative post game":  "auth:\n  secret: x\nsession:\n  post_game_window: -1s\n",
		"zero room retention": "auth:\n  secret: x\nsession:\n  retention: 0s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFile(writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_MalformedYAML(t *testing.T) {
	_, err := LoadFile(writeFile(t, "server: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config")
}
