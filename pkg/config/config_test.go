package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSTUNServers, cfg.Call.STUNServers)
	assert.Equal(t, 30*time.Second, cfg.Call.RingTimeout)
	assert.Equal(t, 8, cfg.Call.MaxRoomSize)
	assert.Nil(t, cfg.Call.SignalKey)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoadRejectsSingleSTUNServer(t *testing.T) {
	t.Setenv("CALL_STUN_SERVERS", "stun:only.example.org:3478")

	_, err := Load()
	assert.ErrorContains(t, err, "at least two")
}

func TestLoadRejectsShortSignalKey(t *testing.T) {
	t.Setenv("CALL_SIGNAL_KEY", "abcd")

	_, err := Load()
	assert.ErrorContains(t, err, "CALL_SIGNAL_KEY")
}

func TestLoadAgent(t *testing.T) {
	t.Setenv("AGENT_USER_ID", "6f1c2a4e-8d1b-4f3e-9a55-0c3e1b2d4f60")
	t.Setenv("AGENT_ANSWER_DELAY", "500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a4e-8d1b-4f3e-9a55-0c3e1b2d4f60", cfg.Agent.UserID.String())
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.AnswerDelay)

	t.Setenv("AGENT_USER_ID", "nope")
	_, err = Load()
	assert.Error(t, err)
}

func TestValidateProductionSecret(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Environment: "production"},
		JWT:    JWTConfig{Secret: "short"},
		Call:   CallConfig{STUNServers: DefaultSTUNServers, RingTimeout: time.Second, MaxRoomSize: 8},
	}
	assert.Error(t, cfg.Validate())

	cfg.JWT.Secret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, cfg.Validate())
}
