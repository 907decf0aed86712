package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	want := domain.DefaultConfig()
	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, want.Repository.Driver, cfg.Repository.Driver)
	assert.Equal(t, want.Cache.StatusTTL, cfg.Cache.StatusTTL)
	assert.Equal(t, want.EventBus.RequestTimeout, cfg.EventBus.RequestTimeout)
	assert.Equal(t, want.Auth.CollaboratorPrincipal, cfg.Auth.CollaboratorPrincipal)
	assert.Equal(t, 0.8, cfg.Patterns.SynthesisThreshold)
	assert.False(t, cfg.Patterns.TrackOccurrences)
}

func TestLoadProTier(t *testing.T) {
	t.Setenv(EnvTier, "pro")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	yaml := `
server:
  port: 9090
auth:
  bootstrap_admin: alice
  collaborator_principal: identity-canister
patterns:
  track_occurrences: true
velocity:
  window: 30m
  threshold: 5
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("KESTREL_SERVER__PORT", "7070")
	t.Setenv("KESTREL_CACHE__REDIS_ADDR", "redis:6379")
	t.Setenv("KESTREL_EVENT_BUS__REQUEST_TIMEOUT", "3s")
	t.Setenv(EnvDebug, "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "alice", cfg.Auth.BootstrapAdmin)
	assert.Equal(t, "identity-canister", cfg.Auth.CollaboratorPrincipal)
	assert.True(t, cfg.Patterns.TrackOccurrences)
	assert.Equal(t, 30*time.Minute, cfg.Velocity.Window)
	assert.Equal(t, int64(5), cfg.Velocity.Threshold)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 3*time.Second, cfg.EventBus.RequestTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "event_bus.nats_url", envKey("KESTREL_EVENT_BUS__NATS_URL"))
	assert.Equal(t, "tier", envKey("KESTREL_TIER"))
}

func TestPath(t *testing.T) {
	t.Setenv(EnvFile, "")
	assert.Equal(t, DefaultFile, Path())

	t.Setenv(EnvFile, "/etc/kestrel.yaml")
	assert.Equal(t, "/etc/kestrel.yaml", Path())
}
