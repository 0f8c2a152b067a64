package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
destinations:
  - index: 0
    program_id: solend
    kind: lending
    cap: 600000000
  - index: 1
    program_id: pool
    kind: collateral_pool
    cap: 1000000000
managers:
  general: [ops]
rebalancing:
  refresh_interval: 15m
  pairs:
    - pool: general
      asset: USDC
oracle:
  authority: oracle-key
  distributions:
    USDC: [500000000, 500000000]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_DefaultsAndYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Len(t, cfg.Destinations, 2)
	assert.Equal(t, uint64(600_000_000), cfg.Destinations[0].Cap)
	assert.Equal(t, 15*time.Minute, cfg.Rebalancing.RefreshInterval)
	assert.Equal(t, "clamped", cfg.Rebalancing.CapMode)
	assert.Equal(t, "*/30 * * * * *", cfg.Schedule.AdvanceCron)
	assert.Equal(t, []string{"ops"}, cfg.Managers["general"])
	assert.Equal(t, "production", cfg.Log.Env)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CAP_MODE", "strict")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SQLITE_PATH", "/tmp/router.db")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "strict", cfg.Rebalancing.CapMode)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "/tmp/router.db", cfg.Database.SQLitePath)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "data/yield_router.db", cfg.Database.SQLitePath)
	assert.Error(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad cap mode", func(c *Config) { c.Rebalancing.CapMode = "loose" }},
		{"cap above scale", func(c *Config) { c.Destinations[1].Cap = 1_000_000_001 }},
		{"index gap", func(c *Config) { c.Destinations[1].Index = 2 }},
		{"no pairs", func(c *Config) { c.Rebalancing.Pairs = nil }},
		{"no authority", func(c *Config) { c.Oracle.Authority = "" }},
		{"short distribution", func(c *Config) { c.Oracle.Distributions["USDC"] = []uint64{1} }},
		{"telegram without chat", func(c *Config) { c.Telegram.BotToken = "t" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, sample))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
