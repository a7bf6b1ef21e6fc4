package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  port: 8080
storage:
  type: memory
jwt:
  secret: 0123456789abcdef0123456789abcdef
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "0 */5 * * * *", cfg.Scheduler.CancelExpiredDeposits)
	assert.Equal(t, 240*time.Second, cfg.LockTTL())
	assert.Equal(t, time.Hour, cfg.AccessTokenTTL())
	assert.Equal(t, "rental.events", cfg.AMQP.Exchange)
	assert.Equal(t, ":8080", cfg.GetServerAddress())

	policy, err := cfg.PricingPolicy()
	require.NoError(t, err)
	assert.True(t, policy.DepositRate.Equal(decimal.RequireFromString("0.15")))
	assert.Equal(t, 24*time.Hour, policy.DepositWindow)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoad_PricingOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
pricing:
  deposit_rate: "0.2"
  deposit_window_hours: 48
  owner_soft_floor: "-500"
payment:
  decline_above: "5000"
`))
	require.NoError(t, err)

	policy, err := cfg.PricingPolicy()
	require.NoError(t, err)
	assert.True(t, policy.DepositRate.Equal(decimal.RequireFromString("0.2")))
	assert.Equal(t, 48*time.Hour, policy.DepositWindow)
	assert.True(t, policy.OwnerSoftFloor.Equal(decimal.NewFromInt(-500)))
	assert.True(t, policy.BufferRate.Equal(decimal.RequireFromString("0.25")))

	limit, err := cfg.DeclineAbove()
	require.NoError(t, err)
	assert.True(t, limit.Equal(decimal.NewFromInt(5000)))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"BadPort", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"ShortSecret", func(c *Config) { c.JWT.Secret = "short" }, "at least 32 characters"},
		{"PostgresWithoutHost", func(c *Config) { c.Storage.Type = StoragePostgres }, "database host is required"},
		{"UnknownStorage", func(c *Config) { c.Storage.Type = "s3" }, "unsupported storage type"},
		{"AMQPWithoutURL", func(c *Config) { c.AMQP.Enabled = true }, "AMQP URL is required"},
		{"RateAboveOne", func(c *Config) { c.Pricing.BufferRate = "1.5" }, "pricing.buffer_rate"},
		{"BadDecimal", func(c *Config) { c.Payment.DeclineAbove = "lots" }, "payment.decline_above"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:  ServerConfig{Port: 8080},
				Storage: StorageConfig{Type: StorageMemory},
				JWT:     JWTConfig{Secret: "0123456789abcdef0123456789abcdef"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetSecurityLevel(t *testing.T) {
	assert.Equal(t, SecurityPublic, GetSecurityLevel("/grpc.health.v1.Health/Check"))
	assert.Equal(t, SecurityAccess, GetSecurityLevel("/cark.v1.LedgerService/GetBalance"))
	assert.Equal(t, SecurityAdmin, GetSecurityLevel("POST /api/v1/admin/wallets/{user_id}/top-up"))
	assert.Equal(t, SecurityAccess, GetSecurityLevel("POST /api/v1/rentals"))
}
