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

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, DefaultTransferMode, cfg.TransferMode)
	assert.Equal(t, DefaultPlatformUserID, cfg.PlatformUserID)
	assert.Equal(t, int64(DefaultSmallRemainderCents), cfg.SmallRemainderCents)
	assert.Equal(t, DefaultCurrency, cfg.DefaultCurrency)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("TRANSFER_MODE", "live")
	t.Setenv("STRIPE_SECRET_KEY", "sk_live_dummy")
	t.Setenv("SMALL_REMAINDER_CENTS", "750")
	t.Setenv("REWARD_SWEEP_INTERVAL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "live", cfg.TransferMode)
	assert.Equal(t, int64(750), cfg.SmallRemainderCents)
	assert.Equal(t, 5*time.Minute, cfg.RewardSweepInterval)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad transfer mode",
			mutate:  func(c *Config) { c.TransferMode = "sandbox" },
			wantErr: "TRANSFER_MODE",
		},
		{
			name: "live mode requires stripe key",
			mutate: func(c *Config) {
				c.TransferMode = "live"
				c.StripeSecretKey = ""
			},
			wantErr: "STRIPE_SECRET_KEY",
		},
		{
			name:    "empty platform user",
			mutate:  func(c *Config) { c.PlatformUserID = "" },
			wantErr: "PLATFORM_USER_ID",
		},
		{
			name:    "negative remainder threshold",
			mutate:  func(c *Config) { c.SmallRemainderCents = -1 },
			wantErr: "SMALL_REMAINDER_CENTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				TransferMode:        "test",
				PlatformUserID:      "platform",
				SmallRemainderCents: 500,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
