package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, ".favorite-icon", cfg.Sweep.ItemSelector)
	assert.Equal(t, "filled", cfg.Sweep.FilledClass)
	assert.Equal(t, 350*time.Millisecond, cfg.Sweep.ActionDelay)
	assert.Equal(t, 8*time.Second, cfg.Sweep.ChangeTimeout)
	assert.Equal(t, 3, cfg.Sweep.MaxIdleCycles)
	assert.Equal(t, 1, cfg.Sweep.Concurrency)
	assert.False(t, cfg.Sweep.DryRun)
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("sweep.item_selector", "button.heart")
	v.Set("sweep.max_idle_cycles", 5)
	v.Set("sweep.action_delay", "1s")
	v.Set("browser.headless", false)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "button.heart", cfg.Sweep.ItemSelector)
	assert.Equal(t, 5, cfg.Sweep.MaxIdleCycles)
	assert.Equal(t, time.Second, cfg.Sweep.ActionDelay)
	assert.False(t, cfg.Browser.Headless)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "empty item selector",
			mutate:  func(c *Config) { c.Sweep.ItemSelector = "" },
			wantErr: "item_selector",
		},
		{
			name:    "zero idle threshold",
			mutate:  func(c *Config) { c.Sweep.MaxIdleCycles = 0 },
			wantErr: "max_idle_cycles",
		},
		{
			name:    "zero growth attempts",
			mutate:  func(c *Config) { c.Sweep.GrowthAttempts = 0 },
			wantErr: "growth_attempts",
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Sweep.Concurrency = -1 },
			wantErr: "concurrency",
		},
		{
			name:    "zero window size",
			mutate:  func(c *Config) { c.Browser.WindowWidth = 0 },
			wantErr: "window dimensions",
		},
		{
			name:    "zero nav timeout",
			mutate:  func(c *Config) { c.Browser.NavTimeout = 0 },
			wantErr: "nav_timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
