package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "adops", cfg.Database.DBName)
	assert.Equal(t, 6379, cfg.Redis.Port)

	assert.Equal(t, 7, cfg.Optimizer.LookbackDays)
	assert.Equal(t, 0.20, cfg.Optimizer.VolatilityCap)
	assert.Equal(t, 24, cfg.Optimizer.CooldownHours)
	assert.Equal(t, 0.5, cfg.Optimizer.BudgetFloorFraction)
	assert.Equal(t, 2.0, cfg.Optimizer.BudgetCeilingFactor)

	assert.Equal(t, 0.15, cfg.CrossPlatform.MinPlatformShare)
	assert.Equal(t, 0.25, cfg.CrossPlatform.MaxShiftFraction)
	assert.Equal(t, 0.9, cfg.CrossPlatform.RecencyDecay)

	assert.Equal(t, 0.95, cfg.Experiments.DefaultConfidenceLevel)
	assert.Equal(t, int64(1000), cfg.Experiments.DefaultMinSampleSize)
	assert.Equal(t, 14, cfg.Experiments.DefaultMaxDurationDays)
}

func TestLoadLowercasesEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("ENVIRONMENT", "PRODUCTION")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
}

func validConfig() *Config {
	return &Config{
		Optimizer:     OptimizerConfig{VolatilityCap: 0.20},
		CrossPlatform: CrossPlatformConfig{MinPlatformShare: 0.15, RecencyDecay: 0.9},
		Experiments:   ExperimentsConfig{DefaultConfidenceLevel: 0.95},
		Database:      DatabaseConfig{ConnMaxLifetime: "300s"},
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validate(validConfig()))

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero volatility cap", func(c *Config) { c.Optimizer.VolatilityCap = 0 }},
		{"volatility cap above one", func(c *Config) { c.Optimizer.VolatilityCap = 1.5 }},
		{"min share above half", func(c *Config) { c.CrossPlatform.MinPlatformShare = 0.6 }},
		{"negative min share", func(c *Config) { c.CrossPlatform.MinPlatformShare = -0.1 }},
		{"recency decay at one", func(c *Config) { c.CrossPlatform.RecencyDecay = 1.0 }},
		{"confidence level at one", func(c *Config) { c.Experiments.DefaultConfidenceLevel = 1.0 }},
		{"bad conn_max_lifetime", func(c *Config) { c.Database.ConnMaxLifetime = "five minutes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}
