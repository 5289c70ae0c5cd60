package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	AdPlatform    AdPlatformConfig    `mapstructure:"ad_platform"`
	Optimizer     OptimizerConfig     `mapstructure:"optimizer"`
	CrossPlatform CrossPlatformConfig `mapstructure:"cross_platform"`
	Experiments   ExperimentsConfig   `mapstructure:"experiments"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AdPlatformConfig points at the external sync sidecar that executes budget
// changes against the real ad platforms.
type AdPlatformConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
}

// OptimizerConfig tunes the campaign budget allocator. The CTR/CVR/CPL
// targets are reference benchmarks for score normalization, not hard domain
// constants.
type OptimizerConfig struct {
	LookbackDays        int     `mapstructure:"lookback_days"`
	VolatilityCap       float64 `mapstructure:"volatility_cap"`
	CooldownHours       int     `mapstructure:"cooldown_hours"`
	MinChangeAmount     float64 `mapstructure:"min_change_amount"`
	TargetCTR           float64 `mapstructure:"target_ctr"`
	TargetCVR           float64 `mapstructure:"target_cvr"`
	TargetCPL           float64 `mapstructure:"target_cpl"`
	BudgetFloorFraction float64 `mapstructure:"budget_floor_fraction"`
	BudgetCeilingFactor float64 `mapstructure:"budget_ceiling_factor"`
}

type CrossPlatformConfig struct {
	LookbackDays      int     `mapstructure:"lookback_days"`
	MinPlatformShare  float64 `mapstructure:"min_platform_share"`
	MaxShiftFraction  float64 `mapstructure:"max_shift_fraction"`
	RecencyDecay      float64 `mapstructure:"recency_decay"`
	MinChangeAmount   float64 `mapstructure:"min_change_amount"`
	ConfidenceDivisor int64   `mapstructure:"confidence_divisor"`
	CacheTTLMinutes   int     `mapstructure:"cache_ttl_minutes"`
}

type ExperimentsConfig struct {
	DefaultConfidenceLevel float64 `mapstructure:"default_confidence_level"`
	DefaultMinDetectable   float64 `mapstructure:"default_min_detectable_effect"`
	DefaultMinSampleSize   int64   `mapstructure:"default_min_sample_size"`
	DefaultMaxDurationDays int     `mapstructure:"default_max_duration_days"`
	ConfidenceDivisor      int64   `mapstructure:"confidence_divisor"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	// Set default values
	setDefaults()

	// Enable environment variable support
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(cfg *Config) error {
	if cfg.Optimizer.VolatilityCap <= 0 || cfg.Optimizer.VolatilityCap > 1 {
		return fmt.Errorf("optimizer volatility cap must be in (0,1], got %f", cfg.Optimizer.VolatilityCap)
	}
	if cfg.CrossPlatform.MinPlatformShare < 0 || cfg.CrossPlatform.MinPlatformShare > 0.5 {
		return fmt.Errorf("cross-platform min share must be in [0,0.5], got %f", cfg.CrossPlatform.MinPlatformShare)
	}
	if cfg.CrossPlatform.RecencyDecay <= 0 || cfg.CrossPlatform.RecencyDecay >= 1 {
		return fmt.Errorf("recency decay must be in (0,1), got %f", cfg.CrossPlatform.RecencyDecay)
	}
	if cfg.Experiments.DefaultConfidenceLevel <= 0 || cfg.Experiments.DefaultConfidenceLevel >= 1 {
		return fmt.Errorf("experiment confidence level must be in (0,1), got %f", cfg.Experiments.DefaultConfidenceLevel)
	}
	if cfg.Database.ConnMaxLifetime != "" {
		if _, err := time.ParseDuration(cfg.Database.ConnMaxLifetime); err != nil {
			return fmt.Errorf("invalid database conn_max_lifetime: %w", err)
		}
	}
	return nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "adops")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Ad platform sync sidecar
	viper.SetDefault("ad_platform.service_url", "http://localhost:3001")
	viper.SetDefault("ad_platform.timeout", 30)

	// Campaign budget optimizer
	viper.SetDefault("optimizer.lookback_days", 7)
	viper.SetDefault("optimizer.volatility_cap", 0.20)
	viper.SetDefault("optimizer.cooldown_hours", 24)
	viper.SetDefault("optimizer.min_change_amount", 1.0)
	viper.SetDefault("optimizer.target_ctr", 0.03)
	viper.SetDefault("optimizer.target_cvr", 0.08)
	viper.SetDefault("optimizer.target_cpl", 500.0)
	viper.SetDefault("optimizer.budget_floor_fraction", 0.5)
	viper.SetDefault("optimizer.budget_ceiling_factor", 2.0)

	// Cross-platform optimizer
	viper.SetDefault("cross_platform.lookback_days", 14)
	viper.SetDefault("cross_platform.min_platform_share", 0.15)
	viper.SetDefault("cross_platform.max_shift_fraction", 0.25)
	viper.SetDefault("cross_platform.recency_decay", 0.9)
	viper.SetDefault("cross_platform.min_change_amount", 5.0)
	viper.SetDefault("cross_platform.confidence_divisor", 100)
	viper.SetDefault("cross_platform.cache_ttl_minutes", 60)

	// Experiments
	viper.SetDefault("experiments.default_confidence_level", 0.95)
	viper.SetDefault("experiments.default_min_detectable_effect", 0.10)
	viper.SetDefault("experiments.default_min_sample_size", 1000)
	viper.SetDefault("experiments.default_max_duration_days", 14)
	viper.SetDefault("experiments.confidence_divisor", 200)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.chat_id", "")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.otlp_endpoint", "")
}
