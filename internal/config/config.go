package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string          `mapstructure:"environment"`
	LogLevel    string          `mapstructure:"log_level"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Market      MarketConfig    `mapstructure:"market"`
	Ensemble    EnsembleConfig  `mapstructure:"ensemble"`
	Telegram    TelegramConfig  `mapstructure:"telegram"`
	Cleanup     CleanupConfig   `mapstructure:"cleanup"`
	Telemetry   TelemetryConfig `mapstructure:"telemetry"`
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
	MaxConns        int    `mapstructure:"max_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MarketConfig fixes the daily session rhythm. Clock fields are local
// wall-clock times ("HH:MM") in Timezone; the scheduler turns them into
// cron entries and the session service turns them into per-day timestamps.
type MarketConfig struct {
	Timezone           string `mapstructure:"timezone"`
	OpenTime           string `mapstructure:"open_time"`
	GateClosureTime    string `mapstructure:"gate_closure_time"`
	LaunchTime         string `mapstructure:"launch_time"`
	FinishPollInterval string `mapstructure:"finish_poll_interval"`
	ResultCacheTTL     string `mapstructure:"result_cache_ttl"`
	ClosureWorkers     int    `mapstructure:"closure_workers"`
}

// EnsembleConfig carries the combination tunables handed to the engine.
type EnsembleConfig struct {
	Strategy         string  `mapstructure:"strategy"`
	Beta             float64 `mapstructure:"beta"`
	ScoreDays        int     `mapstructure:"score_days"`
	OutlierMADFactor float64 `mapstructure:"outlier_mad_factor"`
	ClipEnabled      bool    `mapstructure:"clip_enabled"`
	ClipFloor        float64 `mapstructure:"clip_floor"`
}

type TelegramConfig struct {
	BotToken  string `mapstructure:"bot_token" json:"-" yaml:"-"`
	OpsChatID string `mapstructure:"ops_chat_id"`
}

type CleanupConfig struct {
	HistoricalRetentionDays int `mapstructure:"historical_retention_days"`
	SessionRetentionDays    int `mapstructure:"session_retention_days"`
	CleanupIntervalMinutes  int `mapstructure:"cleanup_interval_minutes"`
}

type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
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

	// Bind specific environment variables
	if err := viper.BindEnv("telegram.bot_token", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, fmt.Errorf("failed to bind TELEGRAM_BOT_TOKEN environment variable: %w", err)
	}

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

	// Normalize environment to lowercase for consistent comparison
	config.Environment = strings.ToLower(config.Environment)

	if err := config.Market.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market config: %w", err)
	}
	if err := config.Ensemble.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ensemble config: %w", err)
	}

	return &config, nil
}

// Validate checks the session rhythm: all clock fields must parse, the
// timezone must resolve, and gate closure must not precede open.
func (c MarketConfig) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}

	openH, openM, err := ParseClock(c.OpenTime)
	if err != nil {
		return fmt.Errorf("open_time: %w", err)
	}
	closeH, closeM, err := ParseClock(c.GateClosureTime)
	if err != nil {
		return fmt.Errorf("gate_closure_time: %w", err)
	}
	launchH, launchM, err := ParseClock(c.LaunchTime)
	if err != nil {
		return fmt.Errorf("launch_time: %w", err)
	}

	open := openH*60 + openM
	gate := closeH*60 + closeM
	launch := launchH*60 + launchM
	if gate <= open {
		return fmt.Errorf("gate_closure_time %s must be after open_time %s", c.GateClosureTime, c.OpenTime)
	}
	if launch <= gate {
		return fmt.Errorf("launch_time %s must be after gate_closure_time %s", c.LaunchTime, c.GateClosureTime)
	}

	if _, err := time.ParseDuration(c.FinishPollInterval); err != nil {
		return fmt.Errorf("invalid finish_poll_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.ResultCacheTTL); err != nil {
		return fmt.Errorf("invalid result_cache_ttl: %w", err)
	}
	if c.ClosureWorkers < 0 {
		return fmt.Errorf("closure_workers must not be negative, got %d", c.ClosureWorkers)
	}
	return nil
}

// Location resolves the market timezone. Validate must have passed.
func (c MarketConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate checks the combination tunables an operator can get wrong. The
// strategy name itself is checked against the registry at engine startup.
func (c EnsembleConfig) Validate() error {
	if c.Strategy == "" {
		return fmt.Errorf("strategy must not be empty")
	}
	if c.Beta <= 0 {
		return fmt.Errorf("beta must be positive, got %g", c.Beta)
	}
	if c.ScoreDays < 1 {
		return fmt.Errorf("score_days must be at least 1, got %d", c.ScoreDays)
	}
	if c.OutlierMADFactor < 0 {
		return fmt.Errorf("outlier_mad_factor must not be negative, got %g", c.OutlierMADFactor)
	}
	return nil
}

// ParseClock parses a local wall-clock time in "HH:MM" form.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in clock time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in clock time %q", s)
	}
	return hour, minute, nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Set database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "prismcast")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_conns", 25)
	viper.SetDefault("database.conn_max_lifetime", "300s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Market rhythm
	viper.SetDefault("market.timezone", "Europe/Madrid")
	viper.SetDefault("market.open_time", "09:00")
	viper.SetDefault("market.gate_closure_time", "10:30")
	viper.SetDefault("market.launch_time", "11:00")
	viper.SetDefault("market.finish_poll_interval", "1h")
	viper.SetDefault("market.result_cache_ttl", "48h")
	viper.SetDefault("market.closure_workers", 0)

	// Ensemble
	viper.SetDefault("ensemble.strategy", "weighted_average")
	viper.SetDefault("ensemble.beta", 1.0)
	viper.SetDefault("ensemble.score_days", 8)
	viper.SetDefault("ensemble.outlier_mad_factor", 3.0)
	viper.SetDefault("ensemble.clip_enabled", true)
	viper.SetDefault("ensemble.clip_floor", 0.0)

	// Telegram
	viper.SetDefault("telegram.bot_token", "")
	viper.SetDefault("telegram.ops_chat_id", "")

	// Cleanup
	viper.SetDefault("cleanup.historical_retention_days", 30)
	viper.SetDefault("cleanup.session_retention_days", 90)
	viper.SetDefault("cleanup.cleanup_interval_minutes", 60)

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "")
	viper.SetDefault("telemetry.sample_ratio", 1.0)
}
