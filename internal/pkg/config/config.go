package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config holds all configuration for the scraping service
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"required,oneof=json console"`
	OutputPath string `mapstructure:"output_path"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig holds task engine configuration
type EngineConfig struct {
	Workers           int           `mapstructure:"workers" validate:"gt=0"`
	QueueCapacity     int           `mapstructure:"queue_capacity" validate:"gt=0"`
	EnqueueTimeout    time.Duration `mapstructure:"enqueue_timeout"`
	DequeuePoll       time.Duration `mapstructure:"dequeue_poll"`
	DefaultMaxRetries int           `mapstructure:"default_max_retries" validate:"gte=0"`
	Retention         time.Duration `mapstructure:"retention"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	CallbackBuffer    int           `mapstructure:"callback_buffer" validate:"gt=0"`
}

// BrowserConfig holds browser session configuration
type BrowserConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RateLimit      float64       `mapstructure:"rate_limit" validate:"gt=0"`
	RateBurst      int           `mapstructure:"rate_burst" validate:"gt=0"`
	NavMaxAttempts int           `mapstructure:"nav_max_attempts" validate:"gt=0"`
	PageDelay      time.Duration `mapstructure:"page_delay"`
	DownloadDir    string        `mapstructure:"download_dir"`
}

// SchedulerConfig holds recurring submission scheduler configuration
type SchedulerConfig struct {
	Enabled bool                  `mapstructure:"enabled"`
	Entries []ScheduleEntryConfig `mapstructure:"entries" validate:"dive"`
}

// ScheduleEntryConfig describes one recurring task submission
type ScheduleEntryConfig struct {
	Name       string            `mapstructure:"name" validate:"required"`
	Spec       string            `mapstructure:"spec" validate:"required"`
	Site       string            `mapstructure:"site" validate:"required"`
	URL        string            `mapstructure:"url" validate:"required,url"`
	Priority   string            `mapstructure:"priority"`
	Parameters map[string]string `mapstructure:"parameters"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	Issuer     string        `mapstructure:"issuer"`
	DisableJWT bool          `mapstructure:"disable_jwt"`
}

// NewConfig creates and returns a new Config instance
// It loads configuration from file, environment variables, and defaults
func NewConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	v.AddConfigPath("../../config") // when running from service/*/cmd/

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, defaults and env vars apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SCRAPEFLOW")

	var config Config
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, decodeHook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output_path", "stdout")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Engine defaults
	v.SetDefault("engine.workers", 3)
	v.SetDefault("engine.queue_capacity", 100)
	v.SetDefault("engine.enqueue_timeout", "5s")
	v.SetDefault("engine.dequeue_poll", "1s")
	v.SetDefault("engine.default_max_retries", 3)
	v.SetDefault("engine.retention", "1h")
	v.SetDefault("engine.shutdown_timeout", "30s")
	v.SetDefault("engine.callback_buffer", 64)

	// Browser defaults
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("browser.request_timeout", "30s")
	v.SetDefault("browser.rate_limit", 2.0)
	v.SetDefault("browser.rate_burst", 4)
	v.SetDefault("browser.nav_max_attempts", 3)
	v.SetDefault("browser.page_delay", "1s")
	v.SetDefault("browser.download_dir", "./downloads")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", false)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.issuer", "scrapeflow")
	v.SetDefault("auth.disable_jwt", false)
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return err
	}

	if !cfg.Auth.DisableJWT && cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set unless auth.disable_jwt is true")
	}

	if cfg.Engine.EnqueueTimeout <= 0 {
		return fmt.Errorf("engine.enqueue_timeout must be positive")
	}

	if cfg.Engine.DequeuePoll <= 0 {
		return fmt.Errorf("engine.dequeue_poll must be positive")
	}

	return nil
}
