package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Shortener  ShortenerConfig  `mapstructure:"shortener"`
}

type AppConfig struct {
	Env      string        `mapstructure:"env"`
	LogLevel string        `mapstructure:"log_level"`
	LogFile  LogFileConfig `mapstructure:"log_file"`
}

// LogFileConfig enables a rotating file sink next to stdout when Path is set.
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// BaseURL prefixes short codes in API responses. Falls back to the request's base URL.
	BaseURL         string `mapstructure:"base_url"`
	CORSAllowOrigin string `mapstructure:"cors_allow_origin"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Database          string `mapstructure:"database"`
	Port              int    `mapstructure:"port"`
	SSLMode           string `mapstructure:"sslmode"`
	MaxConns          int32  `mapstructure:"max_conns"`
	MinConns          int32  `mapstructure:"min_conns"`
	MaxConnLifetime   string `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   string `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod string `mapstructure:"health_check_period"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig configures the click stream. An empty Host disables it.
type NATSConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type PrometheusConfig struct {
	Port int `mapstructure:"port"`
}

type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Issuer   string `mapstructure:"issuer"`
	Audience string `mapstructure:"audience"`
}

type ShortenerConfig struct {
	CodeLength  int `mapstructure:"code_length"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

// IsProduction reports whether the app runs with production defaults.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// Validate checks the settings the service cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required"))
	}
	if c.Shortener.CodeLength <= 0 {
		errs = append(errs, fmt.Errorf("shortener.code_length must be positive, got %d", c.Shortener.CodeLength))
	}
	if c.Shortener.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("shortener.max_attempts must be positive, got %d", c.Shortener.MaxAttempts))
	}
	return errors.Join(errs...)
}

func Load() (*Config, error) {
	// Load local .env for development (ignored when missing).
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	// Search for config/config.yaml (plus root for overrides).
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_file.max_size_mb", 100)
	v.SetDefault("app.log_file.max_backups", 5)
	v.SetDefault("app.log_file.max_age_days", 7)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_allow_origin", "*")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("nats.port", 4222)

	v.SetDefault("prometheus.port", 9090)

	v.SetDefault("auth.issuer", "shortlink")
	v.SetDefault("auth.audience", "shortlink-api")

	v.SetDefault("shortener.code_length", 6)
	v.SetDefault("shortener.max_attempts", 10)
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.env", "APP_ENV")
	v.BindEnv("app.log_level", "LOG_LEVEL")
	v.BindEnv("app.log_file.path", "LOG_FILE")

	// HTTP server
	v.BindEnv("server.addr", "HTTP_ADDR")
	v.BindEnv("server.base_url", "BASE_URL")
	v.BindEnv("server.cors_allow_origin", "CORS_ALLOW_ORIGIN")

	// PostgreSQL
	v.BindEnv("postgres.host", "PG_HOST")
	v.BindEnv("postgres.user", "PG_USER")
	v.BindEnv("postgres.password", "PG_PASSWORD")
	v.BindEnv("postgres.database", "PG_DB")
	v.BindEnv("postgres.port", "PG_PORT")
	v.BindEnv("postgres.sslmode", "PG_SSLMODE")
	v.BindEnv("postgres.max_conns", "PG_MAX_CONNS")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")

	// NATS
	v.BindEnv("nats.host", "NATS_HOST")
	v.BindEnv("nats.port", "NATS_PORT")
	v.BindEnv("nats.user", "NATS_USER")
	v.BindEnv("nats.password", "NATS_PASSWORD")

	// Prometheus
	v.BindEnv("prometheus.port", "PROM_PORT")

	// Auth
	v.BindEnv("auth.secret", "JWT_SECRET")
	v.BindEnv("auth.issuer", "JWT_ISSUER")
	v.BindEnv("auth.audience", "JWT_AUDIENCE")

	// Shortener
	v.BindEnv("shortener.code_length", "SHORT_CODE_LENGTH")
	v.BindEnv("shortener.max_attempts", "SHORT_CODE_MAX_ATTEMPTS")
}
