// Package config provides configuration management for the courier server.
// It loads settings from environment variables (optionally seeded from a .env
// file) with sensible defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the courier server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Mail      MailConfig
	SMTP      SMTPConfig
	Resend    ResendConfig
	AMQP      AMQPConfig
	Log       LogConfig
	Templates TemplatesConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	AdminAPIKey     string // Guards the admin routes when set
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver   string // mysql, postgres, sqlite3
	DSN      string // Overrides the fields below when set
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Prefix   string // Table prefix (default: "courier_")
	UserView string // Table or view listing application users
}

// RedisConfig holds the rate limiter's Redis connection. An empty Addr keeps
// counters in process memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RateLimitConfig holds the public endpoint windows.
type RateLimitConfig struct {
	Max    int
	Window time.Duration
}

// MailConfig holds sender identity and link configuration.
type MailConfig struct {
	Provider        string // noop, smtp, resend
	From            string
	ReplyTo         string
	UnsubscribeURL  string
	PreferencesURL  string
	FireAndForget   bool // Default dispatch mode
	WebhookSecret   string
	StrictLifecycle bool // Forward-only status transitions
}

// SMTPConfig holds SMTP sender configuration.
type SMTPConfig struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// ResendConfig holds Resend sender configuration.
type ResendConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// AMQPConfig holds the provider event relay configuration. An empty URL
// disables the relay.
type AMQPConfig struct {
	URL      string
	Queue    string
	Prefetch int
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Env   string // dev or prod
	Level string
}

// TemplatesConfig holds the template catalog location.
type TemplatesConfig struct {
	Path string // Optional YAML overlay on the embedded defaults
}

// Load loads configuration from environment variables.
// Follows 12-factor app principles - configuration via environment.
// Files, when given, are loaded into the environment first without
// overriding variables that are already set; missing files are ignored.
func Load(files ...string) (*Config, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AdminAPIKey:     getEnv("ADMIN_API_KEY", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite3"),
			DSN:      getEnv("DB_DSN", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "courier"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "courier.db"),
			Prefix:   getEnv("DB_PREFIX", "courier_"),
			UserView: getEnv("DB_USER_VIEW", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "courier:rl:"),
		},
		RateLimit: RateLimitConfig{
			Max:    getEnvInt("RATE_LIMIT_MAX", 10),
			Window: getEnvDuration("RATE_LIMIT_WINDOW", time.Hour),
		},
		Mail: MailConfig{
			Provider:        strings.ToLower(getEnv("MAIL_PROVIDER", "noop")),
			From:            getEnv("MAIL_FROM", ""),
			ReplyTo:         getEnv("MAIL_REPLY_TO", ""),
			UnsubscribeURL:  getEnv("MAIL_UNSUBSCRIBE_URL", ""),
			PreferencesURL:  getEnv("MAIL_PREFERENCES_URL", ""),
			FireAndForget:   getEnvBool("MAIL_FIRE_AND_FORGET", false),
			WebhookSecret:   getEnv("RESEND_WEBHOOK_SECRET", ""),
			StrictLifecycle: getEnvBool("MAIL_STRICT_LIFECYCLE", false),
		},
		SMTP: SMTPConfig{
			Host:               getEnv("SMTP_HOST", ""),
			Port:               getEnvInt("SMTP_PORT", 587),
			Username:           getEnv("SMTP_USERNAME", ""),
			Password:           getEnv("SMTP_PASSWORD", ""),
			TLSMode:            getEnv("SMTP_TLS_MODE", "auto"),
			InsecureSkipVerify: getEnvBool("SMTP_INSECURE_SKIP_VERIFY", false),
			Timeout:            getEnvDuration("SMTP_TIMEOUT", 10*time.Second),
		},
		Resend: ResendConfig{
			APIKey:  getEnv("RESEND_API_KEY", ""),
			BaseURL: getEnv("RESEND_BASE_URL", ""),
			Timeout: getEnvDuration("RESEND_TIMEOUT", 10*time.Second),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Queue:    getEnv("AMQP_QUEUE", "courier.provider_events"),
			Prefetch: getEnvInt("AMQP_PREFETCH", 10),
		},
		Log: LogConfig{
			Env:   getEnv("LOG_ENV", "prod"),
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Templates: TemplatesConfig{
			Path: getEnv("TEMPLATES_PATH", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.Mail.From == "" {
		return fmt.Errorf("MAIL_FROM environment variable is required")
	}

	switch c.Mail.Provider {
	case "noop":
	case "smtp":
		if c.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_PROVIDER=smtp")
		}
	case "resend":
		if c.Resend.APIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required when MAIL_PROVIDER=resend")
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q (noop, smtp, resend)", c.Mail.Provider)
	}

	switch strings.ToLower(c.Database.Driver) {
	case "sqlite3":
	case "mysql", "postgres":
		if c.Database.DSN == "" && c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD environment variable is required for %s", c.Database.Driver)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}

	if c.RateLimit.Max < 1 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

// GetDSN returns the database connection string based on driver.
func (c *DatabaseConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch strings.ToLower(c.Driver) {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			c.Host, c.Port, c.User, c.Password, c.Database)
	case "sqlite3":
		return c.Database // SQLite uses file path as DSN
	default:
		return ""
	}
}

// getEnv retrieves environment variable or returns default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves environment variable as integer or returns default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves environment variable as boolean or returns default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration retrieves environment variable as a duration ("30s", "1h")
// or returns default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
