package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMySQL    = "mysql"
	StoreRedis    = "redis"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server ServerConfig
	App    AppConfig
	Store  StoreConfig
	Auth   AuthConfig
	Log    LogConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"0s"` // 0 keeps event streams open
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"farmstall"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	// TimeZone buckets the daily sales series. Empty uses the host zone.
	TimeZone string `envconfig:"APP_TIMEZONE" default:""`
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Type         string        `envconfig:"STORE_TYPE" default:"sqlite"` // memory, sqlite, postgres, mysql or redis
	PollInterval time.Duration `envconfig:"STORE_POLL_INTERVAL" default:"2s"`

	SQLitePath string `envconfig:"STORE_SQLITE_PATH" default:"./data/farmstall.db"`

	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"0"` // 0 picks the backend default
	Name     string `envconfig:"STORE_DB_NAME" default:"farmstall"`
	User     string `envconfig:"STORE_DB_USER" default:"farmstall"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"farmstall"`
}

// AuthConfig holds API key settings. No keys means the API is open.
type AuthConfig struct {
	APIKeys []string `envconfig:"API_KEYS" default:""`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level       string   `envconfig:"LOG_LEVEL" default:"info"`
	Development bool     `envconfig:"LOG_DEVELOPMENT" default:"false"`
	OutputPaths []string `envconfig:"LOG_OUTPUT_PATHS"` // zap sinks; empty keeps zap's default
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	port := s.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, port, s.Name, s.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (s *StoreConfig) MySQLDSN() string {
	port := s.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		s.User, s.Password, s.Host, port, s.Name)
}

// RedisAddress returns the Redis address in host:port format.
func (s *StoreConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", s.RedisHost, s.RedisPort)
}

// Location returns the configured time zone.
func (a *AppConfig) Location() (*time.Location, error) {
	if a.TimeZone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(a.TimeZone)
}

// Keys returns the configured API keys without blanks.
func (a *AuthConfig) Keys() []string {
	keys := make([]string, 0, len(a.APIKeys))
	for _, k := range a.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	switch cfg.Store.Type {
	case StoreMemory, StoreSQLite, StorePostgres, StoreMySQL, StoreRedis:
	default:
		return nil, fmt.Errorf("failed to load config: unknown STORE_TYPE %q", cfg.Store.Type)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
