package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"statkeeper/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken string          `yaml:"discord_token"`
	LogLevel     string          `yaml:"log_level"`
	LogsChannel  string          `yaml:"logs_channel"`
	ErrorLogPath string          `yaml:"error_log_path"`
	Database     DatabaseConfig  `yaml:"database"`
	Health       HealthConfig    `yaml:"health"`
	Audit        AuditConfig     `yaml:"audit"`
	Reactions    ReactionsConfig `yaml:"reactions"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AuditConfig struct {
	// PageSize is the number of messages requested per history page.
	PageSize int `yaml:"page_size"`
}

type ReactionsConfig struct {
	Enabled bool `yaml:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel:     "info",
		ErrorLogPath: "errors.log",
		Database: DatabaseConfig{
			Driver:       storage.DriverSQLite,
			Path:         "/data/statkeeper.db",
			Port:         5432,
			Name:         "statkeeper",
			SSLMode:      "disable",
			MaxOpenConns: 10,
		},
		Health:    HealthConfig{Enabled: false, Addr: ":8080"},
		Audit:     AuditConfig{PageSize: 100},
		Reactions: ReactionsConfig{Enabled: true},
	}
}

// Load reads path (or CONFIG_PATH, or config.yaml) over the defaults and then
// applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	switch c.Database.Driver {
	case storage.DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite")
		}
	case storage.DriverPostgres:
		if c.Database.Host == "" {
			return errors.New("database host is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	return nil
}

// StoreOptions turns the database section into storage options.
func (d DatabaseConfig) StoreOptions(logger *zap.Logger) storage.Options {
	return storage.Options{
		Driver:       d.Driver,
		DSN:          d.DSN(),
		MaxOpenConns: d.MaxOpenConns,
		Logger:       logger,
	}
}

func (d DatabaseConfig) DSN() string {
	if d.Driver != storage.DriverPostgres {
		return storage.SQLiteDSN(d.Path)
	}
	dsn := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.Username != "" {
		dsn.User = url.UserPassword(d.Username, d.Password)
	}
	if d.SSLMode != "" {
		dsn.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return dsn.String()
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogsChannel = envString("LOGS_CHANNEL", cfg.LogsChannel)
	cfg.ErrorLogPath = envString("ERROR_LOG_PATH", cfg.ErrorLogPath)
	cfg.Database.Driver = strings.ToLower(envString("DATABASE_DRIVER", cfg.Database.Driver))
	cfg.Database.Path = envString("DATABASE_PATH", cfg.Database.Path)
	cfg.Database.Host = envString("DATABASE_HOST", cfg.Database.Host)
	cfg.Database.Port = envInt("DATABASE_PORT", cfg.Database.Port)
	cfg.Database.Username = envString("DATABASE_USERNAME", cfg.Database.Username)
	cfg.Database.Password = envString("DATABASE_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = envString("DATABASE_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = envString("DATABASE_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Audit.PageSize = envInt("AUDIT_PAGE_SIZE", cfg.Audit.PageSize)
	cfg.Reactions.Enabled = envBool("REACTIONS_ENABLED", cfg.Reactions.Enabled)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
