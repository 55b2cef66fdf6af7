package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/punchamoorthee/bitbeam/internal/domain"
)

// Supported persistence backends.
const (
	DBTypeSQLite   = "sqlite"
	DBTypePostgres = "postgres"
)

type Config struct {
	DBType      string `yaml:"db_type"`
	DatabaseURL string `yaml:"database_url"`

	ListenAddr string `yaml:"listen_addr"`
	Port       string `yaml:"port"`

	BlobURL         string `yaml:"blob_url"`
	BlobCompression string `yaml:"blob_compression"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes"`

	DBTimeout       time.Duration `yaml:"db_timeout"`
	CacheSize       int           `yaml:"cache_size"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	LogLocation string `yaml:"log_location"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		ListenAddr:      "0.0.0.0",
		Port:            "3000",
		BlobURL:         "./media_store",
		BlobCompression: "none",
		MaxPayloadBytes: 100 << 20,
		DBTimeout:       5 * time.Second,
		CacheSize:       1024,
		CacheTTL:        10 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads the optional YAML file named by BITBEAM_CONFIG, then applies
// BITBEAM_* environment variables on top. Every failure wraps
// domain.ErrConfiguration.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("BITBEAM_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Addr is the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return c.ListenAddr + ":" + c.Port
}

// Validate checks the settings that must hold before the process may start.
func (c *Config) Validate() error {
	switch c.DBType {
	case "":
		return configErr("BITBEAM_DB_TYPE environment variable is required")
	case DBTypeSQLite, DBTypePostgres:
	default:
		return configErr("BITBEAM_DB_TYPE: unsupported backend %q (supported: sqlite, postgres)", c.DBType)
	}
	if c.DatabaseURL == "" {
		return configErr("BITBEAM_DATABASE_URL environment variable is required")
	}
	switch c.BlobCompression {
	case "none", "zstd":
	default:
		return configErr("BITBEAM_BLOB_COMPRESSION: unsupported value %q (supported: none, zstd)", c.BlobCompression)
	}
	if c.BlobURL == "" {
		return configErr("BITBEAM_BLOB_URL must not be empty")
	}
	if c.MaxPayloadBytes <= 0 {
		return configErr("BITBEAM_MAX_PAYLOAD_BYTES must be positive")
	}
	if c.DBTimeout <= 0 {
		return configErr("BITBEAM_DB_TIMEOUT must be positive")
	}
	if c.CacheSize < 0 {
		return configErr("BITBEAM_CACHE_SIZE must not be negative")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return configErr("BITBEAM_PORT: %q is not a port number", c.Port)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return configErr("read config file %s: %v", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return configErr("parse config file %s: %v", path, err)
	}
	cfg.DBType = normalizeDBType(cfg.DBType)
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BITBEAM_DB_TYPE"); v != "" {
		cfg.DBType = normalizeDBType(v)
	}
	setString(&cfg.DatabaseURL, "BITBEAM_DATABASE_URL")
	setString(&cfg.ListenAddr, "BITBEAM_LISTEN_ADDR")
	setString(&cfg.Port, "BITBEAM_PORT")
	setString(&cfg.BlobURL, "BITBEAM_BLOB_URL")
	setString(&cfg.BlobCompression, "BITBEAM_BLOB_COMPRESSION")
	setString(&cfg.LogLevel, "BITBEAM_LOG_LEVEL")
	setString(&cfg.LogFormat, "BITBEAM_LOG_FORMAT")
	setString(&cfg.LogLocation, "BITBEAM_LOG_LOCATION")

	if v := os.Getenv("BITBEAM_MAX_PAYLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return configErr("BITBEAM_MAX_PAYLOAD_BYTES: %v", err)
		}
		cfg.MaxPayloadBytes = n
	}
	if v := os.Getenv("BITBEAM_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return configErr("BITBEAM_CACHE_SIZE: %v", err)
		}
		cfg.CacheSize = n
	}

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{"BITBEAM_DB_TIMEOUT", &cfg.DBTimeout},
		{"BITBEAM_CACHE_TTL", &cfg.CacheTTL},
		{"BITBEAM_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return configErr("%s: %v", d.env, err)
		}
		*d.dst = parsed
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func normalizeDBType(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "postgresql" {
		return DBTypePostgres
	}
	return v
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}
