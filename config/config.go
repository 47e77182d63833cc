// Package config provides configuration management for the application.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// whose string values may reference the environment as ${VAR} or
// ${VAR:-default}, then environment overrides. A .env file in the working
// directory is loaded first and never replaces variables already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultBodySizeLimit is the relay upload limit (50MB).
const DefaultBodySizeLimit int64 = 50 * 1024 * 1024

// Storage and cache backend names.
const (
	StorageSQLite     = "sqlite"
	StoragePostgreSQL = "postgresql"
	StorageMongoDB    = "mongodb"

	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Target  TargetConfig  `yaml:"target"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	History HistoryConfig `yaml:"history"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds relay server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// MasterKey protects the relay routes when set.
	MasterKey string `yaml:"master_key"`
	// BodySizeLimit is the max upload size in bytes.
	BodySizeLimit int64 `yaml:"body_size_limit"`
}

// TargetConfig describes the upstream submission endpoint.
type TargetConfig struct {
	Host      string `yaml:"host"`
	Path      string `yaml:"path"`
	APIKey    string `yaml:"api_key"`
	FileField string `yaml:"file_field"`
	// TaskPath is the task lookup path; {id} is replaced with the task id.
	TaskPath string `yaml:"task_path"`
}

// TaskIDPlaceholder marks where TargetConfig.TaskPath takes the task id.
const TaskIDPlaceholder = "{id}"

// HTTPConfig holds upstream client timeouts. Zero keeps the client defaults.
type HTTPConfig struct {
	Timeout               time.Duration `yaml:"timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

// StorageConfig selects the history database.
type StorageConfig struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings.
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings.
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// HistoryConfig controls submission history recording.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// CacheConfig controls the relay idempotency cache.
type CacheConfig struct {
	Type  string        `yaml:"type"`
	TTL   time.Duration `yaml:"ttl"`
	Redis RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// LogConfig controls slog output.
type LogConfig struct {
	// Format is "auto", "json" or "text".
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodySizeLimit: DefaultBodySizeLimit,
		},
		Target: TargetConfig{
			Host:      "api.302ai.cn",
			Path:      "/runway/submit",
			FileField: "init_image",
			TaskPath:  "/runway/task/{id}/fetch",
		},
		Storage: StorageConfig{
			Type:       StorageSQLite,
			SQLite:     SQLiteConfig{Path: "data/formpost.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "formpost"},
		},
		History: HistoryConfig{
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
		},
		Cache: CacheConfig{
			Type:  CacheMemory,
			TTL:   24 * time.Hour,
			Redis: RedisConfig{Prefix: "formpost:idem:"},
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Log: LogConfig{
			Format: "auto",
			Level:  "info",
		},
	}
}

// defaultPaths are tried in order when no config path is given.
var defaultPaths = []string{"config.yaml", "config/config.yaml"}

// Load builds the configuration. An empty path falls back to FORMPOST_CONFIG
// and then to the default locations; only an explicitly named file must exist.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Defaults()

	explicit := true
	if path == "" {
		path = os.Getenv("FORMPOST_CONFIG")
	}
	if path == "" {
		explicit = false
		for _, candidate := range defaultPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := decodeYAML(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML expands environment references in every scalar, then decodes
// over the existing values of cfg.
func decodeYAML(data []byte, cfg *Config) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind == 0 {
		return nil
	}
	expandNode(&root)
	return root.Decode(cfg)
}

func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		n.Value = expandString(n.Value)
		return
	}
	for _, child := range n.Content {
		expandNode(child)
	}
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString resolves ${VAR} and ${VAR:-default}. An unset or empty VAR
// without a default is left as written.
func expandString(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides lets well-known environment variables win over the file.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("PORT", &cfg.Server.Port)
	setString("FORMPOST_MASTER_KEY", &cfg.Server.MasterKey)
	setString("FORMPOST_TARGET_HOST", &cfg.Target.Host)
	setString("FORMPOST_TARGET_PATH", &cfg.Target.Path)
	setString("FORMPOST_API_KEY", &cfg.Target.APIKey)
	setString("FORMPOST_FILE_FIELD", &cfg.Target.FileField)
	setString("FORMPOST_TASK_PATH", &cfg.Target.TaskPath)
	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)
	setString("CACHE_TYPE", &cfg.Cache.Type)
	setString("REDIS_URL", &cfg.Cache.Redis.URL)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)
	setString("LOG_FORMAT", &cfg.Log.Format)
	setString("LOG_LEVEL", &cfg.Log.Level)

	if v := os.Getenv("POSTGRES_MAX_CONNS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid POSTGRES_MAX_CONNS %q: %w", v, err)
		}
		cfg.Storage.PostgreSQL.MaxConns = n
	}
	if v := os.Getenv("BODY_SIZE_LIMIT"); v != "" {
		n, err := ParseSize(v)
		if err != nil {
			return fmt.Errorf("invalid BODY_SIZE_LIMIT: %w", err)
		}
		cfg.Server.BodySizeLimit = n
	}
	for key, dst := range map[string]*bool{
		"METRICS_ENABLED": &cfg.Metrics.Enabled,
		"HISTORY_ENABLED": &cfg.History.Enabled,
	} {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", key, v, err)
			}
			*dst = b
		}
	}
	return nil
}

// ParseSize parses a byte count with an optional K, M or G suffix.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier, s = 1024, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier, s = 1024*1024, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier, s = 1024*1024*1024, strings.TrimSuffix(s, "G")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("size must be a positive integer with optional K/M/G suffix")
	}
	return n * multiplier, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case StorageSQLite, StoragePostgreSQL, StorageMongoDB:
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q (valid: sqlite, postgresql, mongodb)", c.Storage.Type))
	}
	switch c.Cache.Type {
	case CacheMemory, CacheRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown cache type %q (valid: memory, redis)", c.Cache.Type))
	}
	if c.Cache.Type == CacheRedis && c.Cache.Redis.URL == "" {
		errs = append(errs, fmt.Errorf("cache.redis.url is required for the redis cache"))
	}
	switch c.Log.Format {
	case "auto", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q (valid: auto, json, text)", c.Log.Format))
	}
	if c.Target.TaskPath != "" && !strings.Contains(c.Target.TaskPath, TaskIDPlaceholder) {
		errs = append(errs, fmt.Errorf("target.task_path must contain %s", TaskIDPlaceholder))
	}
	if c.Server.BodySizeLimit < 0 {
		errs = append(errs, fmt.Errorf("server.body_size_limit must not be negative"))
	}
	if c.HTTP.Timeout < 0 || c.HTTP.ResponseHeaderTimeout < 0 {
		errs = append(errs, fmt.Errorf("http timeouts must not be negative"))
	}

	return errors.Join(errs...)
}
