package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	MatchModeExact      = "exact"
	MatchModeNormalized = "normalized"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	DefaultJWTSecret = "dev_secret_change_me"
)

type Config struct {
	Host               string        `yaml:"host"`
	Port               string        `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
	FrontendURL        string        `yaml:"frontend_url"`
	LogLevel           string        `yaml:"log_level"`

	Upload     UploadConfig     `yaml:"upload"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Azure      AzureConfig      `yaml:"azure"`
}

// UploadConfig describes the upload area that image references must point into.
type UploadConfig struct {
	Dir           string `yaml:"dir"`
	URLPrefix     string `yaml:"url_prefix"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

// ClassifierConfig describes how the external classification process is launched.
type ClassifierConfig struct {
	Binary                  string        `yaml:"binary"`
	Args                    []string      `yaml:"args"`
	ImageFlag               string        `yaml:"image_flag"`
	Timeout                 time.Duration `yaml:"timeout"`
	MaxConcurrentInferences int64         `yaml:"max_concurrent_inferences"`
	MaxOutputBytes          int64         `yaml:"max_output_bytes"`
	GuidanceMatchMode       string        `yaml:"guidance_match_mode"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnTimeout     time.Duration `yaml:"conn_timeout"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// AzureConfig enables mirroring uploads into a blob container when Account is set.
type AzureConfig struct {
	Account   string `yaml:"account"`
	Key       string `yaml:"key"`
	Container string `yaml:"container"`
}

// Enabled reports whether blob mirroring is configured.
func (a AzureConfig) Enabled() bool {
	return strings.TrimSpace(a.Account) != ""
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// Default returns the configuration used when neither a file nor the environment override a value.
func Default() *Config {
	return &Config{
		Host:               "0.0.0.0",
		Port:               "5000",
		RequestTimeout:     90 * time.Second,
		MaxRequestBodySize: 10 * 1024 * 1024, // 10MB
		FrontendURL:        "*",
		LogLevel:           "info",
		Upload: UploadConfig{
			Dir:           "uploads",
			URLPrefix:     "/uploads/",
			MaxUploadSize: 10 * 1024 * 1024,
		},
		Classifier: ClassifierConfig{
			Binary:            "python3",
			Args:              []string{"model/predict.py"},
			ImageFlag:         "--image",
			Timeout:           60 * time.Second,
			MaxOutputBytes:    1024 * 1024,
			GuidanceMatchMode: MatchModeExact,
		},
		Database: DatabaseConfig{
			Driver:          DriverSQLite,
			URL:             "file:leafdoctor.db?_pragma=foreign_keys(1)",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 15 * time.Minute,
			ConnTimeout:     5 * time.Second,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  7 * 24 * time.Hour,
		},
		Azure: AzureConfig{
			Container: "uploads",
		},
	}
}

// LoadFromEnv builds the configuration from defaults, an optional YAML file
// named by CONFIG_FILE, and environment overrides, in that order.
func LoadFromEnv() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() {
	c.Host = getEnvOrDefault("HOST", c.Host)
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", c.RequestTimeout)
	c.MaxRequestBodySize = parseIntOrDefault("MAX_REQUEST_BODY_SIZE", c.MaxRequestBodySize)
	c.FrontendURL = getEnvOrDefault("FRONTEND_URL", c.FrontendURL)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)

	c.Upload.Dir = getEnvOrDefault("UPLOAD_DIR", c.Upload.Dir)
	c.Upload.URLPrefix = getEnvOrDefault("UPLOAD_URL_PREFIX", c.Upload.URLPrefix)
	c.Upload.MaxUploadSize = parseIntOrDefault("MAX_UPLOAD_SIZE", c.Upload.MaxUploadSize)

	c.Classifier.Binary = getEnvOrDefault("CLASSIFIER_BIN", c.Classifier.Binary)
	if value, ok := os.LookupEnv("CLASSIFIER_ARGS"); ok {
		c.Classifier.Args = strings.Fields(value)
	}
	if value, ok := os.LookupEnv("CLASSIFIER_IMAGE_FLAG"); ok {
		c.Classifier.ImageFlag = strings.TrimSpace(value)
	}
	c.Classifier.Timeout = parseDurationOrDefault("INFERENCE_TIMEOUT", c.Classifier.Timeout)
	c.Classifier.MaxConcurrentInferences = parseIntOrDefault("MAX_CONCURRENT_INFERENCES", c.Classifier.MaxConcurrentInferences)
	c.Classifier.MaxOutputBytes = parseIntOrDefault("CLASSIFIER_MAX_OUTPUT_BYTES", c.Classifier.MaxOutputBytes)
	c.Classifier.GuidanceMatchMode = getEnvOrDefault("GUIDANCE_MATCH_MODE", c.Classifier.GuidanceMatchMode)

	c.Database.Driver = getEnvOrDefault("DB_DRIVER", c.Database.Driver)
	c.Database.URL = getEnvOrDefault("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = int(parseIntOrDefault("DB_MAX_OPEN_CONNS", int64(c.Database.MaxOpenConns)))
	c.Database.MaxIdleConns = int(parseIntOrDefault("DB_MAX_IDLE_CONNS", int64(c.Database.MaxIdleConns)))
	c.Database.ConnMaxLifetime = parseDurationOrDefault("DB_CONN_MAX_LIFETIME", c.Database.ConnMaxLifetime)
	c.Database.ConnTimeout = parseDurationOrDefault("DB_CONN_TIMEOUT", c.Database.ConnTimeout)
	c.Database.AutoMigrate = parseBoolOrDefault("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Auth.JWTSecret = getEnvOrDefault("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = parseDurationOrDefault("TOKEN_TTL", c.Auth.TokenTTL)

	c.Azure.Account = getEnvOrDefault("AZURE_STORAGE_ACCOUNT", c.Azure.Account)
	c.Azure.Key = getEnvOrDefault("AZURE_STORAGE_KEY", c.Azure.Key)
	c.Azure.Container = getEnvOrDefault("AZURE_STORAGE_CONTAINER", c.Azure.Container)
}

// Validate checks the assembled configuration for values the server cannot run with.
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.Upload.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.Upload.MaxUploadSize)
	}
	if c.RequestTimeout <= 0 || c.Classifier.Timeout <= 0 || c.Database.ConnTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, inference=%s, db_connect=%s)",
			c.RequestTimeout, c.Classifier.Timeout, c.Database.ConnTimeout)
	}
	if c.RequestTimeout <= c.Classifier.Timeout {
		return fmt.Errorf("REQUEST_TIMEOUT must exceed INFERENCE_TIMEOUT (got request=%s, inference=%s)",
			c.RequestTimeout, c.Classifier.Timeout)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be > 0 (got %s)", c.Auth.TokenTTL)
	}
	if strings.TrimSpace(c.Upload.Dir) == "" {
		return fmt.Errorf("UPLOAD_DIR is required")
	}
	if !strings.HasPrefix(c.Upload.URLPrefix, "/") || !strings.HasSuffix(c.Upload.URLPrefix, "/") || c.Upload.URLPrefix == "/" {
		return fmt.Errorf("UPLOAD_URL_PREFIX must look like /<area>/ (got %q)", c.Upload.URLPrefix)
	}
	if strings.TrimSpace(c.Classifier.Binary) == "" {
		return fmt.Errorf("CLASSIFIER_BIN is required")
	}
	if c.Classifier.MaxConcurrentInferences < 0 {
		return fmt.Errorf("MAX_CONCURRENT_INFERENCES must be >= 0 (got %d)", c.Classifier.MaxConcurrentInferences)
	}
	if c.Classifier.MaxOutputBytes <= 0 {
		return fmt.Errorf("CLASSIFIER_MAX_OUTPUT_BYTES must be > 0 (got %d)", c.Classifier.MaxOutputBytes)
	}
	switch c.Classifier.GuidanceMatchMode {
	case MatchModeExact, MatchModeNormalized:
	default:
		return fmt.Errorf("invalid GUIDANCE_MATCH_MODE: %q", c.Classifier.GuidanceMatchMode)
	}
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("invalid DB_DRIVER: %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
