package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-press.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Editorial EditorialConfig `yaml:"editorial"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json or console
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"press"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_press"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds the optional cache configuration. An empty host disables caching.
type RedisConfig struct {
	Host           string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port           int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	DB             int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Password       string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DescendantsTTL time.Duration `yaml:"descendants_ttl" env:"REDIS_DESCENDANTS_TTL" env-default:"10m"`
}

// EditorialConfig holds limits enforced by the editorial services.
type EditorialConfig struct {
	MaxCategoryDepth         int `yaml:"max_category_depth" env:"PRESS_MAX_CATEGORY_DEPTH" env-default:"3"`
	MaxCategoriesPerRevision int `yaml:"max_categories_per_revision" env:"PRESS_MAX_CATEGORIES_PER_REVISION" env-default:"5"`
	SlugMaxLength            int `yaml:"slug_max_length" env:"PRESS_SLUG_MAX_LENGTH" env-default:"80"`
	SlugMaxAttempts          int `yaml:"slug_max_attempts" env:"PRESS_SLUG_MAX_ATTEMPTS" env-default:"1000"`
	FeedDefaultLimit         int `yaml:"feed_default_limit" env:"PRESS_FEED_DEFAULT_LIMIT" env-default:"20"`
	FeedMaxLimit             int `yaml:"feed_max_limit" env:"PRESS_FEED_MAX_LIMIT" env-default:"100"`
	MaxSearchLength          int `yaml:"max_search_length" env:"PRESS_MAX_SEARCH_LENGTH" env-default:"200"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// A missing config.yaml is not an error; defaults and environment apply.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from path with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate rejects limits the services cannot work with.
func (c *Config) Validate() error {
	e := c.Editorial
	var errs []error
	if e.MaxCategoryDepth < 1 {
		errs = append(errs, errors.New("editorial.max_category_depth must be positive"))
	}
	if e.MaxCategoriesPerRevision < 1 {
		errs = append(errs, errors.New("editorial.max_categories_per_revision must be positive"))
	}
	if e.SlugMaxLength < 16 {
		errs = append(errs, errors.New("editorial.slug_max_length must be at least 16"))
	}
	if e.SlugMaxAttempts < 1 {
		errs = append(errs, errors.New("editorial.slug_max_attempts must be positive"))
	}
	if e.FeedDefaultLimit < 1 || e.FeedDefaultLimit > e.FeedMaxLimit {
		errs = append(errs, errors.New("editorial.feed_default_limit must be between 1 and feed_max_limit"))
	}
	if e.MaxSearchLength < 1 {
		errs = append(errs, errors.New("editorial.max_search_length must be positive"))
	}
	return errors.Join(errs...)
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return c.BindAddr + ":" + c.Port
}
