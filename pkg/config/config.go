// Package config loads collector configuration from defaults, an optional
// YAML file, a .env file, environment variables and command flags.
//
// Environment variables use the COLLECTOR_ prefix with dots replaced by
// underscores (api.client_id -> COLLECTOR_API_CLIENT_ID). The Petfinder
// variables PETFINDER_API_KEY and PETFINDER_SECRET_KEY are accepted for the
// credentials as well.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/Sternrassler/petfinder-collector/pkg/logging"
	"github.com/Sternrassler/petfinder-collector/pkg/pagination"
	"github.com/Sternrassler/petfinder-collector/pkg/partition"
	"github.com/Sternrassler/petfinder-collector/pkg/progress"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by the collector.
const EnvPrefix = "COLLECTOR"

// Quota tracker backends.
const (
	QuotaMemory = "memory"
	QuotaRedis  = "redis"
)

// Default values.
const (
	DefaultBaseURL        = "https://api.petfinder.com/v2"
	DefaultPublishedAfter = "2019-12-31T23:59:59+00:00"
)

// APIConfig configures the provider connection.
type APIConfig struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	PageSize          int
	RequestInterval   time.Duration
	Timeout           time.Duration
	RetryDelays       []time.Duration
	TokenSafetyMargin time.Duration
	UserAgent         string
}

// CollectionConfig selects what is collected.
type CollectionConfig struct {
	AnimalType     string
	Status         string
	PublishedAfter time.Time
	Sort           string
	Partitions     []string
}

// Config is the complete collector configuration.
type Config struct {
	API        APIConfig
	Collection CollectionConfig

	OutputDir string

	ProgressBackend string
	ProgressDir     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	QuotaBackend string
	DailyBudget  int

	LogLevel  string
	LogPretty bool
	LogFile   string

	MetricsAddr string
}

// New returns a viper instance with every default and environment binding set.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("api.base_url", DefaultBaseURL)
	v.SetDefault("api.token_url", "")
	v.SetDefault("api.client_id", "")
	v.SetDefault("api.client_secret", "")
	v.SetDefault("api.page_size", pagination.MaxPageSize)
	v.SetDefault("api.request_interval", "2s")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.retry_delays", []string{"5s", "10s"})
	v.SetDefault("api.token_safety_margin", "60s")
	v.SetDefault("api.user_agent", "petfinder-collector")

	v.SetDefault("collection.animal_type", "cat")
	v.SetDefault("collection.status", partition.StatusAdopted)
	v.SetDefault("collection.published_after", DefaultPublishedAfter)
	v.SetDefault("collection.sort", "recent")
	v.SetDefault("collection.partitions", []string{})

	v.SetDefault("output.dir", "data")
	v.SetDefault("progress.backend", progress.BackendFile)
	v.SetDefault("progress.dir", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("postgres.dsn", "")

	v.SetDefault("quota.backend", QuotaMemory)
	v.SetDefault("quota.daily_budget", 0)

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.addr", "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api.client_id", EnvPrefix+"_API_CLIENT_ID", "PETFINDER_API_KEY")
	_ = v.BindEnv("api.client_secret", EnvPrefix+"_API_CLIENT_SECRET", "PETFINDER_SECRET_KEY")

	return v
}

// LoadDotEnv loads environment variables from the given .env files (default
// ".env"). Missing files are ignored; variables already set win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ReadFile merges a YAML config file into v.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Load builds the configuration from v. It does not validate it.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			BaseURL:           strings.TrimRight(v.GetString("api.base_url"), "/"),
			TokenURL:          v.GetString("api.token_url"),
			ClientID:          v.GetString("api.client_id"),
			ClientSecret:      v.GetString("api.client_secret"),
			PageSize:          v.GetInt("api.page_size"),
			RequestInterval:   v.GetDuration("api.request_interval"),
			Timeout:           v.GetDuration("api.timeout"),
			TokenSafetyMargin: v.GetDuration("api.token_safety_margin"),
			UserAgent:         v.GetString("api.user_agent"),
		},
		Collection: CollectionConfig{
			AnimalType: strings.ToLower(v.GetString("collection.animal_type")),
			Status:     strings.ToLower(v.GetString("collection.status")),
			Sort:       v.GetString("collection.sort"),
			Partitions: splitList(v.GetStringSlice("collection.partitions")),
		},
		OutputDir:       v.GetString("output.dir"),
		ProgressBackend: v.GetString("progress.backend"),
		ProgressDir:     v.GetString("progress.dir"),
		RedisAddr:       v.GetString("redis.addr"),
		RedisPassword:   v.GetString("redis.password"),
		RedisDB:         v.GetInt("redis.db"),
		PostgresDSN:     v.GetString("postgres.dsn"),
		QuotaBackend:    v.GetString("quota.backend"),
		DailyBudget:     v.GetInt("quota.daily_budget"),
		LogLevel:        v.GetString("log.level"),
		LogPretty:       v.GetBool("log.pretty"),
		LogFile:         v.GetString("log.file"),
		MetricsAddr:     v.GetString("metrics.addr"),
	}

	if cfg.API.TokenURL == "" {
		cfg.API.TokenURL = cfg.API.BaseURL + "/oauth2/token"
	}
	if cfg.ProgressDir == "" {
		cfg.ProgressDir = cfg.OutputDir
	}

	for _, s := range splitList(v.GetStringSlice("api.retry_delays")) {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("api.retry_delays: %w", err)
		}
		cfg.API.RetryDelays = append(cfg.API.RetryDelays, d)
	}

	if after := v.GetString("collection.published_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return nil, fmt.Errorf("collection.published_after: %w", err)
		}
		cfg.Collection.PublishedAfter = t.UTC()
	}

	return cfg, nil
}

// splitList accepts both list values and comma separated strings (as set
// through environment variables).
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, s := range strings.Split(item, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Validate checks the settings needed by every command. Credentials are
// checked separately by ValidateCredentials since only collect needs them.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.PageSize < 1 || c.API.PageSize > pagination.MaxPageSize {
		errs = append(errs, fmt.Errorf("api.page_size must be between 1 and %d (got %d)", pagination.MaxPageSize, c.API.PageSize))
	}
	if c.API.RequestInterval < 0 {
		errs = append(errs, fmt.Errorf("api.request_interval must be >= 0 (got %s)", c.API.RequestInterval))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("api.timeout must be > 0 (got %s)", c.API.Timeout))
	}
	if c.API.TokenSafetyMargin < 0 {
		errs = append(errs, fmt.Errorf("api.token_safety_margin must be >= 0 (got %s)", c.API.TokenSafetyMargin))
	}
	for _, d := range c.API.RetryDelays {
		if d < 0 {
			errs = append(errs, fmt.Errorf("api.retry_delays must be >= 0 (got %s)", d))
		}
	}

	if c.Collection.AnimalType == "" {
		errs = append(errs, errors.New("collection.animal_type is required"))
	}
	if !partition.ValidStatus(c.Collection.Status) {
		errs = append(errs, fmt.Errorf("collection.status %q must be one of adoptable, adopted, found", c.Collection.Status))
	}

	if c.OutputDir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	switch c.ProgressBackend {
	case progress.BackendFile:
	case progress.BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis progress backend"))
		}
	case progress.BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres progress backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("progress.backend %q must be file, redis or postgres", c.ProgressBackend))
	}

	switch c.QuotaBackend {
	case QuotaMemory, QuotaRedis:
	default:
		errs = append(errs, fmt.Errorf("quota.backend %q must be memory or redis", c.QuotaBackend))
	}
	if c.DailyBudget < 0 {
		errs = append(errs, fmt.Errorf("quota.daily_budget must be >= 0 (got %d)", c.DailyBudget))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// ValidateCredentials checks that API credentials are present.
func (c *Config) ValidateCredentials() error {
	if c.API.ClientID == "" || c.API.ClientSecret == "" {
		return errors.New("api.client_id and api.client_secret are required (or PETFINDER_API_KEY and PETFINDER_SECRET_KEY)")
	}
	return nil
}

// RunKey identifies the run this configuration collects.
func (c *Config) RunKey() string {
	return partition.RunKey(c.Collection.AnimalType, c.Collection.Status)
}

// Filters returns the query filters shared by every partition.
func (c *Config) Filters() partition.Filters {
	return partition.Filters{
		AnimalType:     c.Collection.AnimalType,
		Status:         c.Collection.Status,
		PublishedAfter: c.Collection.PublishedAfter,
		Sort:           c.Collection.Sort,
	}
}

// Partitions returns the selected partitions in processing order.
func (c *Config) Partitions() ([]partition.Partition, error) {
	return partition.Select(partition.DefaultUSPartitions(c.Filters()), c.Collection.Partitions)
}

// ProgressOptions returns the progress store options.
func (c *Config) ProgressOptions(logger zerolog.Logger) progress.Options {
	return progress.Options{
		Backend:       c.ProgressBackend,
		Dir:           c.ProgressDir,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
		PostgresDSN:   c.PostgresDSN,
		Logger:        logger,
	}
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.LogLevel); err == nil {
		cfg.Level = level
	}
	cfg.Pretty = c.LogPretty
	cfg.File = c.LogFile
	return cfg
}
