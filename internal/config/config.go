package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Ongage       OngageConfig       `yaml:"ongage"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Sync         SyncConfig         `yaml:"sync"`
	Demographics DemographicsConfig `yaml:"demographics"`
	Geo          GeoConfig          `yaml:"geo"`
	Resolution   ResolutionConfig   `yaml:"resolution"`
	Export       ExportConfig       `yaml:"export"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr is host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// OngageConfig holds Ongage API configuration
type OngageConfig struct {
	BaseURL        string `yaml:"base_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	AccountCode    string `yaml:"account_code"`
	ListID         string `yaml:"list_id"`
	PageSize       int    `yaml:"page_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c OngageConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig selects and configures the engagement store.
type StorageConfig struct {
	Type          string `yaml:"type"` // "postgres" or "dynamodb"
	DatabaseURL   string `yaml:"database_url"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// RedisConfig configures the run lock backend. An empty URL falls back to
// PostgreSQL advisory locks.
type RedisConfig struct {
	URL            string `yaml:"url"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the lock TTL as a duration
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SyncConfig tunes the sync orchestrator.
type SyncConfig struct {
	IncrementalThresholdHours int `yaml:"incremental_threshold_hours"`
	Workers                   int `yaml:"workers"`
	BatchSize                 int `yaml:"batch_size"`
	UpstreamAttempts          int `yaml:"upstream_attempts"`
	RetryBackoffSeconds       int `yaml:"retry_backoff_seconds"`
	MaxRateLimitWaitSeconds   int `yaml:"max_rate_limit_wait_seconds"`
}

// IncrementalThreshold is the age after which a campaign is stale.
func (c SyncConfig) IncrementalThreshold() time.Duration {
	return time.Duration(c.IncrementalThresholdHours) * time.Hour
}

// RetryBackoff is the base delay between upstream retries.
func (c SyncConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// MaxRateLimitWait caps the total rate-limit wait per page.
func (c SyncConfig) MaxRateLimitWait() time.Duration {
	return time.Duration(c.MaxRateLimitWaitSeconds) * time.Second
}

// SnowflakeConfig holds Snowflake configuration for the demographic source
type SnowflakeConfig struct {
	ConnectionString string `yaml:"connection_string"`
	Account          string `yaml:"account"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	Database         string `yaml:"database"`
	Schema           string `yaml:"schema"`
	Warehouse        string `yaml:"warehouse"`
	Table            string `yaml:"table"`
}

// DemographicsConfig selects where demographic records come from.
type DemographicsConfig struct {
	Source    string          `yaml:"source"` // "csv" or "snowflake"
	CSVPath   string          `yaml:"csv_path"`
	Snowflake SnowflakeConfig `yaml:"snowflake"`
}

// GeoConfig locates the postal-code region artifact.
type GeoConfig struct {
	ArtifactPath        string `yaml:"artifact_path"`
	S3Bucket            string `yaml:"s3_bucket"`
	S3Key               string `yaml:"s3_key"`
	LowConfidenceRegion string `yaml:"low_confidence_region"`
}

// ResolutionConfig tunes identity resolution.
type ResolutionConfig struct {
	Enabled        bool    `yaml:"enabled"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	Workers        int     `yaml:"workers"`
}

// ExportConfig configures campaign materialization.
type ExportConfig struct {
	Dir       string `yaml:"dir"`
	FlagStyle string `yaml:"flag_style"` // "yesno" or "binary"
	Sentinel  string `yaml:"sentinel"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Ongage.BaseURL == "" {
		cfg.Ongage.BaseURL = "https://api.ongage.net"
	}
	if cfg.Ongage.PageSize <= 0 || cfg.Ongage.PageSize > 100 {
		cfg.Ongage.PageSize = 100
	}
	if cfg.Ongage.TimeoutSeconds == 0 {
		cfg.Ongage.TimeoutSeconds = 60
	}
	if cfg.Ongage.MaxRetries == 0 {
		cfg.Ongage.MaxRetries = 3
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "postgres"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Storage.DynamoDBTable == "" {
		cfg.Storage.DynamoDBTable = "engagement-sync"
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 3600
	}
	if cfg.Sync.IncrementalThresholdHours == 0 {
		cfg.Sync.IncrementalThresholdHours = 24
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 1
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 100
	}
	if cfg.Sync.UpstreamAttempts == 0 {
		cfg.Sync.UpstreamAttempts = 3
	}
	if cfg.Sync.RetryBackoffSeconds == 0 {
		cfg.Sync.RetryBackoffSeconds = 2
	}
	if cfg.Sync.MaxRateLimitWaitSeconds == 0 {
		cfg.Sync.MaxRateLimitWaitSeconds = 120
	}
	if cfg.Demographics.Source == "" {
		cfg.Demographics.Source = "csv"
	}
	if cfg.Geo.S3Key == "" {
		cfg.Geo.S3Key = "geo/postal_regions.json"
	}
	if cfg.Resolution.FuzzyThreshold == 0 {
		cfg.Resolution.FuzzyThreshold = 0.85
	}
	if cfg.Resolution.Workers == 0 {
		cfg.Resolution.Workers = 4
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = "./exports"
	}
	if cfg.Export.FlagStyle == "" {
		cfg.Export.FlagStyle = "yesno"
	}
	if cfg.Export.Sentinel == "" {
		cfg.Export.Sentinel = "N/A"
	}
	if cfg.Export.S3Prefix == "" {
		cfg.Export.S3Prefix = "exports"
	}
}

// Validate rejects settings no component can run with.
func (cfg *Config) Validate() error {
	var problems []string
	switch cfg.Storage.Type {
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			problems = append(problems, "storage.database_url is required for postgres")
		}
	case "dynamodb":
	default:
		problems = append(problems, fmt.Sprintf("storage.type %q must be postgres or dynamodb", cfg.Storage.Type))
	}
	switch cfg.Demographics.Source {
	case "csv", "snowflake":
	default:
		problems = append(problems, fmt.Sprintf("demographics.source %q must be csv or snowflake", cfg.Demographics.Source))
	}
	switch cfg.Export.FlagStyle {
	case "yesno", "binary":
	default:
		problems = append(problems, fmt.Sprintf("export.flag_style %q must be yesno or binary", cfg.Export.FlagStyle))
	}
	if t := cfg.Resolution.FuzzyThreshold; t <= 0 || t > 1 {
		problems = append(problems, "resolution.fuzzy_threshold must be in (0, 1]")
	}
	if cfg.Sync.Workers < 1 {
		problems = append(problems, "sync.workers must be at least 1")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	setString(&cfg.Ongage.BaseURL, "ONGAGE_BASE_URL")
	setString(&cfg.Ongage.Username, "ONGAGE_USERNAME")
	setString(&cfg.Ongage.Password, "ONGAGE_PASSWORD")
	setString(&cfg.Ongage.AccountCode, "ONGAGE_ACCOUNT_CODE")
	setString(&cfg.Ongage.ListID, "ONGAGE_LIST_ID")
	if n, ok := envInt("ONGAGE_PAGE_SIZE"); ok && n > 0 && n <= 100 {
		cfg.Ongage.PageSize = n
	}

	// Database override (critical for ECS deployment where config.yaml has local defaults)
	setString(&cfg.Storage.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.DynamoDBTable, "DYNAMODB_TABLE")
	setString(&cfg.Storage.AWSRegion, "AWS_REGION")
	setString(&cfg.Redis.URL, "REDIS_URL")

	sf := &cfg.Demographics.Snowflake
	setString(&sf.ConnectionString, "SNOWFLAKE_CONNECTION_STRING")
	setString(&sf.Account, "SNOWFLAKE_ACCOUNT")
	setString(&sf.User, "SNOWFLAKE_USER")
	setString(&sf.Password, "SNOWFLAKE_PASSWORD")
	setString(&sf.Database, "SNOWFLAKE_DATABASE")
	setString(&sf.Schema, "SNOWFLAKE_SCHEMA")
	setString(&sf.Warehouse, "SNOWFLAKE_WAREHOUSE")

	setString(&cfg.Geo.S3Bucket, "GEO_S3_BUCKET")
	setString(&cfg.Export.S3Bucket, "EXPORT_S3_BUCKET")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
