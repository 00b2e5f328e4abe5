package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
	"github.com/sh4npeiris/ReportingDataSync/pkg/retry"
)

// DefaultConfigPath is read when no --config flag is given.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for reportsync.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, client secrets, tokens) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	Logging LoggingConfig `yaml:"logging"`

	// Source is the transactional database tables are read from.
	Source DatabaseConfig `yaml:"source" env-prefix:"SOURCE_"`
	// Target is the reporting database tables, staging and watermarks are written to.
	Target DatabaseConfig `yaml:"target" env-prefix:"TARGET_"`

	ETL   ETLConfig   `yaml:"etl"`
	Retry RetryConfig `yaml:"retry"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"` // json | console
}

// DatabaseConfig holds connection settings for one side of the sync.
// Not every field applies to every type; adapters ignore what they do not use.
type DatabaseConfig struct {
	Type     string `yaml:"type" env:"TYPE" env-default:"mssql"` // mssql | postgres
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"` // 0 means the adapter's default port
	Database string `yaml:"database" env:"DATABASE"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"-" env:"PASSWORD"` // Secret - not in YAML

	// AuthMethod is sql, service_principal, interactive, azure_default or access_token (mssql).
	AuthMethod   string `yaml:"auth_method" env:"AUTH_METHOD"`
	TenantID     string `yaml:"tenant_id" env:"TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"-" env:"CLIENT_SECRET"` // Secret - not in YAML
	AccessToken  string `yaml:"-" env:"ACCESS_TOKEN"`  // Secret - not in YAML

	Encrypt                string `yaml:"encrypt" env:"ENCRYPT" env-default:"true"` // true | false | strict
	TrustServerCertificate bool   `yaml:"trust_server_certificate" env:"TRUST_SERVER_CERTIFICATE" env-default:"false"`
	ConnectionTimeout      int    `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT" env-default:"30"`

	SSLMode        string `yaml:"ssl_mode" env:"SSLMODE" env-default:"disable"` // postgres only
	MaxConnections int32  `yaml:"max_connections" env:"MAX_CONNECTIONS" env-default:"4"`
}

// ETLConfig holds watermark, staging and transfer settings.
type ETLConfig struct {
	SchemaName       string `yaml:"schema_name" env:"ETL_SCHEMA_NAME" env-default:"etl"`
	ControlTableName string `yaml:"control_table_name" env:"ETL_CONTROL_TABLE_NAME" env-default:"ETLControl"`

	// FiscalYearStartMonth is the first month (1-12) of the fiscal year used as the
	// watermark for tables that have never been synchronized.
	FiscalYearStartMonth int `yaml:"fiscal_year_start_month" env:"ETL_FISCAL_YEAR_START_MONTH" env-default:"7"`
	// ForceFiscalYearStart overrides the computed default watermark (RFC 3339 or YYYY-MM-DD).
	ForceFiscalYearStart string `yaml:"force_fiscal_year_start" env:"ETL_FORCE_FISCAL_YEAR_START"`

	TablesFile    string `yaml:"tables_file" env:"ETL_TABLES_FILE" env-default:"TableConfigurations/etl-tables.yaml"`
	BatchSize     int    `yaml:"batch_size" env:"ETL_BATCH_SIZE" env-default:"10000"`
	StagingPrefix string `yaml:"staging_prefix" env:"ETL_STAGING_PREFIX" env-default:"stg_"`

	// SkipStagingCreation requires staging tables to be created ahead of time.
	// Negative so an explicit false in YAML is not replaced by a default.
	SkipStagingCreation bool `yaml:"skip_staging_creation" env:"ETL_SKIP_STAGING_CREATION"`

	// forceStart is the parsed ForceFiscalYearStart (not from config file).
	forceStart *time.Time
}

// RetryConfig is the backoff policy for transient store failures.
// A zero in YAML is treated as unset; use the env var to disable retries.
type RetryConfig struct {
	MaxRetries     int     `yaml:"max_retries" env:"RETRY_MAX_RETRIES" env-default:"3"`
	InitialDelayMS int     `yaml:"initial_delay_ms" env:"RETRY_INITIAL_DELAY_MS" env-default:"500"`
	MaxDelayMS     int     `yaml:"max_delay_ms" env:"RETRY_MAX_DELAY_MS" env-default:"30000"`
	Multiplier     float64 `yaml:"multiplier" env:"RETRY_MULTIPLIER" env-default:"2.0"`
	JitterFactor   float64 `yaml:"jitter_factor" env:"RETRY_JITTER_FACTOR" env-default:"0.1"`
}

// Load reads configuration from path with environment variable overrides.
// An empty path means config.yaml; if that default file does not exist the
// configuration comes from the environment alone. An explicit path must exist.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	if _, statErr := os.Stat(path); !explicit && errors.Is(statErr, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Source.Type = strings.ToLower(strings.TrimSpace(c.Source.Type))
	c.Target.Type = strings.ToLower(strings.TrimSpace(c.Target.Type))

	raw := strings.TrimSpace(c.ETL.ForceFiscalYearStart)
	if raw == "" {
		c.ETL.forceStart = nil
		return nil
	}
	t, err := parseTimestamp(raw)
	if err != nil {
		return fmt.Errorf("force_fiscal_year_start: %w", err)
	}
	c.ETL.forceStart = &t
	return nil
}

// Validate checks values that cleanenv cannot.
func (c *Config) Validate() error {
	if c.Source.Type == "" {
		return fmt.Errorf("source.type is required")
	}
	if c.Target.Type == "" {
		return fmt.Errorf("target.type is required")
	}
	if c.ETL.FiscalYearStartMonth < 1 || c.ETL.FiscalYearStartMonth > 12 {
		return fmt.Errorf("etl.fiscal_year_start_month must be 1-12, got %d", c.ETL.FiscalYearStartMonth)
	}
	if strings.TrimSpace(c.ETL.SchemaName) == "" {
		return fmt.Errorf("etl.schema_name is required")
	}
	if strings.TrimSpace(c.ETL.ControlTableName) == "" {
		return fmt.Errorf("etl.control_table_name is required")
	}
	if c.ETL.BatchSize <= 0 {
		return fmt.Errorf("etl.batch_size must be positive, got %d", c.ETL.BatchSize)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	return nil
}

// FiscalYearPolicy returns the default-watermark rule for never-synchronized tables.
func (e *ETLConfig) FiscalYearPolicy() models.FiscalYearPolicy {
	return models.FiscalYearPolicy{
		StartMonth: time.Month(e.FiscalYearStartMonth),
		Override:   e.forceStart,
	}
}

// AutoCreateStaging reports whether missing staging tables are cloned from their targets.
func (e *ETLConfig) AutoCreateStaging() bool {
	return !e.SkipStagingCreation
}

// SetForceFiscalYearStart sets the override directly; the CLI flag --force-fiscal-year-start uses it.
func (e *ETLConfig) SetForceFiscalYearStart(t *time.Time) {
	e.forceStart = t
	if t == nil {
		e.ForceFiscalYearStart = ""
		return
	}
	e.ForceFiscalYearStart = t.Format(time.RFC3339Nano)
}

// Policy converts the configured values into a retry.Config.
func (r RetryConfig) Policy() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = r.MaxRetries
	if r.InitialDelayMS > 0 {
		cfg.InitialDelay = time.Duration(r.InitialDelayMS) * time.Millisecond
	}
	if r.MaxDelayMS > 0 {
		cfg.MaxDelay = time.Duration(r.MaxDelayMS) * time.Millisecond
	}
	if r.Multiplier >= 1 {
		cfg.Multiplier = r.Multiplier
	}
	if r.JitterFactor >= 0 && r.JitterFactor <= 1 {
		cfg.JitterFactor = r.JitterFactor
	}
	return cfg
}

// ToMap flattens the connection settings into the generic map the datasource
// adapters' FromMap functions accept. Unset optional values are omitted.
func (d *DatabaseConfig) ToMap() map[string]any {
	m := map[string]any{
		"host":                     d.Host,
		"database":                 d.Database,
		"encrypt":                  d.Encrypt,
		"trust_server_certificate": d.TrustServerCertificate,
		"connection_timeout":       d.ConnectionTimeout,
		"ssl_mode":                 d.SSLMode,
		"max_connections":          int(d.MaxConnections),
	}
	if d.Port > 0 {
		m["port"] = d.Port
	}
	optional := map[string]string{
		"user":               d.User,
		"password":           d.Password,
		"auth_method":        d.AuthMethod,
		"tenant_id":          d.TenantID,
		"client_id":          d.ClientID,
		"client_secret":      d.ClientSecret,
		"azure_access_token": d.AccessToken,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

// parseTimestamp accepts RFC 3339 (with or without fractional seconds) or a bare date,
// interpreted as UTC.
func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q (want RFC 3339 or YYYY-MM-DD)", s)
}

// ParseTimestamp is parseTimestamp for callers outside the package (CLI arguments).
func ParseTimestamp(s string) (time.Time, error) {
	return parseTimestamp(strings.TrimSpace(s))
}
