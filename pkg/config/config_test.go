package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleYAML = `
env: "test"
logging:
  level: debug
  format: console
source:
  type: mssql
  host: "sql01.example.com"
  database: "Production"
  auth_method: interactive
  tenant_id: "tenant-1"
  client_id: "client-1"
target:
  type: mssql
  host: "localhost"
  port: 1434
  database: "Reporting"
  user: "etl"
  auth_method: sql
  trust_server_certificate: true
etl:
  schema_name: "sync"
  control_table_name: "Control"
  fiscal_year_start_month: 9
  tables_file: "tables.yaml"
  batch_size: 5000
`

func TestLoad_FromYAML(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path, "1.2.3")
	require.NoError(t, err)

	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "test", cfg.Env)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	assert.Equal(t, "mssql", cfg.Source.Type)
	assert.Equal(t, "sql01.example.com", cfg.Source.Host)
	assert.Equal(t, "interactive", cfg.Source.AuthMethod)
	assert.Equal(t, 0, cfg.Source.Port, "unset port is left to the adapter")

	assert.Equal(t, 1434, cfg.Target.Port)
	assert.True(t, cfg.Target.TrustServerCertificate)
	assert.Equal(t, "true", cfg.Target.Encrypt, "encrypt defaults to true")

	assert.Equal(t, "sync", cfg.ETL.SchemaName)
	assert.Equal(t, "Control", cfg.ETL.ControlTableName)
	assert.Equal(t, 9, cfg.ETL.FiscalYearStartMonth)
	assert.Equal(t, 5000, cfg.ETL.BatchSize)
	assert.Equal(t, "stg_", cfg.ETL.StagingPrefix)
	assert.True(t, cfg.ETL.AutoCreateStaging())

	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 500, cfg.Retry.InitialDelayMS)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, sampleYAML)

	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SOURCE_HOST", "sql02.example.com")
	t.Setenv("TARGET_PASSWORD", "from-env")
	t.Setenv("TARGET_TYPE", "Postgres")
	t.Setenv("ETL_BATCH_SIZE", "250")
	t.Setenv("ETL_SKIP_STAGING_CREATION", "true")
	t.Setenv("RETRY_MAX_RETRIES", "5")

	cfg, err := Load(path, "dev")
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "sql02.example.com", cfg.Source.Host)
	assert.Equal(t, "from-env", cfg.Target.Password)
	assert.Equal(t, "postgres", cfg.Target.Type, "types are normalized")
	assert.Equal(t, 250, cfg.ETL.BatchSize)
	assert.False(t, cfg.ETL.AutoCreateStaging())
	assert.Equal(t, 5, cfg.Retry.MaxRetries)

	// Prefixes keep the two sides apart.
	assert.Empty(t, cfg.Source.Password)
}

func TestLoad_SecretsIgnoredInYAML(t *testing.T) {
	path := writeConfig(t, `
target:
  type: mssql
  host: "localhost"
  database: "Reporting"
  user: "etl"
  password: "should-not-load"
  client_secret: "nor-this"
`)
	cfg, err := Load(path, "dev")
	require.NoError(t, err)
	assert.Equal(t, "etl", cfg.Target.User)
	assert.Empty(t, cfg.Target.Password)
	assert.Empty(t, cfg.Target.ClientSecret)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestLoad_DefaultPathFallsBackToEnv(t *testing.T) {
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(originalDir) })

	t.Setenv("SOURCE_HOST", "env-only-host")
	t.Setenv("ETL_FISCAL_YEAR_START_MONTH", "1")

	cfg, err := Load("", "dev")
	require.NoError(t, err)
	assert.Equal(t, "env-only-host", cfg.Source.Host)
	assert.Equal(t, "TableConfigurations/etl-tables.yaml", cfg.ETL.TablesFile)
	assert.Equal(t, time.January, cfg.ETL.FiscalYearPolicy().StartMonth)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		extra   map[string]string
		wantErr string
	}{
		{"month too large", map[string]string{"ETL_FISCAL_YEAR_START_MONTH": "13"}, "fiscal_year_start_month"},
		{"negative batch", map[string]string{"ETL_BATCH_SIZE": "-1"}, "batch_size"},
		{"bad override", map[string]string{"ETL_FORCE_FISCAL_YEAR_START": "yesterday"}, "force_fiscal_year_start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, sampleYAML)
			for k, v := range tt.extra {
				t.Setenv(k, v)
			}
			_, err := Load(path, "dev")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFiscalYearPolicy_Override(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("ETL_FORCE_FISCAL_YEAR_START", "2023-07-01")

	cfg, err := Load(path, "dev")
	require.NoError(t, err)

	policy := cfg.ETL.FiscalYearPolicy()
	require.NotNil(t, policy.Override)
	assert.Equal(t, time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC), policy.Default())
}

func TestSetForceFiscalYearStart(t *testing.T) {
	var e ETLConfig
	e.FiscalYearStartMonth = 7

	ts := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	e.SetForceFiscalYearStart(&ts)
	assert.Equal(t, ts, e.FiscalYearPolicy().Default())
	assert.Equal(t, "2024-01-15T00:00:00Z", e.ForceFiscalYearStart)

	e.SetForceFiscalYearStart(nil)
	assert.Nil(t, e.FiscalYearPolicy().Override)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-02-01", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-02-01 13:45:00", time.Date(2024, 2, 1, 13, 45, 0, 0, time.UTC)},
		{"2024-02-01T13:45:00", time.Date(2024, 2, 1, 13, 45, 0, 0, time.UTC)},
		{"2024-02-01T13:45:00.123456Z", time.Date(2024, 2, 1, 13, 45, 0, 123456000, time.UTC)},
		{" 2024-02-01 ", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
	}

	_, err := ParseTimestamp("02/01/2024")
	assert.Error(t, err)
}

func TestRetryConfig_Policy(t *testing.T) {
	r := RetryConfig{MaxRetries: 4, InitialDelayMS: 100, MaxDelayMS: 2000, Multiplier: 3, JitterFactor: 0}
	p := r.Policy()

	assert.Equal(t, 4, p.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 2*time.Second, p.MaxDelay)
	assert.Equal(t, 3.0, p.Multiplier)
	assert.Equal(t, 0.0, p.JitterFactor)
}

func TestDatabaseConfig_ToMap(t *testing.T) {
	d := DatabaseConfig{
		Host:              "sql01",
		Port:              1433,
		Database:          "Reporting",
		User:              "etl",
		Password:          "pw",
		AuthMethod:        "sql",
		Encrypt:           "strict",
		ConnectionTimeout: 15,
		MaxConnections:    4,
	}

	m := d.ToMap()
	assert.Equal(t, "sql01", m["host"])
	assert.Equal(t, 1433, m["port"])
	assert.Equal(t, "Reporting", m["database"])
	assert.Equal(t, "etl", m["user"])
	assert.Equal(t, "pw", m["password"])
	assert.Equal(t, "sql", m["auth_method"])
	assert.Equal(t, "strict", m["encrypt"])
	assert.Equal(t, 15, m["connection_timeout"])
	assert.Equal(t, 4, m["max_connections"])
	assert.NotContains(t, m, "client_secret")
	assert.NotContains(t, m, "azure_access_token")

	d.Port = 0
	assert.NotContains(t, d.ToMap(), "port")
}
