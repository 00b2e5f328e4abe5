package mssql

import (
	"fmt"
	"strings"
)

// Authentication methods.
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
	AuthInteractive      = "interactive"
	AuthAzureDefault     = "azure_default"
	AuthAccessToken      = "access_token"
)

// DefaultApplicationName is sent to the server as the "app name" connection property.
const DefaultApplicationName = "reportsync"

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod determines which authentication to use.
	// Options: "sql", "service_principal", "interactive", "azure_default", "access_token"
	AuthMethod string

	// SQL Authentication fields. For interactive auth Username is an optional login hint.
	Username string
	Password string

	// Azure AD fields
	TenantID     string
	ClientID     string
	ClientSecret string

	// AccessToken is a pre-acquired Azure AD token for the access_token method.
	AccessToken string

	// Encrypt is passed through to the driver: "true", "false", "strict" or "disable".
	Encrypt                string
	TrustServerCertificate bool
	ConnectionTimeout      int
	MaxConnections         int
	ApplicationName        string
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic config map and auto-detects the auth method
// when none is given.
func FromMap(config map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           "true",
		ConnectionTimeout: DefaultConnectionTimeout(),
		ApplicationName:   DefaultApplicationName,
	}

	if host, ok := config["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := intValue(config["port"]); ok {
		cfg.Port = port
	}

	if database, ok := config["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	switch encrypt := config["encrypt"].(type) {
	case bool:
		cfg.Encrypt = fmt.Sprintf("%t", encrypt)
	case string:
		if encrypt != "" {
			cfg.Encrypt = strings.ToLower(encrypt)
		}
	}

	if trust, ok := config["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}
	if timeout, ok := intValue(config["connection_timeout"]); ok && timeout > 0 {
		cfg.ConnectionTimeout = timeout
	}
	if maxConns, ok := intValue(config["max_connections"]); ok {
		cfg.MaxConnections = maxConns
	}
	if app, ok := config["application_name"].(string); ok && app != "" {
		cfg.ApplicationName = app
	}

	cfg.Username = stringValue(config, "user")
	cfg.Password, _ = config["password"].(string)
	cfg.TenantID = stringValue(config, "tenant_id")
	cfg.ClientID = stringValue(config, "client_id")
	cfg.ClientSecret, _ = config["client_secret"].(string)
	cfg.AccessToken = stringValue(config, "azure_access_token")

	if authMethod := stringValue(config, "auth_method"); authMethod != "" {
		cfg.AuthMethod = strings.ToLower(authMethod)
	} else {
		// Priority: access token > client secret > user > ambient Azure credentials
		switch {
		case cfg.AccessToken != "":
			cfg.AuthMethod = AuthAccessToken
		case cfg.ClientSecret != "":
			cfg.AuthMethod = AuthServicePrincipal
		case cfg.Username != "":
			cfg.AuthMethod = AuthSQL
		default:
			cfg.AuthMethod = AuthAzureDefault
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Encrypt {
	case "", "true", "false", "strict", "disable":
	default:
		return fmt.Errorf("invalid encrypt value: %s (must be true, false, strict or disable)", c.Encrypt)
	}

	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("user is required for SQL authentication")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	case AuthInteractive:
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for interactive authentication")
		}
	case AuthAzureDefault:
	case AuthAccessToken:
		if c.AccessToken == "" {
			return fmt.Errorf("azure_access_token is required for access token authentication")
		}
	default:
		return fmt.Errorf("invalid auth method: %s (must be sql, service_principal, interactive, azure_default or access_token)", c.AuthMethod)
	}

	return nil
}

// intValue accepts the numeric shapes a config map carries (YAML/env ints, JSON float64).
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func stringValue(config map[string]any, key string) string {
	s, _ := config[key].(string)
	return strings.TrimSpace(s)
}
