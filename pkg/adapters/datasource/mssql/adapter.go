package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"

	mssqldb "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/azuread"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/logging"
)

// Adapter owns a SQL Server connection pool. The extractor and target store are
// built on top of it.
type Adapter struct {
	config *Config
	db     *sql.DB
	logger *zap.Logger
}

// NewAdapter opens and pings a SQL Server connection.
// Supports five authentication methods:
//  1. SQL Authentication (user/password)
//  2. Service Principal (Azure AD client credentials)
//  3. Interactive (Azure AD browser login)
//  4. Azure Default (environment, managed identity or Azure CLI credentials)
//  5. Access Token (pre-acquired Azure AD token)
func NewAdapter(ctx context.Context, cfg *Config, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}

	// Test the connection immediately
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connection test failed: %w", err)
	}

	logger.Info("Connected to SQL Server",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.String("auth_method", cfg.AuthMethod))

	return &Adapter{
		config: cfg,
		db:     db,
		logger: logger,
	}, nil
}

// connectionString returns the driver name and DSN for cfg.
// The access_token method has no secret in the DSN; the token is supplied by openDB.
func connectionString(cfg *Config) (driverName, dsn string, err error) {
	query := url.Values{}
	query.Add("database", cfg.Database)
	if cfg.Encrypt != "" {
		query.Add("encrypt", cfg.Encrypt)
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", strconv.Itoa(cfg.ConnectionTimeout))
	}
	if cfg.ApplicationName != "" {
		query.Add("app name", cfg.ApplicationName)
	}

	u := &url.URL{
		Scheme: "sqlserver",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
	driverName = "sqlserver"

	switch cfg.AuthMethod {
	case AuthSQL:
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	case AuthServicePrincipal:
		driverName = azuread.DriverName
		query.Add("fedauth", azuread.ActiveDirectoryServicePrincipal)
		query.Add("user id", cfg.ClientID+"@"+cfg.TenantID)
		query.Add("password", cfg.ClientSecret)
	case AuthInteractive:
		driverName = azuread.DriverName
		query.Add("fedauth", azuread.ActiveDirectoryInteractive)
		query.Add("applicationclientid", cfg.ClientID)
		if cfg.Username != "" {
			query.Add("user id", cfg.Username)
		}
	case AuthAzureDefault:
		driverName = azuread.DriverName
		query.Add("fedauth", azuread.ActiveDirectoryDefault)
	case AuthAccessToken:
	default:
		return "", "", fmt.Errorf("unsupported auth method: %s", cfg.AuthMethod)
	}

	u.RawQuery = query.Encode()
	return driverName, u.String(), nil
}

func openDB(cfg *Config, logger *zap.Logger) (*sql.DB, error) {
	driverName, dsn, err := connectionString(cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug("Opening SQL Server connection",
		zap.String("driver", driverName),
		zap.String("dsn", logging.SanitizeConnectionString(dsn)))

	if cfg.AuthMethod == AuthAccessToken {
		token := cfg.AccessToken
		connector, err := mssqldb.NewConnectorWithAccessTokenProvider(dsn, func(ctx context.Context) (string, error) {
			return token, nil
		})
		if err != nil {
			return nil, fmt.Errorf("open access token connection: %w", err)
		}
		return sql.OpenDB(connector), nil
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", cfg.AuthMethod, err)
	}
	return db, nil
}

// TestConnection verifies the database is reachable with valid credentials.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// DB returns the underlying *sql.DB.
func (a *Adapter) DB() *sql.DB {
	return a.db
}
