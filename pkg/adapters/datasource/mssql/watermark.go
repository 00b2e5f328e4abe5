package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

func (s *TargetStore) controlTable() models.TableRef {
	return models.TableRef{Schema: s.opts.ControlSchema, Name: s.opts.ControlTable}
}

// EnsureSchema creates the ETL schema and the control table if they are missing.
func (s *TargetStore) EnsureSchema(ctx context.Context) error {
	ctl := s.controlTable()

	// CREATE SCHEMA must be alone in its batch, hence sp_executesql.
	createSchema := `
	IF NOT EXISTS (SELECT 1 FROM sys.schemas WHERE name = @schema)
	BEGIN
	    DECLARE @ddl NVARCHAR(4000) = N'CREATE SCHEMA ' + QUOTENAME(@schema);
	    EXEC sp_executesql @ddl;
	END
	`
	if _, err := s.adapter.db.ExecContext(ctx, createSchema, sql.Named("schema", ctl.Schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", ctl.Schema, err)
	}

	if _, err := s.adapter.db.ExecContext(ctx, buildCreateControlTableStatement(ctl)); err != nil {
		return fmt.Errorf("create control table %s: %w", ctl, err)
	}

	s.logger.Debug("Watermark store ready", zap.String("control_table", ctl.String()))
	return nil
}

// buildCreateControlTableStatement creates the control table, and widens LastRunDate on
// tables created with a coarser scale. DATETIME2(7) holds every tick a source
// DATETIME2 column can carry, so a stored watermark equals the MAX it was read from.
func buildCreateControlTableStatement(ctl models.TableRef) string {
	name := quoteTable(ctl)
	return fmt.Sprintf(`
	IF OBJECT_ID(N'%[1]s', N'U') IS NULL
	BEGIN
	    CREATE TABLE %[2]s (
	        TableName VARCHAR(255) NOT NULL PRIMARY KEY,
	        LastRunDate DATETIME2(7) NULL
	    );
	END
	ELSE IF COLUMNPROPERTY(OBJECT_ID(N'%[1]s', N'U'), 'LastRunDate', 'Scale') < 7
	BEGIN
	    ALTER TABLE %[2]s ALTER COLUMN LastRunDate DATETIME2(7) NULL;
	END
	`, escapeStringLiteral(name), name)
}

// GetWatermark returns the stored watermark, or the fiscal-year default when the
// table has no row or a NULL value.
func (s *TargetStore) GetWatermark(ctx context.Context, table string) (time.Time, error) {
	query := fmt.Sprintf("SELECT LastRunDate FROM %s WHERE TableName = @tableName", quoteTable(s.controlTable()))

	var value sql.NullTime
	err := s.adapter.db.QueryRowContext(ctx, query, sql.Named("tableName", watermarkKey(table))).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !value.Valid) {
		def := s.opts.Policy.Default()
		s.logger.Debug("No stored watermark, using fiscal year default",
			zap.String("table", table),
			zap.Time("watermark", def))
		return def, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark for %s: %w", table, err)
	}
	return asUTC(value.Time), nil
}

// SetWatermark upserts the watermark under a serializable update lock.
func (s *TargetStore) SetWatermark(ctx context.Context, table string, value time.Time) error {
	ctl := quoteTable(s.controlTable())
	upsert := fmt.Sprintf(`
	UPDATE %[1]s WITH (UPDLOCK, SERIALIZABLE)
	SET LastRunDate = @lastRunDate
	WHERE TableName = @tableName;

	IF @@ROWCOUNT = 0
	    INSERT INTO %[1]s (TableName, LastRunDate) VALUES (@tableName, @lastRunDate);
	`, ctl)

	tx, err := s.adapter.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsert,
		sql.Named("tableName", watermarkKey(table)),
		sql.Named("lastRunDate", value.UTC()),
	); err != nil {
		return fmt.Errorf("write watermark for %s: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit watermark for %s: %w", table, err)
	}
	return nil
}

// watermarkKey is the control table key for a target table name as configured.
func watermarkKey(table string) string {
	return strings.TrimSpace(table)
}

// asUTC reinterprets a DATETIME2 value (which carries no zone) as UTC.
func asUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
