package mssql

import (
	"context"
	"database/sql"
	"fmt"

	mssqldb "github.com/microsoft/go-mssqldb"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// TargetStore implements datasource.TargetStore for SQL Server: bulk copy, staging,
// MERGE and the watermark control table.
type TargetStore struct {
	adapter *Adapter
	opts    datasource.TargetOptions
	logger  *zap.Logger
}

// NewTargetStore opens a target connection.
func NewTargetStore(ctx context.Context, cfg *Config, opts datasource.TargetOptions) (*TargetStore, error) {
	opts = opts.WithDefaults()

	adapter, err := NewAdapter(ctx, cfg, opts.Logger)
	if err != nil {
		return nil, err
	}

	return &TargetStore{
		adapter: adapter,
		opts:    opts,
		logger:  opts.Logger,
	}, nil
}

// BulkLoad copies every cursor row into targetTable with one bulk copy in one transaction.
// Cursor columns are matched to target columns by name, ignoring case.
func (s *TargetStore) BulkLoad(ctx context.Context, cursor datasource.RowCursor, targetTable string) (int64, error) {
	table := parseTable(targetTable)

	schema, err := s.DiscoverTableSchema(ctx, targetTable)
	if err != nil {
		return 0, err
	}
	columns, err := schema.ResolveColumns(cursor.Columns())
	if err != nil {
		return 0, err
	}

	tx, err := s.adapter.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, mssqldb.CopyIn(quoteTable(table), mssqldb.BulkOptions{
		CheckConstraints: true,
		RowsPerBatch:     s.opts.BatchSize,
	}, datasource.ColumnNames(columns)...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk copy into %s: %w", table, err)
	}
	defer stmt.Close()

	var sent int64
	for cursor.Next() {
		values, err := cursor.Values()
		if err != nil {
			return 0, fmt.Errorf("read source row %d: %w", sent+1, err)
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("bulk copy row %d into %s: %w", sent+1, table, err)
		}
		sent++
	}
	if err := cursor.Err(); err != nil {
		return 0, fmt.Errorf("read source rows: %w", err)
	}

	// An Exec with no arguments flushes the batch and reports the server's row count.
	result, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("finish bulk copy into %s: %w", table, err)
	}
	copied, err := result.RowsAffected()
	if err != nil {
		copied = sent
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit bulk copy into %s: %w", table, err)
	}

	s.logger.Debug("Bulk copy complete",
		zap.String("table", table.String()),
		zap.Int64("rows", copied))
	return copied, nil
}

// Truncate removes all rows. TRUNCATE fails for tables referenced by a foreign key;
// that error is returned as-is.
func (s *TargetStore) Truncate(ctx context.Context, table string) error {
	ref := parseTable(table)
	if _, err := s.adapter.db.ExecContext(ctx, "TRUNCATE TABLE "+quoteTable(ref)); err != nil {
		return fmt.Errorf("truncate %s: %w", ref, err)
	}
	return nil
}

// PrepareStaging returns <etl schema>.<prefix><schema>_<table>, cloning the target's
// columns into it when it does not exist yet.
func (s *TargetStore) PrepareStaging(ctx context.Context, targetTable string) (string, error) {
	target := parseTable(targetTable)
	staging := models.StagingRef(target, s.opts.ControlSchema, s.opts.StagingPrefix)

	exists, err := s.tableExists(ctx, staging)
	if err != nil {
		return "", err
	}
	if exists {
		return staging.String(), nil
	}
	if !s.opts.AutoCreateStaging {
		return "", fmt.Errorf("staging table %s does not exist and staging creation is disabled", staging)
	}

	if _, err := s.adapter.db.ExecContext(ctx, buildCreateStagingStatement(staging, target)); err != nil {
		return "", fmt.Errorf("create staging table %s: %w", staging, err)
	}
	s.logger.Info("Created staging table",
		zap.String("staging_table", staging.String()),
		zap.String("table", target.String()))
	return staging.String(), nil
}

// buildCreateStagingStatement clones target's columns with no rows.
// The UNION ALL keeps SELECT INTO from copying the IDENTITY property, so bulk-copied
// key values are stored as given.
func buildCreateStagingStatement(staging, target models.TableRef) string {
	return fmt.Sprintf("SELECT TOP 0 * INTO %s FROM %s UNION ALL SELECT TOP 0 * FROM %s",
		quoteTable(staging), quoteTable(target), quoteTable(target))
}

func (s *TargetStore) tableExists(ctx context.Context, t models.TableRef) (bool, error) {
	var id sql.NullInt64
	err := s.adapter.db.QueryRowContext(ctx, "SELECT OBJECT_ID(@name, N'U')",
		sql.Named("name", quoteTable(t)),
	).Scan(&id)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", t, err)
	}
	return id.Valid, nil
}

// Close releases the target connection.
func (s *TargetStore) Close() error {
	return s.adapter.Close()
}

var _ datasource.TargetStore = (*TargetStore)(nil)
