package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// TargetStore implements datasource.TargetStore for PostgreSQL.
type TargetStore struct {
	adapter *Adapter
	opts    datasource.TargetOptions
	logger  *zap.Logger
}

// NewTargetStore opens a target pool.
func NewTargetStore(ctx context.Context, cfg *Config, opts datasource.TargetOptions) (*TargetStore, error) {
	opts = opts.WithDefaults()
	adapter, err := NewAdapter(ctx, cfg, opts.Logger)
	if err != nil {
		return nil, err
	}
	return &TargetStore{adapter: adapter, opts: opts, logger: opts.Logger}, nil
}

// BulkLoad streams the cursor through COPY FROM STDIN inside one transaction.
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

	tx, err := s.adapter.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{table.Schema, table.Name},
		datasource.ColumnNames(columns),
		&copySource{cursor: cursor, columns: columns},
	)
	if err != nil {
		return 0, fmt.Errorf("copy into %s: %w", table, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit copy into %s: %w", table, err)
	}

	s.logger.Debug("Bulk copy complete",
		zap.String("table", table.String()),
		zap.Int64("rows", copied))
	return copied, nil
}

// copySource feeds a RowCursor to pgx.CopyFrom.
type copySource struct {
	cursor  datasource.RowCursor
	columns []datasource.ColumnMetadata
}

func (c *copySource) Next() bool {
	return c.cursor.Next()
}

func (c *copySource) Values() ([]any, error) {
	values, err := c.cursor.Values()
	if err != nil {
		return nil, err
	}
	for i, v := range values {
		if i < len(c.columns) {
			values[i], err = toCopyValue(c.columns[i].DataType, v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.columns[i].ColumnName, err)
			}
		}
	}
	return values, nil
}

func (c *copySource) Err() error {
	return c.cursor.Err()
}

// toCopyValue converts decimal text (as SQL Server sources deliver it) to pgtype.Numeric,
// since the binary COPY protocol has no string encoding for numeric.
func toCopyValue(dataType string, v any) (any, error) {
	s, ok := v.(string)
	if !ok || dataType != "numeric" {
		return v, nil
	}
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		return nil, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return n, nil
}

// Truncate removes all rows. Foreign key references make TRUNCATE fail; that error is returned.
func (s *TargetStore) Truncate(ctx context.Context, table string) error {
	ref := parseTable(table)
	if _, err := s.adapter.pool.Exec(ctx, "TRUNCATE TABLE "+qualifiedTableName(ref)); err != nil {
		return fmt.Errorf("truncate %s: %w", ref, err)
	}
	return nil
}

// PrepareStaging returns <etl schema>.<prefix><schema>_<table>, creating it with the
// target's columns when missing. Identity and generated properties are not copied.
func (s *TargetStore) PrepareStaging(ctx context.Context, targetTable string) (string, error) {
	target := parseTable(targetTable)
	staging := models.StagingRef(target, s.opts.ControlSchema, s.opts.StagingPrefix)

	var exists bool
	err := s.adapter.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", qualifiedTableName(staging)).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check table %s: %w", staging, err)
	}
	if exists {
		return staging.String(), nil
	}
	if !s.opts.AutoCreateStaging {
		return "", fmt.Errorf("staging table %s does not exist and staging creation is disabled", staging)
	}

	if _, err := s.adapter.pool.Exec(ctx, buildCreateStagingStatement(staging, target)); err != nil {
		return "", fmt.Errorf("create staging table %s: %w", staging, err)
	}
	s.logger.Info("Created staging table",
		zap.String("staging_table", staging.String()),
		zap.String("table", target.String()))
	return staging.String(), nil
}

func buildCreateStagingStatement(staging, target models.TableRef) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (LIKE %s)", qualifiedTableName(staging), qualifiedTableName(target))
}

// Close releases the target pool.
func (s *TargetStore) Close() error {
	return s.adapter.Close()
}

var _ datasource.TargetStore = (*TargetStore)(nil)
