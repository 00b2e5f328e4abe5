package mssql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
)

// DiscoverTableSchema returns the table's columns ordered by column_id.
// rowversion columns are reported as computed since they cannot be written.
func (s *TargetStore) DiscoverTableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	ref := parseTable(table)

	query := `
	SET NOCOUNT ON;
	SELECT
	    c.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    c.column_id AS ordinal_position,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    CASE WHEN c.is_identity = 1 THEN 1 ELSE 0 END AS is_identity,
	    CASE WHEN c.is_computed = 1 OR tp.name = 'timestamp' THEN 1 ELSE 0 END AS is_computed
	FROM sys.columns c
	INNER JOIN sys.types tp ON c.system_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	WHERE c.object_id = OBJECT_ID(QUOTENAME(@schema) + N'.' + QUOTENAME(@table))
	ORDER BY c.column_id
	`

	rows, err := s.adapter.db.QueryContext(ctx, query,
		sql.Named("schema", ref.Schema),
		sql.Named("table", ref.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", ref, err)
	}
	defer rows.Close()

	result := &datasource.TableSchema{Table: ref}
	for rows.Next() {
		var col datasource.ColumnMetadata
		var isNullable, isPrimary, isIdentity, isComputed int

		err := rows.Scan(
			&col.ColumnName,
			&col.DataType,
			&isNullable,
			&col.OrdinalPosition,
			&isPrimary,
			&isIdentity,
			&isComputed,
		)
		if err != nil {
			return nil, fmt.Errorf("scan column row: %w", err)
		}

		col.IsNullable = isNullable == 1
		col.IsPrimaryKey = isPrimary == 1
		col.IsIdentity = isIdentity == 1
		col.IsComputed = isComputed == 1
		result.Columns = append(result.Columns, col)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	if len(result.Columns) == 0 {
		return nil, fmt.Errorf("table %s: %w", ref, apperrors.ErrNotFound)
	}
	return result, nil
}
