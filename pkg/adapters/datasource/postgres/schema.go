package postgres

import (
	"context"
	"fmt"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
)

// DiscoverTableSchema returns the table's columns ordered by ordinal position.
// Generated columns are reported as computed.
func (s *TargetStore) DiscoverTableSchema(ctx context.Context, table string) (*datasource.TableSchema, error) {
	ref := parseTable(table)

	const query = `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			c.ordinal_position,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			c.is_identity = 'YES' AS is_identity,
			c.is_generated = 'ALWAYS' AS is_computed
		FROM information_schema.columns c
		LEFT JOIN (
			-- every column of the primary key, composite keys included
			SELECT a.attname AS column_name, true AS is_pk
			FROM pg_index ix
			JOIN pg_class t ON t.oid = ix.indrelid
			JOIN pg_namespace n ON n.oid = t.relnamespace
			JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary = true
			  AND n.nspname = $1
			  AND t.relname = $2
		) pk ON c.column_name = pk.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
	`

	rows, err := s.adapter.pool.Query(ctx, query, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("query columns of %s: %w", ref, err)
	}
	defer rows.Close()

	result := &datasource.TableSchema{Table: ref}
	for rows.Next() {
		var c datasource.ColumnMetadata
		if err := rows.Scan(&c.ColumnName, &c.DataType, &c.IsNullable, &c.OrdinalPosition,
			&c.IsPrimaryKey, &c.IsIdentity, &c.IsComputed); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		result.Columns = append(result.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	if len(result.Columns) == 0 {
		return nil, fmt.Errorf("table %s: %w", ref, apperrors.ErrNotFound)
	}
	return result, nil
}
