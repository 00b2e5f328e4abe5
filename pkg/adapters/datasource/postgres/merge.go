package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// MergeUpsert merges stagingTable into targetTable on keyColumns in one transaction.
// The target is locked against concurrent writers for the duration of the merge.
func (s *TargetStore) MergeUpsert(ctx context.Context, stagingTable, targetTable string, keyColumns []string) error {
	schema, err := s.DiscoverTableSchema(ctx, targetTable)
	if err != nil {
		return err
	}

	staging := parseTable(stagingTable)
	stmt, err := buildMergeStatement(schema, staging, keyColumns)
	if err != nil {
		return err
	}
	dupQuery, err := buildDuplicateKeyQuery(schema, staging, keyColumns)
	if err != nil {
		return err
	}

	tx, err := s.adapter.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lock := fmt.Sprintf("LOCK TABLE %s IN SHARE ROW EXCLUSIVE MODE", qualifiedTableName(schema.Table))
	if _, err := tx.Exec(ctx, lock); err != nil {
		return fmt.Errorf("lock %s: %w", schema.Table, err)
	}

	var dupCount int64
	err = tx.QueryRow(ctx, dupQuery).Scan(&dupCount)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %d rows in %s share one value of (%s)",
			apperrors.ErrDuplicateStagingKey, dupCount, stagingTable, strings.Join(keyColumns, ", "))
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("check staging keys in %s: %w", stagingTable, err)
	}

	tag, err := tx.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("merge %s into %s: %w", stagingTable, schema.Table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit merge into %s: %w", schema.Table, err)
	}

	s.logger.Debug("Merge complete",
		zap.String("table", schema.Table.String()),
		zap.String("staging_table", stagingTable),
		zap.Int64("rows_affected", tag.RowsAffected()))
	return nil
}

// buildDuplicateKeyQuery returns one row, the size of a duplicated key group, when
// staging holds two rows MERGE would match to the same target row.
func buildDuplicateKeyQuery(target *datasource.TableSchema, staging models.TableRef, keyColumns []string) (string, error) {
	keys, _, err := target.SplitKeys(keyColumns)
	if err != nil {
		return "", err
	}

	group := make([]string, len(keys))
	for i, k := range keys {
		group[i] = "s." + quoteIdent(k.ColumnName)
	}
	return fmt.Sprintf("SELECT count(*) FROM %s AS s GROUP BY %s HAVING count(*) > 1 LIMIT 1",
		qualifiedTableName(staging), strings.Join(group, ", ")), nil
}

// buildMergeStatement builds a PostgreSQL 15 MERGE for target's discovered columns.
// Identity columns are inserted with OVERRIDING SYSTEM VALUE and never updated.
func buildMergeStatement(target *datasource.TableSchema, staging models.TableRef, keyColumns []string) (string, error) {
	keys, nonKeys, err := target.SplitKeys(keyColumns)
	if err != nil {
		return "", err
	}

	on := make([]string, len(keys))
	for i, k := range keys {
		col := quoteIdent(k.ColumnName)
		on[i] = fmt.Sprintf("t.%s = s.%s", col, col)
	}

	var set []string
	for _, c := range nonKeys {
		if c.IsIdentity {
			continue
		}
		col := quoteIdent(c.ColumnName)
		set = append(set, fmt.Sprintf("%s = s.%s", col, col))
	}

	var insertCols, insertVals []string
	hasIdentity := false
	for _, c := range target.Writable() {
		col := quoteIdent(c.ColumnName)
		insertCols = append(insertCols, col)
		insertVals = append(insertVals, "s."+col)
		hasIdentity = hasIdentity || c.IsIdentity
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS t\n", qualifiedTableName(target.Table))
	fmt.Fprintf(&b, "USING %s AS s\n", qualifiedTableName(staging))
	fmt.Fprintf(&b, "ON %s\n", strings.Join(on, " AND "))
	if len(set) > 0 {
		fmt.Fprintf(&b, "WHEN MATCHED THEN\n    UPDATE SET %s\n", strings.Join(set, ", "))
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN\n    INSERT (%s)", strings.Join(insertCols, ", "))
	if hasIdentity {
		b.WriteString(" OVERRIDING SYSTEM VALUE")
	}
	fmt.Fprintf(&b, " VALUES (%s)", strings.Join(insertVals, ", "))
	return b.String(), nil
}
