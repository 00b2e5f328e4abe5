package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// MergeUpsert merges stagingTable into targetTable on keyColumns in one transaction.
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

	tx, err := s.adapter.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var dupCount int64
	err = tx.QueryRowContext(ctx, dupQuery).Scan(&dupCount)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %d rows in %s share one value of (%s)",
			apperrors.ErrDuplicateStagingKey, dupCount, stagingTable, strings.Join(keyColumns, ", "))
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check staging keys in %s: %w", stagingTable, err)
	}

	result, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("merge %s into %s: %w", stagingTable, schema.Table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge into %s: %w", schema.Table, err)
	}

	affected, _ := result.RowsAffected()
	s.logger.Debug("Merge complete",
		zap.String("table", schema.Table.String()),
		zap.String("staging_table", stagingTable),
		zap.Int64("rows_affected", affected))
	return nil
}

// buildDuplicateKeyQuery returns one row, the size of a duplicated key group, when
// staging holds two rows MERGE would match to the same target row. String keys group
// under the same binary collation the MERGE join uses.
func buildDuplicateKeyQuery(target *datasource.TableSchema, staging models.TableRef, keyColumns []string) (string, error) {
	keys, _, err := target.SplitKeys(keyColumns)
	if err != nil {
		return "", err
	}

	group := make([]string, len(keys))
	for i, k := range keys {
		group[i] = "S." + quoteName(k.ColumnName)
		if isStringType(k.DataType) {
			group[i] += " COLLATE " + binaryCollation
		}
	}
	return fmt.Sprintf("SELECT TOP 1 COUNT_BIG(*) FROM %s AS S GROUP BY %s HAVING COUNT_BIG(*) > 1",
		quoteTable(staging), strings.Join(group, ", ")), nil
}

// buildMergeStatement builds the MERGE for target's discovered columns.
// Matched rows update every non-key, non-identity column; unmatched rows insert every
// writable column. String keys compare with a binary collation. With nothing to update
// the statement is insert-only.
func buildMergeStatement(target *datasource.TableSchema, staging models.TableRef, keyColumns []string) (string, error) {
	keys, nonKeys, err := target.SplitKeys(keyColumns)
	if err != nil {
		return "", err
	}

	on := make([]string, len(keys))
	for i, k := range keys {
		col := quoteName(k.ColumnName)
		on[i] = fmt.Sprintf("T.%s = S.%s", col, col)
		if isStringType(k.DataType) {
			on[i] += " COLLATE " + binaryCollation
		}
	}

	var set []string
	for _, c := range nonKeys {
		if c.IsIdentity {
			continue
		}
		col := quoteName(c.ColumnName)
		set = append(set, fmt.Sprintf("T.%s = S.%s", col, col))
	}

	var insertCols, insertVals []string
	hasIdentity := false
	for _, c := range target.Writable() {
		col := quoteName(c.ColumnName)
		insertCols = append(insertCols, col)
		insertVals = append(insertVals, "S."+col)
		hasIdentity = hasIdentity || c.IsIdentity
	}

	tgt := quoteTable(target.Table)

	var b strings.Builder
	if hasIdentity {
		fmt.Fprintf(&b, "SET IDENTITY_INSERT %s ON;\n", tgt)
	}
	fmt.Fprintf(&b, "MERGE INTO %s WITH (HOLDLOCK) AS T\n", tgt)
	fmt.Fprintf(&b, "USING %s AS S\n", quoteTable(staging))
	fmt.Fprintf(&b, "ON %s\n", strings.Join(on, " AND "))
	if len(set) > 0 {
		fmt.Fprintf(&b, "WHEN MATCHED THEN\n    UPDATE SET %s\n", strings.Join(set, ", "))
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED BY TARGET THEN\n    INSERT (%s) VALUES (%s);",
		strings.Join(insertCols, ", "), strings.Join(insertVals, ", "))
	if hasIdentity {
		fmt.Fprintf(&b, "\nSET IDENTITY_INSERT %s OFF;", tgt)
	}
	return b.String(), nil
}
