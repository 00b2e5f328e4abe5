package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

func (s *TargetStore) controlTable() models.TableRef {
	return models.TableRef{Schema: s.opts.ControlSchema, Name: s.opts.ControlTable}
}

// EnsureSchema creates the ETL schema and the control table if they are missing.
func (s *TargetStore) EnsureSchema(ctx context.Context) error {
	ctl := s.controlTable()

	if _, err := s.adapter.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(ctl.Schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", ctl.Schema, err)
	}
	if _, err := s.adapter.pool.Exec(ctx, buildCreateControlTableStatement(ctl)); err != nil {
		return fmt.Errorf("create control table %s: %w", ctl, err)
	}

	s.logger.Debug("Watermark store ready", zap.String("control_table", ctl.String()))
	return nil
}

func buildCreateControlTableStatement(ctl models.TableRef) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		"TableName" varchar(255) NOT NULL PRIMARY KEY,
		"LastRunDate" timestamp(6) NULL
	)`, qualifiedTableName(ctl))
}

// GetWatermark returns the stored watermark, or the fiscal-year default when the
// table has no row or a NULL value.
func (s *TargetStore) GetWatermark(ctx context.Context, table string) (time.Time, error) {
	query := fmt.Sprintf(`SELECT "LastRunDate" FROM %s WHERE "TableName" = $1`, qualifiedTableName(s.controlTable()))

	var value *time.Time
	err := s.adapter.pool.QueryRow(ctx, query, watermarkKey(table)).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && value == nil) {
		def := s.opts.Policy.Default()
		s.logger.Debug("No stored watermark, using fiscal year default",
			zap.String("table", table),
			zap.Time("watermark", def))
		return def, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark for %s: %w", table, err)
	}
	return value.UTC(), nil
}

// SetWatermark upserts the watermark. The single statement is atomic on its own.
func (s *TargetStore) SetWatermark(ctx context.Context, table string, value time.Time) error {
	upsert := fmt.Sprintf(`
		INSERT INTO %s ("TableName", "LastRunDate") VALUES ($1, $2)
		ON CONFLICT ("TableName") DO UPDATE SET "LastRunDate" = EXCLUDED."LastRunDate"
	`, qualifiedTableName(s.controlTable()))

	if _, err := s.adapter.pool.Exec(ctx, upsert, watermarkKey(table), value.UTC()); err != nil {
		return fmt.Errorf("write watermark for %s: %w", table, err)
	}
	return nil
}

func watermarkKey(table string) string {
	return strings.TrimSpace(table)
}
