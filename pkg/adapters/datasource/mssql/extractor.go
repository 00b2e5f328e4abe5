package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/logging"
)

// Extractor implements datasource.Extractor for SQL Server.
type Extractor struct {
	adapter *Adapter
	logger  *zap.Logger
}

// NewExtractor opens a source connection.
// If logger is nil, a no-op logger is used.
func NewExtractor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	adapter, err := NewAdapter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Extractor{
		adapter: adapter,
		logger:  logger,
	}, nil
}

// ExtractRows executes query and returns a streaming cursor over its result set.
func (e *Extractor) ExtractRows(ctx context.Context, query string, watermark *time.Time) (datasource.RowCursor, error) {
	var args []any
	if watermark != nil && hasWatermarkPlaceholder(query) {
		args = append(args, sql.Named(datasource.WatermarkPlaceholder, *watermark))
	}

	e.logger.Debug("Executing source query",
		zap.String("query", logging.SanitizeQuery(query)),
		zap.Bool("watermark_bound", len(args) > 0))

	rows, err := e.adapter.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}

	cursor, err := newRowsCursor(rows)
	if err != nil {
		rows.Close()
		return nil, err
	}
	return cursor, nil
}

// MaxIncrementalValue wraps query in a MAX aggregate with @lastRunDate bound to lowerBound.
func (e *Extractor) MaxIncrementalValue(ctx context.Context, query, incrementalColumn string, lowerBound time.Time) (*time.Time, error) {
	maxQuery := buildMaxQuery(query, incrementalColumn)

	e.logger.Debug("Computing max incremental value",
		zap.String("column", incrementalColumn),
		zap.Time("lower_bound", lowerBound),
		zap.String("query", logging.SanitizeQuery(maxQuery)))

	var result sql.NullTime
	err := e.adapter.db.QueryRowContext(ctx, maxQuery,
		sql.Named(datasource.WatermarkPlaceholder, lowerBound),
	).Scan(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to query max value: %w", err)
	}

	if !result.Valid {
		return nil, nil
	}
	t := result.Time
	return &t, nil
}

// Close releases the source connection.
func (e *Extractor) Close() error {
	return e.adapter.Close()
}

// buildMaxQuery returns SELECT MAX(col) FROM (query) AS T. The query keeps its own
// lines so a trailing -- comment cannot swallow the closing parenthesis.
func buildMaxQuery(query, incrementalColumn string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM (\n%s\n) AS T", maxColumnExpr(incrementalColumn), trimQuery(query))
}

// rowsCursor adapts *sql.Rows to datasource.RowCursor.
type rowsCursor struct {
	rows    *sql.Rows
	columns []string
	types   []string
	current []any
	err     error
}

func newRowsCursor(rows *sql.Rows) (*rowsCursor, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	types := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		types[i] = ct.DatabaseTypeName()
	}

	return &rowsCursor{
		rows:    rows,
		columns: columns,
		types:   types,
	}, nil
}

func (c *rowsCursor) Columns() []string {
	return c.columns
}

func (c *rowsCursor) Next() bool {
	if c.err != nil || !c.rows.Next() {
		c.current = nil
		return false
	}

	values := make([]any, len(c.columns))
	ptrs := make([]any, len(c.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.err = fmt.Errorf("failed to scan row: %w", err)
		c.current = nil
		return false
	}

	for i, v := range values {
		values[i] = convertValue(c.types[i], v)
	}
	c.current = values
	return true
}

func (c *rowsCursor) Values() ([]any, error) {
	if c.current == nil {
		return nil, fmt.Errorf("no current row")
	}
	return c.current, nil
}

func (c *rowsCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

func (c *rowsCursor) Close() error {
	return c.rows.Close()
}

// convertValue turns driver []byte values for text and decimal columns into strings.
// Binary and uniqueidentifier values stay []byte.
func convertValue(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if isStringType(dbType) || isDecimalType(dbType) {
		return string(b)
	}
	return b
}

var (
	_ datasource.Extractor = (*Extractor)(nil)
	_ datasource.RowCursor = (*rowsCursor)(nil)
)
