package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/logging"
)

// Extractor implements datasource.Extractor for PostgreSQL.
type Extractor struct {
	adapter *Adapter
	logger  *zap.Logger
}

// NewExtractor opens a source pool.
func NewExtractor(ctx context.Context, cfg *Config, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	adapter, err := NewAdapter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Extractor{adapter: adapter, logger: logger}, nil
}

// ExtractRows runs query with @lastRunDate bound through pgx.NamedArgs.
func (e *Extractor) ExtractRows(ctx context.Context, query string, watermark *time.Time) (datasource.RowCursor, error) {
	var args []any
	if watermark != nil && hasWatermarkPlaceholder(query) {
		query = canonicalPlaceholder(query)
		args = append(args, pgx.NamedArgs{datasource.WatermarkPlaceholder: watermark.UTC()})
	}

	e.logger.Debug("Executing source query",
		zap.String("query", logging.SanitizeQuery(query)),
		zap.Bool("watermark_bound", len(args) > 0))

	rows, err := e.adapter.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return newRowsCursor(rows), nil
}

// MaxIncrementalValue wraps query in a MAX aggregate with @lastRunDate bound to lowerBound.
func (e *Extractor) MaxIncrementalValue(ctx context.Context, query, incrementalColumn string, lowerBound time.Time) (*time.Time, error) {
	maxQuery := buildMaxQuery(query, incrementalColumn)

	e.logger.Debug("Computing max incremental value",
		zap.String("column", incrementalColumn),
		zap.Time("lower_bound", lowerBound),
		zap.String("query", logging.SanitizeQuery(maxQuery)))

	var result *time.Time
	err := e.adapter.pool.QueryRow(ctx, maxQuery,
		pgx.NamedArgs{datasource.WatermarkPlaceholder: lowerBound.UTC()},
	).Scan(&result)
	if err != nil {
		return nil, fmt.Errorf("failed to query max value: %w", err)
	}
	if result == nil {
		return nil, nil
	}
	t := result.UTC()
	return &t, nil
}

// Close releases the source pool.
func (e *Extractor) Close() error {
	return e.adapter.Close()
}

// buildMaxQuery returns SELECT MAX(col) FROM (query) AS T with the placeholder
// spelled the way pgx.NamedArgs expects.
func buildMaxQuery(query, incrementalColumn string) string {
	return fmt.Sprintf("SELECT MAX(%s) FROM (\n%s\n) AS T", maxColumnExpr(incrementalColumn), canonicalPlaceholder(trimQuery(query)))
}

// rowsCursor adapts pgx.Rows to datasource.RowCursor.
type rowsCursor struct {
	rows    pgx.Rows
	columns []string
	current []any
	err     error
}

func newRowsCursor(rows pgx.Rows) *rowsCursor {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	return &rowsCursor{rows: rows, columns: columns}
}

func (c *rowsCursor) Columns() []string {
	return c.columns
}

func (c *rowsCursor) Next() bool {
	c.current = nil
	if c.err != nil || !c.rows.Next() {
		return false
	}
	values, err := c.rows.Values()
	if err != nil {
		c.err = fmt.Errorf("failed to read row: %w", err)
		return false
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
	c.rows.Close()
	return c.rows.Err()
}

var (
	_ datasource.Extractor = (*Extractor)(nil)
	_ datasource.RowCursor = (*rowsCursor)(nil)
)
