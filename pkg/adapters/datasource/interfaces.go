package datasource

import (
	"context"
	"time"
)

// WatermarkPlaceholder is the named parameter a source query uses to reference the
// current watermark, written as @lastRunDate in the query text.
const WatermarkPlaceholder = "lastRunDate"

// DefaultBatchSize is the bulk copy batch size used when none is configured.
const DefaultBatchSize = 10000

// RowCursor is a forward-only, single-pass stream of rows from a source query.
// Rows are never materialized in memory; callers must Close the cursor.
type RowCursor interface {
	// Columns returns the result column names in select-list order.
	Columns() []string

	// Next advances to the next row. Returns false at the end or on error.
	Next() bool

	// Values returns the current row's values, aligned with Columns.
	Values() ([]any, error)

	// Err returns the error, if any, that stopped iteration.
	Err() error

	// Close releases the underlying result set.
	Close() error
}

// Extractor runs caller-supplied queries against the source system.
// Each implementation owns its connection and must be closed when done.
type Extractor interface {
	// ExtractRows executes query and returns a streaming cursor.
	// If watermark is non-nil and the query references @lastRunDate, the placeholder
	// is bound to it. Without the placeholder no filtering is applied here.
	ExtractRows(ctx context.Context, query string, watermark *time.Time) (RowCursor, error)

	// MaxIncrementalValue returns MAX(incrementalColumn) over the rows query returns when
	// @lastRunDate is bound to lowerBound, computed by wrapping the same query text.
	// Returns nil when no rows qualify.
	MaxIncrementalValue(ctx context.Context, query, incrementalColumn string, lowerBound time.Time) (*time.Time, error)

	// Close releases the source connection.
	Close() error
}

// BulkSink streams rows into target tables.
type BulkSink interface {
	// BulkLoad copies every row from cursor into targetTable in a single transaction
	// and returns the number of rows committed. On any error nothing is committed.
	BulkLoad(ctx context.Context, cursor RowCursor, targetTable string) (int64, error)

	// Truncate removes all rows from table. Constraint violations are returned, not skipped.
	Truncate(ctx context.Context, table string) error
}

// MergeApplier reconciles a populated staging table into its target.
type MergeApplier interface {
	// MergeUpsert updates target rows matching a staging row on every key column and
	// inserts staging rows with no match, atomically.
	MergeUpsert(ctx context.Context, stagingTable, targetTable string, keyColumns []string) error
}

// WatermarkStore persists per-table synchronization progress.
type WatermarkStore interface {
	// EnsureSchema idempotently creates the schema and control table.
	EnsureSchema(ctx context.Context) error

	// GetWatermark returns the stored watermark, or the fiscal-year default when absent.
	GetWatermark(ctx context.Context, table string) (time.Time, error)

	// SetWatermark upserts the watermark for table durably before returning.
	SetWatermark(ctx context.Context, table string, value time.Time) error
}

// Stager resolves the staging table used for incremental loads of a target.
type Stager interface {
	// PrepareStaging returns the staging table name for targetTable, creating it
	// with the target's column structure if it does not exist and creation is enabled.
	PrepareStaging(ctx context.Context, targetTable string) (string, error)
}

// SchemaDiscoverer reads table structure from the target database.
type SchemaDiscoverer interface {
	// DiscoverTableSchema returns the table's columns in ordinal order.
	DiscoverTableSchema(ctx context.Context, table string) (*TableSchema, error)
}

// TargetStore is everything the sync engine needs from the reporting database.
// Each implementation owns its connection and must be closed when done.
type TargetStore interface {
	BulkSink
	MergeApplier
	WatermarkStore
	Stager
	SchemaDiscoverer

	// Close releases the target connection.
	Close() error
}
