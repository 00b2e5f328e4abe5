package datasource

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/retry"
)

// withRetryLog returns a copy of cfg that logs each retry of op.
func withRetryLog(cfg *retry.Config, logger *zap.Logger, op string) *retry.Config {
	if cfg == nil {
		cfg = retry.DefaultConfig()
	}
	c := *cfg
	c.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("Transient error, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return &c
}

type retryingExtractor struct {
	inner  Extractor
	cfg    *retry.Config
	logger *zap.Logger
}

// NewRetryingExtractor wraps inner so transient failures opening a cursor or computing
// the max incremental value are retried. Reading from an open cursor is never retried.
func NewRetryingExtractor(inner Extractor, cfg *retry.Config, logger *zap.Logger) Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingExtractor{inner: inner, cfg: cfg, logger: logger}
}

func (r *retryingExtractor) ExtractRows(ctx context.Context, query string, watermark *time.Time) (RowCursor, error) {
	return retry.DoIfRetryableWithResult(ctx, withRetryLog(r.cfg, r.logger, "extract_rows"), func() (RowCursor, error) {
		return r.inner.ExtractRows(ctx, query, watermark)
	})
}

func (r *retryingExtractor) MaxIncrementalValue(ctx context.Context, query, incrementalColumn string, lowerBound time.Time) (*time.Time, error) {
	return retry.DoIfRetryableWithResult(ctx, withRetryLog(r.cfg, r.logger, "max_incremental_value"), func() (*time.Time, error) {
		return r.inner.MaxIncrementalValue(ctx, query, incrementalColumn, lowerBound)
	})
}

func (r *retryingExtractor) Close() error {
	return r.inner.Close()
}

type retryingTarget struct {
	inner  TargetStore
	cfg    *retry.Config
	logger *zap.Logger
}

// NewRetryingTarget wraps inner so idempotent target operations are retried on transient
// failures. BulkLoad consumes a single-pass cursor and is passed through unchanged.
func NewRetryingTarget(inner TargetStore, cfg *retry.Config, logger *zap.Logger) TargetStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &retryingTarget{inner: inner, cfg: cfg, logger: logger}
}

func (r *retryingTarget) do(ctx context.Context, op string, fn func() error) error {
	return retry.DoIfRetryable(ctx, withRetryLog(r.cfg, r.logger, op), fn)
}

func (r *retryingTarget) BulkLoad(ctx context.Context, cursor RowCursor, targetTable string) (int64, error) {
	return r.inner.BulkLoad(ctx, cursor, targetTable)
}

func (r *retryingTarget) Truncate(ctx context.Context, table string) error {
	return r.do(ctx, "truncate", func() error { return r.inner.Truncate(ctx, table) })
}

func (r *retryingTarget) MergeUpsert(ctx context.Context, stagingTable, targetTable string, keyColumns []string) error {
	return r.do(ctx, "merge", func() error {
		return r.inner.MergeUpsert(ctx, stagingTable, targetTable, keyColumns)
	})
}

func (r *retryingTarget) EnsureSchema(ctx context.Context) error {
	return r.do(ctx, "ensure_schema", func() error { return r.inner.EnsureSchema(ctx) })
}

func (r *retryingTarget) GetWatermark(ctx context.Context, table string) (time.Time, error) {
	return retry.DoIfRetryableWithResult(ctx, withRetryLog(r.cfg, r.logger, "get_watermark"), func() (time.Time, error) {
		return r.inner.GetWatermark(ctx, table)
	})
}

func (r *retryingTarget) SetWatermark(ctx context.Context, table string, value time.Time) error {
	return r.do(ctx, "set_watermark", func() error { return r.inner.SetWatermark(ctx, table, value) })
}

func (r *retryingTarget) PrepareStaging(ctx context.Context, targetTable string) (string, error) {
	return retry.DoIfRetryableWithResult(ctx, withRetryLog(r.cfg, r.logger, "prepare_staging"), func() (string, error) {
		return r.inner.PrepareStaging(ctx, targetTable)
	})
}

func (r *retryingTarget) DiscoverTableSchema(ctx context.Context, table string) (*TableSchema, error) {
	return retry.DoIfRetryableWithResult(ctx, withRetryLog(r.cfg, r.logger, "discover_schema"), func() (*TableSchema, error) {
		return r.inner.DiscoverTableSchema(ctx, table)
	})
}

func (r *retryingTarget) Close() error {
	return r.inner.Close()
}

var (
	_ Extractor   = (*retryingExtractor)(nil)
	_ TargetStore = (*retryingTarget)(nil)
)
