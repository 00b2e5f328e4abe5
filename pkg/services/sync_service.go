package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/logging"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// SyncService moves tables from the source database into the reporting database.
type SyncService interface {
	// Run prepares the watermark store and then synchronizes each spec in order.
	// Per-table failures are recorded in the summary and do not stop the run; the
	// returned error is non-nil only when the run could not start at all.
	Run(ctx context.Context, specs []*models.TableSyncSpec) (*models.RunSummary, error)

	// SyncTable synchronizes a single table. The watermark store must already be prepared.
	SyncTable(ctx context.Context, spec *models.TableSyncSpec) *models.TableResult
}

type syncService struct {
	source datasource.Extractor
	target datasource.TargetStore
	logger *zap.Logger
	now    func() time.Time
}

// NewSyncService creates a sync service over an open source and target.
func NewSyncService(source datasource.Extractor, target datasource.TargetStore, logger *zap.Logger) SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &syncService{
		source: source,
		target: target,
		logger: logger.Named("sync"),
		now:    time.Now,
	}
}

var _ SyncService = (*syncService)(nil)

func (s *syncService) Run(ctx context.Context, specs []*models.TableSyncSpec) (*models.RunSummary, error) {
	summary := &models.RunSummary{
		RunID:     uuid.New(),
		StartedAt: s.now(),
		Results:   make([]*models.TableResult, 0, len(specs)),
	}
	logger := s.logger.With(zap.String("run_id", summary.RunID.String()))

	logger.Info("Starting sync run", zap.Int("table_count", len(specs)))

	if err := s.target.EnsureSchema(ctx); err != nil {
		summary.FinishedAt = s.now()
		logger.Error("Failed to initialize watermark store", zap.String("error", logging.SanitizeError(err)))
		return summary, apperrors.NewSyncError(apperrors.KindSchemaInitialization, "", err)
	}

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			summary.Results = append(summary.Results, &models.TableResult{
				Table:   spec.TargetTable,
				Mode:    spec.Mode(),
				Outcome: models.SyncOutcomeCanceled,
				Err:     apperrors.NewSyncError(apperrors.KindCanceled, spec.TargetTable, err),
			})
			continue
		}
		summary.Results = append(summary.Results, s.syncTable(ctx, logger, spec))
	}

	summary.FinishedAt = s.now()
	logger.Info("Sync run complete",
		zap.Int("table_count", len(specs)),
		zap.Int("failed", summary.Failed()),
		zap.Int64("rows_copied", summary.RowsCopied()),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)))

	return summary, nil
}

func (s *syncService) SyncTable(ctx context.Context, spec *models.TableSyncSpec) *models.TableResult {
	return s.syncTable(ctx, s.logger, spec)
}

func (s *syncService) syncTable(ctx context.Context, logger *zap.Logger, spec *models.TableSyncSpec) *models.TableResult {
	start := s.now()
	result := &models.TableResult{
		Table: spec.TargetTable,
		Mode:  spec.Mode(),
	}
	logger = logger.With(zap.String("table", spec.TargetTable), zap.String("mode", string(result.Mode)))
	logger.Info("Starting table sync")

	var err error
	if verr := spec.Validate(); verr != nil {
		err = apperrors.NewSyncError(apperrors.KindConfiguration, spec.TargetTable, verr)
	} else if spec.IsFullLoad() {
		err = s.fullLoad(ctx, spec, result)
	} else {
		err = s.incrementalLoad(ctx, logger, spec, result)
	}
	result.Duration = s.now().Sub(start)

	if err != nil {
		result.Outcome = models.SyncOutcomeFailed
		result.Err = err
		logger.Error("Table sync failed",
			zap.String("kind", string(apperrors.KindOf(err))),
			zap.String("error", logging.SanitizeError(err)))
		return result
	}

	for _, w := range result.Warnings {
		logger.Warn(w)
	}
	logger.Info("Table sync complete",
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("rows_copied", result.RowsCopied),
		zap.Duration("duration", result.Duration))
	return result
}

// fullLoad replaces the target's contents with the full source result set.
// Watermarks are not read or written.
func (s *syncService) fullLoad(ctx context.Context, spec *models.TableSyncSpec, result *models.TableResult) error {
	table := spec.TargetTable

	if err := s.target.Truncate(ctx, table); err != nil {
		return apperrors.NewSyncError(apperrors.KindTransfer, table, fmt.Errorf("truncate target: %w", err))
	}

	rows, err := s.transfer(ctx, table, spec.SourceQuery, nil, table)
	if err != nil {
		return err
	}

	result.RowsCopied = rows
	result.Outcome = models.SyncOutcomeLoaded
	return nil
}

// incrementalLoad copies rows newer than the stored watermark into staging, merges them
// into the target and only then advances the watermark to the high-water mark.
func (s *syncService) incrementalLoad(ctx context.Context, logger *zap.Logger, spec *models.TableSyncSpec, result *models.TableResult) error {
	table := spec.TargetTable

	current, err := s.target.GetWatermark(ctx, table)
	if err != nil {
		return apperrors.NewSyncError(apperrors.KindWatermarkRead, table, err)
	}
	result.PreviousWatermark = &current

	maxVal, err := s.source.MaxIncrementalValue(ctx, spec.SourceQuery, spec.IncrementalColumn, current)
	if err != nil {
		return apperrors.NewSyncError(apperrors.KindExtraction, table, fmt.Errorf("max %s: %w", spec.IncrementalColumn, err))
	}

	// Strictly greater only: a max equal to the watermark is the boundary row already applied.
	if maxVal == nil || !maxVal.After(current) {
		logger.Info("No new data since watermark", zap.Time("watermark", current))
		result.Outcome = models.SyncOutcomeUpToDate
		return nil
	}

	staging, err := s.target.PrepareStaging(ctx, table)
	if err != nil {
		return apperrors.NewSyncError(apperrors.KindTransfer, table, fmt.Errorf("prepare staging: %w", err))
	}
	if err := s.target.Truncate(ctx, staging); err != nil {
		return apperrors.NewSyncError(apperrors.KindTransfer, table, fmt.Errorf("truncate staging %s: %w", staging, err))
	}

	rows, err := s.transfer(ctx, table, spec.SourceQuery, &current, staging)
	if err != nil {
		return err
	}
	result.RowsCopied = rows

	if rows > 0 {
		if err := s.target.MergeUpsert(ctx, staging, table, spec.PrimaryKeyColumns); err != nil {
			return apperrors.NewSyncError(apperrors.KindMerge, table, err)
		}
	} else {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"source reported max %s = %s after watermark %s but extraction returned no rows; merge skipped",
			spec.IncrementalColumn, maxVal.Format(time.RFC3339Nano), current.Format(time.RFC3339Nano)))
	}

	if err := s.target.SetWatermark(ctx, table, *maxVal); err != nil {
		return apperrors.NewSyncError(apperrors.KindWatermarkWrite, table, err)
	}
	result.NewWatermark = maxVal
	result.Outcome = models.SyncOutcomeLoaded
	return nil
}

// transfer streams the query's rows into dest and returns the committed row count.
func (s *syncService) transfer(ctx context.Context, table, query string, watermark *time.Time, dest string) (int64, error) {
	cursor, err := s.source.ExtractRows(ctx, query, watermark)
	if err != nil {
		return 0, apperrors.NewSyncError(apperrors.KindExtraction, table, err)
	}
	defer func() { _ = cursor.Close() }()

	rows, err := s.target.BulkLoad(ctx, cursor, dest)
	if err != nil {
		return 0, apperrors.NewSyncError(apperrors.KindTransfer, table, fmt.Errorf("bulk load into %s: %w", dest, err))
	}
	return rows, nil
}
