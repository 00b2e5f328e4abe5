package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
	"github.com/sh4npeiris/ReportingDataSync/pkg/testhelpers"
)

const (
	ordersTable = "dbo.Orders"
	ordersQuery = "SELECT OrderID, Status, ModifiedAt FROM dbo.Orders WHERE ModifiedAt > @lastRunDate"

	regionsTable = "dbo.Regions"
	regionsQuery = "SELECT RegionID, Name FROM dbo.Regions"
)

var (
	jan1  = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan15 = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	feb1  = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	dec1  = time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC)
)

type syncFixture struct {
	source *testhelpers.MemSource
	target *testhelpers.MemTarget
	svc    SyncService
	logs   *observer.ObservedLogs
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	override := jan1
	target := testhelpers.NewMemTarget(models.FiscalYearPolicy{StartMonth: time.July, Override: &override})
	source := testhelpers.NewMemSource()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(zapcore.NewTee(core, zaptest.NewLogger(t).Core()))

	return &syncFixture{
		source: source,
		target: target,
		svc:    NewSyncService(source, target, logger),
		logs:   logs,
	}
}

func (f *syncFixture) addOrders(targetRows ...[]any) {
	f.source.AddQuery(ordersQuery, &testhelpers.MemQuery{
		Columns: []string{"OrderID", "Status", "ModifiedAt"},
		Rows: [][]any{
			{1, "shipped", dec1},
			{2, "paid", jan15},
			{3, "new", feb1},
		},
		FilterColumn: "ModifiedAt",
	})
	tbl := f.target.AddTable(ordersTable, "OrderID", "Status", "ModifiedAt")
	tbl.Rows = targetRows
}

func (f *syncFixture) addRegions(n int) {
	rows := make([][]any, n)
	for i := range rows {
		rows[i] = []any{i + 1, fmt.Sprintf("region-%03d", i+1)}
	}
	f.source.AddQuery(regionsQuery, &testhelpers.MemQuery{Columns: []string{"RegionID", "Name"}, Rows: rows})
	tbl := f.target.AddTable(regionsTable, "RegionID", "Name")
	tbl.Rows = [][]any{{999, "stale"}}
}

func ordersSpec() *models.TableSyncSpec {
	return &models.TableSyncSpec{
		SourceQuery:       ordersQuery,
		TargetTable:       ordersTable,
		IncrementalColumn: "ModifiedAt",
		PrimaryKeyColumns: []string{"OrderID"},
	}
}

func regionsSpec() *models.TableSyncSpec {
	return &models.TableSyncSpec{SourceQuery: regionsQuery, TargetTable: regionsTable}
}

func TestSyncService_FullLoad(t *testing.T) {
	f := newSyncFixture(t)
	f.addRegions(100)
	ctx := context.Background()

	summary, err := f.svc.Run(ctx, []*models.TableSyncSpec{regionsSpec()})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)

	res := summary.Results[0]
	assert.Equal(t, models.SyncOutcomeLoaded, res.Outcome)
	assert.Equal(t, models.LoadModeFull, res.Mode)
	assert.Equal(t, int64(100), res.RowsCopied)
	assert.Nil(t, res.NewWatermark)

	first := testhelpers.SortedRows(f.target.Table(regionsTable))
	assert.Len(t, first, 100)

	// Second run with unchanged source yields the same rows.
	summary, err = f.svc.Run(ctx, []*models.TableSyncSpec{regionsSpec()})
	require.NoError(t, err)
	assert.NoError(t, summary.Err())
	assert.Equal(t, first, testhelpers.SortedRows(f.target.Table(regionsTable)))

	// Full loads never touch the watermark store.
	assert.Empty(t, f.target.CallsFor("get_watermark"))
	assert.Empty(t, f.target.CallsFor("set_watermark"))
	assert.Equal(t, []string{"truncate:" + regionsTable, "bulk_load:" + regionsTable}, f.target.Calls[1:3])
}

func TestSyncService_IncrementalLoad(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders(
		[]any{1, "shipped", dec1},
		[]any{2, "pending", dec1},
	)

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	res := summary.Results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, models.SyncOutcomeLoaded, res.Outcome)
	assert.Equal(t, int64(2), res.RowsCopied)
	require.NotNil(t, res.PreviousWatermark)
	assert.Equal(t, jan1, *res.PreviousWatermark)
	require.NotNil(t, res.NewWatermark)
	assert.Equal(t, feb1, *res.NewWatermark)

	stored, ok := f.target.StoredWatermark(ordersTable)
	require.True(t, ok)
	assert.Equal(t, feb1, stored)

	// Post-merge target = untouched target rows plus every staging row by key.
	assert.Equal(t, [][]any{
		{1, "shipped", dec1},
		{2, "paid", jan15},
		{3, "new", feb1},
	}, testhelpers.SortedRows(f.target.Table(ordersTable)))

	assert.Equal(t, []string{
		"ensure_schema",
		"get_watermark:" + ordersTable,
		"prepare_staging:" + ordersTable,
		"truncate:etl.stg_dbo_Orders",
		"bulk_load:etl.stg_dbo_Orders",
		"merge:" + ordersTable,
		"set_watermark:" + ordersTable,
	}, f.target.Calls)
}

func TestSyncService_NoNewDataIsNoOp(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	f.target.Watermarks["dbo.orders"] = feb1

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, models.SyncOutcomeUpToDate, res.Outcome)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 0, f.source.ExtractCalls)
	assert.Empty(t, f.target.CallsFor("truncate"))
	assert.Empty(t, f.target.CallsFor("merge"))
	assert.Empty(t, f.target.CallsFor("set_watermark"))
}

func TestSyncService_MaxEqualToWatermarkIsNoOp(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	f.target.Watermarks["dbo.orders"] = jan1
	f.source.MaxOverride = func(*time.Time) *time.Time {
		tie := jan1
		return &tie
	}

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	assert.Equal(t, models.SyncOutcomeUpToDate, summary.Results[0].Outcome)
	assert.Equal(t, 0, f.source.ExtractCalls)
	assert.Empty(t, f.target.CallsFor("prepare_staging"))
	assert.Empty(t, f.target.CallsFor("set_watermark"))
	stored, _ := f.target.StoredWatermark(ordersTable)
	assert.Equal(t, jan1, stored)
}

func TestSyncService_WatermarkMonotonic(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	ctx := context.Background()
	specs := []*models.TableSyncSpec{ordersSpec()}

	for i := 0; i < 3; i++ {
		_, err := f.svc.Run(ctx, specs)
		require.NoError(t, err)
	}
	require.Len(t, f.target.WatermarkWrites, 1)

	mar1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	q := f.source.Queries[ordersQuery]
	q.Rows = append(q.Rows, []any{4, "new", mar1})

	_, err := f.svc.Run(ctx, specs)
	require.NoError(t, err)
	require.Len(t, f.target.WatermarkWrites, 2)

	prev := jan1
	for _, w := range f.target.WatermarkWrites {
		assert.True(t, w.LastRunDate.After(prev), "watermark %v not after %v", w.LastRunDate, prev)
		prev = w.LastRunDate
	}
	assert.Len(t, f.target.Table(ordersTable).Rows, 3)
}

func TestSyncService_ZeroRowsWithPositiveMax(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	f.target.Watermarks["dbo.orders"] = feb1
	mar1 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f.source.MaxOverride = func(*time.Time) *time.Time { return &mar1 }

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, models.SyncOutcomeLoaded, res.Outcome)
	assert.Equal(t, int64(0), res.RowsCopied)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "merge skipped")

	assert.Empty(t, f.target.CallsFor("merge"))
	stored, _ := f.target.StoredWatermark(ordersTable)
	assert.Equal(t, mar1, stored)

	warnings := f.logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warnings, 1)
	assert.Equal(t, ordersTable, warnings[0].ContextMap()["table"])
}

func TestSyncService_MergeFailureKeepsWatermark(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	f.target.Fail["merge"] = errors.New("violation of PRIMARY KEY constraint")

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, models.SyncOutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.KindMerge, apperrors.KindOf(res.Err))
	assert.Nil(t, res.NewWatermark)

	_, ok := f.target.StoredWatermark(ordersTable)
	assert.False(t, ok, "watermark must not advance after a failed merge")
	assert.Len(t, f.target.Table("etl.stg_dbo_Orders").Rows, 2, "staging keeps the committed rows")
}

func TestSyncService_DuplicateSourceKeysFailMerge(t *testing.T) {
	f := newSyncFixture(t)
	f.source.AddQuery(ordersQuery, &testhelpers.MemQuery{
		Columns: []string{"OrderID", "Status", "ModifiedAt"},
		Rows: [][]any{
			{2, "paid", jan15},
			{2, "refunded", feb1},
		},
		FilterColumn: "ModifiedAt",
	})
	tbl := f.target.AddTable(ordersTable, "OrderID", "Status", "ModifiedAt")
	tbl.Rows = [][]any{{2, "new", dec1}}

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, models.SyncOutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.KindMerge, apperrors.KindOf(res.Err))
	assert.ErrorIs(t, res.Err, apperrors.ErrDuplicateStagingKey)
	assert.Nil(t, res.NewWatermark)

	_, ok := f.target.StoredWatermark(ordersTable)
	assert.False(t, ok, "watermark must not advance past rows that were never merged")
	assert.Equal(t, [][]any{{2, "new", dec1}}, f.target.Table(ordersTable).Rows)
}

func TestSyncService_WatermarkWriteFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	f.target.Fail["set_watermark"] = errors.New("lock request time out period exceeded")

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, apperrors.KindWatermarkWrite, apperrors.KindOf(res.Err))
	assert.Len(t, f.target.Table(ordersTable).Rows, 2, "data is merged before the watermark write")
}

func TestSyncService_TransferFailure(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	f.target.Fail["bulk_load:etl.stg_dbo_Orders"] = errors.New("transport-level error")

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{ordersSpec()})
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, apperrors.KindTransfer, apperrors.KindOf(res.Err))
	assert.Empty(t, f.target.CallsFor("merge"))
	assert.Empty(t, f.target.CallsFor("set_watermark"))
	for _, c := range f.source.Cursors {
		assert.True(t, c.Closed, "extraction cursor must be closed")
	}
}

func TestSyncService_PerTableIsolation(t *testing.T) {
	f := newSyncFixture(t)
	f.addRegions(3)
	f.addOrders()
	f.target.AddTable("dbo.Missing", "ID")

	broken := &models.TableSyncSpec{
		SourceQuery:       "SELECT ID, ModifiedAt FROM dbo.DoesNotExist WHERE ModifiedAt > @lastRunDate",
		TargetTable:       "dbo.Missing",
		IncrementalColumn: "ModifiedAt",
		PrimaryKeyColumns: []string{"ID"},
	}

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{broken, regionsSpec(), ordersSpec()})
	require.NoError(t, err)
	require.Len(t, summary.Results, 3)

	assert.Equal(t, models.SyncOutcomeFailed, summary.Results[0].Outcome)
	assert.Equal(t, apperrors.KindExtraction, apperrors.KindOf(summary.Results[0].Err))
	assert.Equal(t, models.SyncOutcomeLoaded, summary.Results[1].Outcome)
	assert.Equal(t, models.SyncOutcomeLoaded, summary.Results[2].Outcome)

	assert.Equal(t, 1, summary.Failed())
	require.Error(t, summary.Err())
	assert.Contains(t, summary.Err().Error(), "dbo.Missing")
	assert.Equal(t, int64(5), summary.RowsCopied())
}

func TestSyncService_ConfigurationError(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()
	spec := ordersSpec()
	spec.PrimaryKeyColumns = nil

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{spec})
	require.NoError(t, err)

	res := summary.Results[0]
	assert.Equal(t, models.SyncOutcomeFailed, res.Outcome)
	assert.Equal(t, apperrors.KindConfiguration, apperrors.KindOf(res.Err))
	assert.ErrorIs(t, res.Err, apperrors.ErrInvalidTableSpec)
	assert.Equal(t, 0, f.source.MaxCalls)
}

func TestSyncService_EnsureSchemaFailureIsFatal(t *testing.T) {
	f := newSyncFixture(t)
	f.addRegions(3)
	f.target.Fail["ensure_schema"] = errors.New("CREATE SCHEMA permission denied")

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{regionsSpec()})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindSchemaInitialization, apperrors.KindOf(err))
	require.NotNil(t, summary)
	assert.Empty(t, summary.Results)
	assert.Equal(t, []string{"ensure_schema"}, f.target.Calls)
}

func TestSyncService_CanceledBeforeTables(t *testing.T) {
	f := newSyncFixture(t)
	f.addRegions(3)
	f.addOrders()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := f.svc.Run(ctx, []*models.TableSyncSpec{regionsSpec(), ordersSpec()})
	require.NoError(t, err)
	require.Len(t, summary.Results, 2)
	for _, r := range summary.Results {
		assert.Equal(t, models.SyncOutcomeCanceled, r.Outcome)
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, 2, summary.Failed())
	assert.Equal(t, []string{"ensure_schema"}, f.target.Calls)
}

func TestSyncService_LogsCarryRunAndTable(t *testing.T) {
	f := newSyncFixture(t)
	f.addRegions(1)

	summary, err := f.svc.Run(context.Background(), []*models.TableSyncSpec{regionsSpec()})
	require.NoError(t, err)

	started := f.logs.FilterMessage("Starting table sync").All()
	require.Len(t, started, 1)
	fields := started[0].ContextMap()
	assert.Equal(t, regionsTable, fields["table"])
	assert.Equal(t, summary.RunID.String(), fields["run_id"])

	complete := f.logs.FilterMessage("Sync run complete").All()
	require.Len(t, complete, 1)
	assert.Equal(t, int64(1), complete[0].ContextMap()["table_count"])
}

func TestSyncService_SyncTable(t *testing.T) {
	f := newSyncFixture(t)
	f.addOrders()

	res := f.svc.SyncTable(context.Background(), ordersSpec())
	require.NoError(t, res.Err)
	assert.Equal(t, models.SyncOutcomeLoaded, res.Outcome)
	assert.Equal(t, int64(2), res.RowsCopied)
	assert.Empty(t, f.target.CallsFor("ensure_schema"), "SyncTable expects a prepared store")
}
