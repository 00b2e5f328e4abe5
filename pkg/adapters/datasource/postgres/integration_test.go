//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
	"github.com/sh4npeiris/ReportingDataSync/pkg/testhelpers"
)

func integrationConfig(t *testing.T) *Config {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)

	cfg, err := FromMap(testDB.ConfigMap())
	require.NoError(t, err)
	return cfg
}

func TestAdapter_Integration(t *testing.T) {
	cfg := integrationConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	adapter, err := NewAdapter(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer adapter.Close()

	require.NoError(t, adapter.TestConnection(ctx))
}

func TestAdapter_WrongDatabaseFails(t *testing.T) {
	cfg := integrationConfig(t)
	cfg.Database = "nonexistent_database_12345"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewAdapter(ctx, cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestTargetStore_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	suffix := uuid.NewString()[:8]
	etlSchema := "etl_" + suffix
	opts := datasource.TargetOptions{
		ControlSchema:     etlSchema,
		ControlTable:      "ETLControl",
		StagingPrefix:     "stg_",
		AutoCreateStaging: true,
		Policy:            models.FiscalYearPolicy{StartMonth: time.July},
		Logger:            zaptest.NewLogger(t),
	}

	store, err := NewTargetStore(ctx, cfg, opts)
	require.NoError(t, err)
	defer store.Close()

	pool := store.adapter.Pool()
	table := "public.orders_" + suffix
	_, err = pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
		order_id integer NOT NULL PRIMARY KEY,
		code text NULL,
		amount numeric(10,2) NULL,
		modified_at timestamp(6) NOT NULL,
		doubled numeric GENERATED ALWAYS AS (amount * 2) STORED
	)`, qualifiedTableName(parseTable(table))))
	require.NoError(t, err)
	t.Cleanup(func() {
		bg := context.Background()
		_, _ = pool.Exec(bg, "DROP TABLE IF EXISTS "+qualifiedTableName(parseTable(table)))
		_, _ = pool.Exec(bg, "DROP SCHEMA IF EXISTS "+quoteIdent(etlSchema)+" CASCADE")
	})

	require.NoError(t, store.EnsureSchema(ctx))
	require.NoError(t, store.EnsureSchema(ctx))

	wm, err := store.GetWatermark(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, opts.Policy.Default(), wm)

	jan := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	// Decimal text is how SQL Server sources deliver money values.
	cols := []string{"ORDER_ID", "code", "amount", "modified_at"}
	n, err := store.BulkLoad(ctx, testhelpers.NewSliceCursor(cols, [][]any{
		{int32(1), "a", "10.50", jan},
		{int32(2), "b", "20.00", jan},
		{int32(3), "c", "30.25", jan},
	}), table)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	staging, err := store.PrepareStaging(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s.stg_public_orders_%s", etlSchema, suffix), staging)

	require.NoError(t, store.Truncate(ctx, staging))
	_, err = store.BulkLoad(ctx, testhelpers.NewSliceCursor(cols, [][]any{
		{int32(2), "B", "21.00", feb},
		{int32(4), "d", "40.00", feb},
	}), staging)
	require.NoError(t, err)

	require.NoError(t, store.MergeUpsert(ctx, staging, table, []string{"order_id"}))

	var count int
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+qualifiedTableName(parseTable(table))).Scan(&count))
	assert.Equal(t, 4, count)

	var code string
	var doubled float64
	require.NoError(t, pool.QueryRow(ctx,
		"SELECT code, doubled::float8 FROM "+qualifiedTableName(parseTable(table))+" WHERE order_id = 2").Scan(&code, &doubled))
	assert.Equal(t, "B", code)
	assert.InDelta(t, 42.0, doubled, 1e-9)

	// Two staging rows for one key are rejected before MERGE and leave the target as is.
	require.NoError(t, store.Truncate(ctx, staging))
	_, err = store.BulkLoad(ctx, testhelpers.NewSliceCursor(cols, [][]any{
		{int32(5), "e", "50.00", feb},
		{int32(5), "E", "51.00", feb},
	}), staging)
	require.NoError(t, err)
	err = store.MergeUpsert(ctx, staging, table, []string{"order_id"})
	require.ErrorIs(t, err, apperrors.ErrDuplicateStagingKey)
	require.NoError(t, pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+qualifiedTableName(parseTable(table))).Scan(&count))
	assert.Equal(t, 4, count)

	require.NoError(t, store.SetWatermark(ctx, table, feb))
	require.NoError(t, store.SetWatermark(ctx, table, feb))
	wm, err = store.GetWatermark(ctx, table)
	require.NoError(t, err)
	assert.True(t, feb.Equal(wm), "got %v", wm)

	schema, err := store.DiscoverTableSchema(ctx, table)
	require.NoError(t, err)
	col, ok := schema.Column("doubled")
	require.True(t, ok)
	assert.True(t, col.IsComputed)
	key, ok := schema.Column("order_id")
	require.True(t, ok)
	assert.True(t, key.IsPrimaryKey)
}

func TestTargetStore_StagingCreationDisabled(t *testing.T) {
	cfg := integrationConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewTargetStore(ctx, cfg, datasource.TargetOptions{
		ControlSchema: "etl_" + uuid.NewString()[:8],
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.PrepareStaging(ctx, "public.never_created")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging creation is disabled")
}

func TestExtractor_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ex, err := NewExtractor(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer ex.Close()

	query := `SELECT v.id, v.amount, v.modified_at
FROM (VALUES
    (1, 1.50::numeric(10,2), '2024-01-01'::timestamp),
    (2, 2.50::numeric(10,2), '2024-02-01'::timestamp)
) AS v(id, amount, modified_at)
WHERE v.modified_at > @LastRunDate -- incremental bound`

	bound := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	maxVal, err := ex.MaxIncrementalValue(ctx, query, "modified_at", bound)
	require.NoError(t, err)
	require.NotNil(t, maxVal)
	assert.True(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC).Equal(*maxVal))

	cursor, err := ex.ExtractRows(ctx, query, &bound)
	require.NoError(t, err)
	defer cursor.Close()

	assert.Equal(t, []string{"id", "amount", "modified_at"}, cursor.Columns())

	var ids []any
	for cursor.Next() {
		vals, err := cursor.Values()
		require.NoError(t, err)
		ids = append(ids, vals[0])
	}
	require.NoError(t, cursor.Err())
	assert.Equal(t, []any{int32(2)}, ids)

	later := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	none, err := ex.MaxIncrementalValue(ctx, query, "modified_at", later)
	require.NoError(t, err)
	assert.Nil(t, none)
}
