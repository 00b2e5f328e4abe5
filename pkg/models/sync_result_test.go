package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSummary_Aggregates(t *testing.T) {
	boom := errors.New("boom")
	summary := &RunSummary{Results: []*TableResult{
		{Table: "a", Outcome: SyncOutcomeLoaded, RowsCopied: 10},
		{Table: "b", Outcome: SyncOutcomeUpToDate},
		{Table: "c", Outcome: SyncOutcomeFailed, Err: boom},
		{Table: "d", Outcome: SyncOutcomeCanceled},
	}}

	assert.Equal(t, 2, summary.Failed())
	assert.Equal(t, int64(10), summary.RowsCopied())

	err := summary.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Contains(t, err.Error(), "table d: canceled")
}

func TestRunSummary_AllSucceeded(t *testing.T) {
	summary := &RunSummary{Results: []*TableResult{
		{Table: "a", Outcome: SyncOutcomeLoaded},
		{Table: "b", Outcome: SyncOutcomeUpToDate},
	}}

	assert.Zero(t, summary.Failed())
	assert.NoError(t, summary.Err())
}
