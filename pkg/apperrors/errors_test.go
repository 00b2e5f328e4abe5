package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncError(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewSyncError(KindTransfer, "dbo.Orders", cause)

	assert.EqualError(t, err, "table dbo.Orders: transfer failure: connection reset")
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, KindTransfer, KindOf(err))
	assert.Equal(t, KindTransfer, KindOf(fmt.Errorf("wrapped: %w", err)))
}

func TestSyncError_NoTable(t *testing.T) {
	err := NewSyncError(KindSchemaInitialization, "", errors.New("permission denied"))
	assert.EqualError(t, err, "schema_initialization failure: permission denied")
}

func TestNewSyncError_Nil(t *testing.T) {
	assert.NoError(t, NewSyncError(KindMerge, "dbo.Orders", nil))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
