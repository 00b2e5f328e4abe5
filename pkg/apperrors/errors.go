package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTableSpec      = errors.New("invalid table spec")
	ErrUnsupportedDatasource = errors.New("unsupported datasource type")
	ErrUnknownKeyColumn      = errors.New("key column not found in target table")
	ErrDuplicateStagingKey   = errors.New("staging table has more than one row per key")
)

// Kind classifies where in a table's sync a failure happened.
type Kind string

const (
	KindSchemaInitialization Kind = "schema_initialization"
	KindConfiguration        Kind = "configuration"
	KindExtraction           Kind = "extraction"
	KindTransfer             Kind = "transfer"
	KindMerge                Kind = "merge"
	KindWatermarkRead        Kind = "watermark_read"
	KindWatermarkWrite       Kind = "watermark_write"
	KindCanceled             Kind = "canceled"
)

// SyncError wraps a failure with the table and step it belongs to.
type SyncError struct {
	Kind  Kind
	Table string
	Err   error
}

func (e *SyncError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("table %s: %s failure: %v", e.Table, e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError wraps err. A nil err yields nil.
func NewSyncError(kind Kind, table string, err error) error {
	if err == nil {
		return nil
	}
	return &SyncError{Kind: kind, Table: table, Err: err}
}

// KindOf returns the Kind of the first SyncError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
