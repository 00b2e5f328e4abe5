package datasource

import (
	"fmt"
	"strings"

	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// ColumnMetadata represents a discovered database column.
type ColumnMetadata struct {
	ColumnName      string
	DataType        string
	IsNullable      bool
	IsPrimaryKey    bool
	IsIdentity      bool
	IsComputed      bool
	OrdinalPosition int
}

// TableSchema is the column layout of one table, ordered by ordinal position.
// It is discovered once per merge and passed explicitly to the statement builders.
type TableSchema struct {
	Table   models.TableRef
	Columns []ColumnMetadata
}

// Writable returns the columns that can appear in an INSERT list.
func (s *TableSchema) Writable() []ColumnMetadata {
	out := make([]ColumnMetadata, 0, len(s.Columns))
	for _, c := range s.Columns {
		if !c.IsComputed {
			out = append(out, c)
		}
	}
	return out
}

// Column finds a column by name, case-insensitively.
func (s *TableSchema) Column(name string) (ColumnMetadata, bool) {
	for _, c := range s.Columns {
		if strings.EqualFold(c.ColumnName, name) {
			return c, true
		}
	}
	return ColumnMetadata{}, false
}

// SplitKeys partitions the writable columns into key columns (in the order given by
// keyColumns) and the remaining non-key columns (in ordinal order).
// Every key must exist in the table.
func (s *TableSchema) SplitKeys(keyColumns []string) (keys, nonKeys []ColumnMetadata, err error) {
	if len(keyColumns) == 0 {
		return nil, nil, fmt.Errorf("merge into %s requires at least one key column", s.Table)
	}

	isKey := make(map[string]bool, len(keyColumns))
	for _, k := range keyColumns {
		col, ok := s.Column(k)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s.%s", apperrors.ErrUnknownKeyColumn, s.Table, k)
		}
		keys = append(keys, col)
		isKey[strings.ToLower(col.ColumnName)] = true
	}

	for _, c := range s.Writable() {
		if !isKey[strings.ToLower(c.ColumnName)] {
			nonKeys = append(nonKeys, c)
		}
	}
	return keys, nonKeys, nil
}

// ResolveColumns maps names to the table's columns case-insensitively, keeping their order.
// Computed columns cannot be written and are rejected.
func (s *TableSchema) ResolveColumns(names []string) ([]ColumnMetadata, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no columns to map into %s", s.Table)
	}
	out := make([]ColumnMetadata, len(names))
	for i, name := range names {
		col, ok := s.Column(name)
		if !ok {
			return nil, fmt.Errorf("column %s does not exist in destination table %s", name, s.Table)
		}
		if col.IsComputed {
			return nil, fmt.Errorf("column %s in destination table %s is computed and cannot be loaded", name, s.Table)
		}
		out[i] = col
	}
	return out, nil
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []ColumnMetadata) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.ColumnName
	}
	return names
}
