package models

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
)

// TableSyncSpec describes how one target table is synchronized.
// Specs are immutable for the duration of a run.
type TableSyncSpec struct {
	SourceQuery       string   `yaml:"sourceQuery" json:"source_query"`
	TargetTable       string   `yaml:"targetTable" json:"target_table"`
	IncrementalColumn string   `yaml:"incrementalColumn" json:"incremental_column,omitempty"`
	PrimaryKeyColumns []string `yaml:"primaryKeyColumns" json:"primary_key_columns,omitempty"`
}

// IsFullLoad reports whether the table is replaced wholesale on every run.
func (s *TableSyncSpec) IsFullLoad() bool {
	return strings.TrimSpace(s.IncrementalColumn) == ""
}

// Mode returns the load mode this spec selects.
func (s *TableSyncSpec) Mode() LoadMode {
	if s.IsFullLoad() {
		return LoadModeFull
	}
	return LoadModeIncremental
}

// Validate reports configuration errors in the table entry.
// Incremental tables must declare key columns because they are merged.
func (s *TableSyncSpec) Validate() error {
	if strings.TrimSpace(s.TargetTable) == "" {
		return fmt.Errorf("%w: targetTable is required", apperrors.ErrInvalidTableSpec)
	}
	if strings.TrimSpace(s.SourceQuery) == "" {
		return fmt.Errorf("%w: sourceQuery is required for %s", apperrors.ErrInvalidTableSpec, s.TargetTable)
	}
	if s.IsFullLoad() {
		return nil
	}
	if len(s.PrimaryKeyColumns) == 0 {
		return fmt.Errorf("%w: incremental table %s requires primaryKeyColumns",
			apperrors.ErrInvalidTableSpec, s.TargetTable)
	}
	for _, k := range s.PrimaryKeyColumns {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty key column for %s", apperrors.ErrInvalidTableSpec, s.TargetTable)
		}
	}
	return nil
}

// LoadTableSpecs reads the YAML table list at path. Order in the file is processing order.
func LoadTableSpecs(path string) ([]*TableSyncSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read table configuration '%s': %w", path, err)
	}
	specs, err := ParseTableSpecs(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse table configuration '%s': %w", path, err)
	}
	return specs, nil
}

// ParseTableSpecs decodes a YAML list of table specs.
// A UTF-8 byte order mark is tolerated since the files are often edited on Windows.
func ParseTableSpecs(data []byte) ([]*TableSyncSpec, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var specs []*TableSyncSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// FilterTableSpecs keeps only specs whose target table is in names, preserving file order.
// An empty names list returns specs unchanged.
func FilterTableSpecs(specs []*TableSyncSpec, names []string) []*TableSyncSpec {
	if len(names) == 0 {
		return specs
	}
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = true
	}
	out := make([]*TableSyncSpec, 0, len(names))
	for _, s := range specs {
		if wanted[strings.ToLower(s.TargetTable)] {
			out = append(out, s)
		}
	}
	return out
}
