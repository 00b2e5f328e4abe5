package datasource

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

// DatasourceAdapterInfo describes a registered adapter.
type DatasourceAdapterInfo struct {
	Type        string `json:"type"`         // "mssql", "postgres"
	DisplayName string `json:"display_name"` // "Microsoft SQL Server"
	Description string `json:"description"`
}

// TargetOptions carries the ETL settings a target store needs beyond its connection.
type TargetOptions struct {
	// ControlSchema holds the control table and the staging tables.
	ControlSchema string
	// ControlTable is the unqualified watermark table name.
	ControlTable string

	StagingPrefix     string
	AutoCreateStaging bool
	BatchSize         int

	Policy models.FiscalYearPolicy
	Logger *zap.Logger
}

// WithDefaults fills unset fields.
func (o TargetOptions) WithDefaults() TargetOptions {
	if o.ControlSchema == "" {
		o.ControlSchema = "etl"
	}
	if o.ControlTable == "" {
		o.ControlTable = "ETLControl"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Policy.StartMonth == 0 {
		o.Policy.StartMonth = 1
	}
	return o
}

// ExtractorFactory opens a source connection from a generic config map.
type ExtractorFactory func(ctx context.Context, config map[string]any, logger *zap.Logger) (Extractor, error)

// TargetFactory opens a target connection from a generic config map.
type TargetFactory func(ctx context.Context, config map[string]any, opts TargetOptions) (TargetStore, error)

// DatasourceAdapterRegistration contains info + factories for creating adapters.
// Either factory may be nil when the adapter cannot play that role.
type DatasourceAdapterRegistration struct {
	Info             DatasourceAdapterInfo
	ExtractorFactory ExtractorFactory
	TargetFactory    TargetFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DatasourceAdapterRegistration)
)

// Register is called by each adapter's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DatasourceAdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []DatasourceAdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DatasourceAdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetExtractorFactory returns the extractor factory for a datasource type.
// Returns nil if type is not registered or cannot act as a source.
func GetExtractorFactory(dsType string) ExtractorFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.ExtractorFactory
	}
	return nil
}

// GetTargetFactory returns the target factory for a datasource type.
// Returns nil if type is not registered or cannot act as a target.
func GetTargetFactory(dsType string) TargetFactory {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if reg, ok := registry[dsType]; ok {
		return reg.TargetFactory
	}
	return nil
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(dsType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[dsType]
	return ok
}
