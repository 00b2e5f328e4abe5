package datasource

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
)

// DatasourceAdapterFactory creates adapters from the registry.
type DatasourceAdapterFactory interface {
	// NewExtractor opens a source extractor for the given datasource type.
	NewExtractor(ctx context.Context, dsType string, config map[string]any) (Extractor, error)

	// NewTargetStore opens a target store for the given datasource type.
	NewTargetStore(ctx context.Context, dsType string, config map[string]any, opts TargetOptions) (TargetStore, error)

	// ListTypes returns info for all registered adapter types.
	ListTypes() []DatasourceAdapterInfo
}

type registryFactory struct {
	logger *zap.Logger
}

// NewDatasourceAdapterFactory returns a factory that uses the global registry.
func NewDatasourceAdapterFactory(logger *zap.Logger) DatasourceAdapterFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryFactory{
		logger: logger,
	}
}

func (f *registryFactory) NewExtractor(ctx context.Context, dsType string, config map[string]any) (Extractor, error) {
	factory := GetExtractorFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s (cannot be used as a source)", apperrors.ErrUnsupportedDatasource, dsType)
	}
	return factory(ctx, config, f.logger.Named("source"))
}

func (f *registryFactory) NewTargetStore(ctx context.Context, dsType string, config map[string]any, opts TargetOptions) (TargetStore, error) {
	factory := GetTargetFactory(dsType)
	if factory == nil {
		return nil, fmt.Errorf("%w: %s (cannot be used as a target)", apperrors.ErrUnsupportedDatasource, dsType)
	}
	if opts.Logger == nil {
		opts.Logger = f.logger.Named("target")
	}
	return factory(ctx, config, opts.WithDefaults())
}

func (f *registryFactory) ListTypes() []DatasourceAdapterInfo {
	return RegisteredAdapters()
}

// Ensure registryFactory implements DatasourceAdapterFactory at compile time.
var _ DatasourceAdapterFactory = (*registryFactory)(nil)
