package postgres

import (
	"context"

	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
)

func init() {
	datasource.Register(datasource.DatasourceAdapterRegistration{
		Info: datasource.DatasourceAdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 15+ (MERGE required when used as a target)",
		},
		ExtractorFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.Extractor, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewExtractor(ctx, cfg, logger)
		},
		TargetFactory: func(ctx context.Context, config map[string]any, opts datasource.TargetOptions) (datasource.TargetStore, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewTargetStore(ctx, cfg, opts)
		},
	})
}
