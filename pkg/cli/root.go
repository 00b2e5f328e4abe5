// Package cli wires configuration, logging and the datasource adapters into cobra commands.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/adapters/datasource"
	"github.com/sh4npeiris/ReportingDataSync/pkg/config"
	"github.com/sh4npeiris/ReportingDataSync/pkg/logging"
)

// ErrTablesFailed is returned by run when at least one table did not synchronize.
var ErrTablesFailed = errors.New("one or more tables failed to synchronize")

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	version    string
	configPath string
	tablesFile string
	// forceFiscalYearStart overrides etl.force_fiscal_year_start for this invocation.
	forceFiscalYearStart string
}

// NewRootCmd creates the reportsync command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "reportsync",
		Short: "Synchronize tables from a transactional database into a reporting database",
		Long: `reportsync copies the tables listed in a YAML table configuration from a source
database into a reporting database. Tables without an incremental column are truncated
and reloaded; incremental tables are loaded into staging and merged on their key columns,
and their watermark advances only after the merge succeeds.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to config.yaml (default ./config.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&opts.tablesFile, "tables", "", "Path to the YAML table configuration (overrides etl.tables_file)")
	rootCmd.PersistentFlags().StringVar(&opts.forceFiscalYearStart, "force-fiscal-year-start", "",
		"Default watermark for never-synchronized tables, RFC 3339 or YYYY-MM-DD (overrides etl.force_fiscal_year_start)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newWatermarkCmd(opts),
		newTablesCmd(opts),
	)

	return rootCmd
}

// load reads configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath, o.version)
	if err != nil {
		return nil, nil, err
	}
	if o.tablesFile != "" {
		cfg.ETL.TablesFile = o.tablesFile
	}
	if o.forceFiscalYearStart != "" {
		start, err := config.ParseTimestamp(o.forceFiscalYearStart)
		if err != nil {
			return nil, nil, fmt.Errorf("--force-fiscal-year-start: %w", err)
		}
		cfg.ETL.SetForceFiscalYearStart(&start)
	}

	logger, err := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// targetOptions translates the etl section into adapter options.
func targetOptions(cfg *config.Config, logger *zap.Logger) datasource.TargetOptions {
	return datasource.TargetOptions{
		ControlSchema:     cfg.ETL.SchemaName,
		ControlTable:      cfg.ETL.ControlTableName,
		StagingPrefix:     cfg.ETL.StagingPrefix,
		AutoCreateStaging: cfg.ETL.AutoCreateStaging(),
		BatchSize:         cfg.ETL.BatchSize,
		Policy:            cfg.ETL.FiscalYearPolicy(),
		Logger:            logger.Named("target"),
	}
}

// openTarget opens the reporting database wrapped in the configured retry policy.
func openTarget(ctx context.Context, cfg *config.Config, logger *zap.Logger) (datasource.TargetStore, error) {
	factory := datasource.NewDatasourceAdapterFactory(logger)
	store, err := factory.NewTargetStore(ctx, cfg.Target.Type, cfg.Target.ToMap(), targetOptions(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("open target %s: %w", cfg.Target.Type, err)
	}
	return datasource.NewRetryingTarget(store, cfg.Retry.Policy(), logger.Named("retry")), nil
}

// openSource opens the source database wrapped in the configured retry policy.
func openSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) (datasource.Extractor, error) {
	factory := datasource.NewDatasourceAdapterFactory(logger)
	ex, err := factory.NewExtractor(ctx, cfg.Source.Type, cfg.Source.ToMap())
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", cfg.Source.Type, err)
	}
	return datasource.NewRetryingExtractor(ex, cfg.Retry.Policy(), logger.Named("retry")), nil
}
