package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sh4npeiris/ReportingDataSync/pkg/logging"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
	"github.com/sh4npeiris/ReportingDataSync/pkg/services"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var only []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Synchronize every configured table once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts, only)
		},
	}

	cmd.Flags().StringSliceVar(&only, "only", nil, "Comma-separated target tables to run (default all, in file order)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *rootOptions, only []string) error {
	ctx := cmd.Context()

	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	specs, err := models.LoadTableSpecs(cfg.ETL.TablesFile)
	if err != nil {
		return err
	}
	selected := models.FilterTableSpecs(specs, only)
	if len(only) > 0 && len(selected) != len(only) {
		return fmt.Errorf("--only names tables not in %s: %s", cfg.ETL.TablesFile, strings.Join(missingTables(selected, only), ", "))
	}

	logger.Info("Starting reportsync",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("source_type", cfg.Source.Type),
		zap.String("target_type", cfg.Target.Type),
		zap.String("tables_file", cfg.ETL.TablesFile),
		zap.Int("table_count", len(selected)))

	target, err := openTarget(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := target.Close(); err != nil {
			logger.Warn("Failed to close target", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	source, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn("Failed to close source", zap.String("error", logging.SanitizeError(err)))
		}
	}()

	svc := services.NewSyncService(source, target, logger)
	summary, err := svc.Run(ctx, selected)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)

	if summary.Failed() > 0 {
		return fmt.Errorf("%w: %d of %d", ErrTablesFailed, summary.Failed(), len(summary.Results))
	}
	return nil
}

// missingTables returns the names in only that matched no spec.
func missingTables(selected []*models.TableSyncSpec, only []string) []string {
	found := make(map[string]bool, len(selected))
	for _, s := range selected {
		found[strings.ToLower(s.TargetTable)] = true
	}
	var missing []string
	for _, n := range only {
		if !found[strings.ToLower(strings.TrimSpace(n))] {
			missing = append(missing, n)
		}
	}
	return missing
}

func printSummary(w io.Writer, summary *models.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tMODE\tOUTCOME\tROWS\tWATERMARK\tERROR")
	for _, r := range summary.Results {
		watermark := "-"
		if r.NewWatermark != nil {
			watermark = r.NewWatermark.Format(time.RFC3339Nano)
		} else if r.PreviousWatermark != nil {
			watermark = r.PreviousWatermark.Format(time.RFC3339Nano)
		}
		errText := ""
		if r.Err != nil {
			errText = logging.SanitizeError(r.Err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n", r.Table, r.Mode, r.Outcome, r.RowsCopied, watermark, errText)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nrun %s: %d tables, %d failed, %d rows in %s\n",
		summary.RunID, len(summary.Results), summary.Failed(), summary.RowsCopied(),
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond))
}
