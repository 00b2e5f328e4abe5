package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sh4npeiris/ReportingDataSync/pkg/config"
)

func newWatermarkCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or reset the stored watermark of an incremental table",
	}

	cmd.AddCommand(newWatermarkGetCmd(opts), newWatermarkSetCmd(opts))
	return cmd
}

func newWatermarkGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <table>",
		Short: "Print the watermark the next run will use for a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			target, err := openTarget(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer target.Close()

			if err := target.EnsureSchema(ctx); err != nil {
				return err
			}
			w, err := target.GetWatermark(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], w.Format(time.RFC3339Nano))
			return nil
		},
	}
}

func newWatermarkSetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <table> <timestamp>",
		Short: "Overwrite a table's watermark (RFC 3339 or YYYY-MM-DD, UTC)",
		Long: `Overwrite a table's watermark. The next run extracts rows whose incremental
column is strictly greater than the new value. Moving a watermark backwards
re-extracts that window; the merge makes this safe to repeat.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := config.ParseTimestamp(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			target, err := openTarget(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer target.Close()

			if err := target.EnsureSchema(ctx); err != nil {
				return err
			}
			if err := target.SetWatermark(ctx, args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", args[0], value.UTC().Format(time.RFC3339Nano))
			return nil
		},
	}
}
