package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sh4npeiris/ReportingDataSync/pkg/apperrors"
	"github.com/sh4npeiris/ReportingDataSync/pkg/models"
)

func newTablesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "Work with the table configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the table configuration without connecting to any database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}

			specs, err := models.LoadTableSpecs(cfg.ETL.TablesFile)
			if err != nil {
				return err
			}

			errs := validateSpecs(specs)
			out := cmd.OutOrStdout()
			for i, s := range specs {
				if errs[i] != nil {
					fmt.Fprintf(out, "INVALID\t%s\t%v\n", s.TargetTable, errs[i])
					continue
				}
				fmt.Fprintf(out, "OK\t%s\t%s\n", s.TargetTable, s.Mode())
			}

			if err := errors.Join(errs...); err != nil {
				return fmt.Errorf("%s: %w", cfg.ETL.TablesFile, err)
			}
			fmt.Fprintf(out, "%d tables valid\n", len(specs))
			return nil
		},
	})

	return cmd
}

// validateSpecs returns one error slot per spec. A target table listed twice is
// invalid because both entries would share a watermark and a staging table.
func validateSpecs(specs []*models.TableSyncSpec) []error {
	errs := make([]error, len(specs))
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if err := s.Validate(); err != nil {
			errs[i] = err
			continue
		}
		key := strings.ToLower(strings.TrimSpace(s.TargetTable))
		if seen[key] {
			errs[i] = fmt.Errorf("%w: %s is listed more than once", apperrors.ErrInvalidTableSpec, s.TargetTable)
			continue
		}
		seen[key] = true
	}
	return errs
}
