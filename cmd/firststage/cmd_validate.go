package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"firststage/internal/analysis"
	"firststage/internal/dataset"
)

func newValidateCmd(a *app) *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration against the data without estimating",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if data != "" {
				a.cfg.Data = data
			}
			frame, err := dataset.LoadCSV(a.cfg.Data)
			if err != nil {
				return fmt.Errorf("load data: %w", err)
			}
			if err := analysis.New(a.cfg, a.logger).Check(frame); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d variants, %d rows, %d columns\n",
				len(a.cfg.Enabled()), frame.Rows(), len(frame.Names()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "Input CSV (default from config)")
	return cmd
}
