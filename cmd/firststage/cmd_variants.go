package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"firststage/internal/analysis"
)

func newVariantsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List the configured variants with their formula and model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			an := analysis.New(a.cfg, a.logger)

			tw := table.NewWriter()
			tw.SetStyle(table.StyleLight)
			tw.AppendHeader(table.Row{"Variant", "Model", "Cluster", "Filter", "Formula", "Wald", "Enabled"})
			for _, v := range a.cfg.Variants {
				cluster := a.cfg.ClusterFor(v)
				if cluster == "" {
					cluster = "-"
				}
				tw.AppendRow(table.Row{
					v.Title(), a.cfg.ModelFor(v), cluster, v.Filter,
					an.FormulaFor(v), fmt.Sprint(a.cfg.WaldFor(v)), !v.Disabled,
				})
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
			return err
		},
	}
}
