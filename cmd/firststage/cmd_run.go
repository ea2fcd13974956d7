package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"firststage/internal/analysis"
	"firststage/internal/dataset"
	"firststage/internal/report"
)

type runFlags struct {
	data         string
	output       string
	xlsx         string
	db           string
	workers      int
	replications int
	variants     []string
	quiet        bool
}

func newRunCmd(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Estimate every enabled variant and write the summary table",
		Long: `Estimate the first stage for every enabled variant.

The summary is written as CSV to --output, optionally as a workbook to --xlsx
and archived in the SQLite database at --db. A console table is printed to
stdout unless --quiet is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.data, "data", "d", "", "Input CSV (default from config)")
	f.StringVarP(&flags.output, "output", "o", "", "Output CSV (default from config)")
	f.StringVar(&flags.xlsx, "xlsx", "", "Also write an XLSX workbook")
	f.StringVar(&flags.db, "db", "", "Archive the run in a SQLite database")
	f.IntVarP(&flags.workers, "workers", "w", 0, "Variants estimated concurrently")
	f.IntVar(&flags.replications, "bootstrap", -1, "Cluster bootstrap replications (0 disables)")
	f.StringSliceVar(&flags.variants, "variant", nil, "Only estimate the named variants")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "Do not print the console table")
	return cmd
}

func (a *app) applyRunFlags(cmd *cobra.Command, flags runFlags) error {
	cfg := a.cfg
	if flags.data != "" {
		cfg.Data = flags.data
	}
	if flags.output != "" {
		cfg.Output = flags.output
	}
	if flags.xlsx != "" {
		cfg.XLSX = flags.xlsx
	}
	if flags.db != "" {
		cfg.Database = flags.db
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = flags.workers
	}
	if flags.replications >= 0 {
		cfg.Bootstrap.Replications = flags.replications
	}
	if err := a.selectVariants(flags.variants); err != nil {
		return err
	}
	return cfg.Validate()
}

func (a *app) run(cmd *cobra.Command, flags runFlags) error {
	if err := a.applyRunFlags(cmd, flags); err != nil {
		return err
	}
	cfg, logger := a.cfg, a.logger
	if len(cfg.Enabled()) == 0 {
		return fmt.Errorf("no enabled variants")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frame, err := dataset.LoadCSV(cfg.Data)
	if err != nil {
		return fmt.Errorf("load data: %w", err)
	}
	logger.Info("Data loaded",
		zap.String("path", cfg.Data),
		zap.Int("rows", frame.Rows()),
		zap.Strings("columns", frame.Names()))

	an := analysis.New(cfg, logger)
	if err := an.Check(frame); err != nil {
		// each affected variant reports the error in its own row
		logger.Warn("Variants do not match the data", zap.Error(err))
	}

	run := report.NewRun(cfg.Data, a.configPath)
	start := time.Now()
	rows, err := an.Run(ctx, frame)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range rows {
		if r.Err != nil {
			failed++
		}
	}
	logger.Info("Variants estimated",
		zap.String("run", run.ID),
		zap.Int("variants", len(rows)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))

	if err := a.writeOutputs(ctx, run, rows); err != nil {
		return err
	}
	if !flags.quiet {
		if err := report.Render(cmd.OutOrStdout(), rows); err != nil {
			return err
		}
	}
	if failed == len(rows) {
		return fmt.Errorf("all %d variants failed", failed)
	}
	return nil
}

func (a *app) writeOutputs(ctx context.Context, run report.Run, rows []analysis.Row) error {
	cfg, logger := a.cfg, a.logger

	if err := report.WriteCSV(cfg.Output, rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	logger.Info("Summary written", zap.String("path", cfg.Output))

	if cfg.XLSX != "" {
		if err := report.WriteXLSX(cfg.XLSX, run, rows); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
		logger.Info("Workbook written", zap.String("path", cfg.XLSX))
	}

	if cfg.Database != "" {
		store, err := report.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.SaveRun(ctx, run, rows); err != nil {
			return err
		}
		logger.Info("Run archived", zap.String("path", cfg.Database), zap.String("run", run.ID))
	}
	return nil
}
