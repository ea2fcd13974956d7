package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"firststage/internal/config"
	"firststage/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

// app carries the state shared by the subcommands.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "firststage",
		Short: "First-stage regressions across geographic sample variants",
		Long: `firststage fits the first stage of an instrumental-variables design on
every configured sample variant and reports the instrument coefficient with
classical, heteroscedasticity-robust and cluster-robust standard errors.`,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, a.verbose)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newVariantsCmd(a))
	root.AddCommand(newValidateCmd(a))
	root.Version = version
	return root
}

// selectVariants keeps only the named variants, in configuration order.
func (a *app) selectVariants(names []string) error {
	if len(names) == 0 {
		return nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var kept []config.Variant
	for _, v := range a.cfg.Variants {
		if want[v.Name] {
			v.Disabled = false
			kept = append(kept, v)
			delete(want, v.Name)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return fmt.Errorf("unknown variants: %s", strings.Join(unknown, ", "))
	}
	a.cfg.Variants = kept
	return nil
}
