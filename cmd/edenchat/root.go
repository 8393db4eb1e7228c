package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0xcro3dile/edenchat/internal/infrastructure/config"
	"github.com/0xcro3dile/edenchat/internal/infrastructure/logging"
)

// app carries what the root command resolves before a subcommand runs.
type app struct {
	cfg *config.Config
	log *zap.Logger

	verbose    bool
	addr       string
	promptsDir string
	storeDrv   string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "edenchat",
		Short:         "EDEN methodology chat server",
		Long:          "Streams model responses through the EDEN phases and turns finished deliverables into documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&a.addr, "addr", "", "listen address (overrides EDEN_ADDR)")
	flags.StringVar(&a.promptsDir, "prompts", "", "prompt override directory (overrides PROMPTS_DIR)")
	flags.StringVar(&a.storeDrv, "store", "", "memory, sqlite or postgres (overrides STORE_DRIVER)")

	root.AddCommand(newServeCmd(a), newExtractCmd(a), newLevelsCmd(a), newLinkStepCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("addr") {
		cfg.Addr = a.addr
	}
	if cmd.Flags().Changed("prompts") {
		cfg.PromptsDir = a.promptsDir
	}
	if cmd.Flags().Changed("store") {
		cfg.Store.Driver = a.storeDrv
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, a.verbose)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = log
	return nil
}
