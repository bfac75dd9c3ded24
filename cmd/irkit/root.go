package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/irkit/engine"
	"github.com/wippyai/irkit/module"
	"github.com/wippyai/irkit/target"
)

// rootOptions holds global flags and the resolved configuration.
type rootOptions struct {
	ConfigPath string
	LogLevel   string

	cfg Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "irkit",
		Short:         "Build, verify, run and compile IR modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newDumpCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newEmitCommand(opts))
	cmd.AddCommand(newInteractiveCommand(opts))
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := loadConfig(o.ConfigPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.log = log

	module.SetLogger(log.Named("module"))
	engine.SetLogger(log.Named("engine"))
	target.SetLogger(log.Named("target"))
	return nil
}

// loadModule parses a textual IR file into a fresh context. The returned
// function disposes it.
func loadModule(path string) (module.Module, func(), error) {
	ctx := module.NewContext()
	m, err := module.ParseFile(ctx, path)
	if err != nil {
		_ = ctx.Dispose()
		return module.Module{}, nil, err
	}
	return m, func() { _ = ctx.Dispose() }, nil
}
