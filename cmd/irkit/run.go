package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/engine"
	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/module"
)

type runOptions struct {
	Func  string
	JIT   bool
	Level string
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <file.ll> --func NAME [ARGS...]",
		Short: "Execute a function",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ro.Func == "" {
				return fmt.Errorf("--func is required")
			}
			cfg, err := opts.engineConfig(cmd, ro.JIT, ro.Level)
			if err != nil {
				return err
			}
			m, done, err := loadModule(args[0])
			if err != nil {
				return err
			}
			defer done()

			res, err := runFunction(cmd, m, cfg, ro.Func, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&ro.Func, "func", "", "function to call")
	cmd.Flags().BoolVar(&ro.JIT, "jit", false, "use the compiler engine")
	cmd.Flags().StringVarP(&ro.Level, "opt", "O", "", "optimization level (0-3)")
	return cmd
}

// engineConfig merges the configuration file with the run flags.
func (o *rootOptions) engineConfig(cmd *cobra.Command, jit bool, level string) (engine.Config, error) {
	mode, err := o.cfg.mode()
	if err != nil {
		return engine.Config{}, err
	}
	if jit {
		mode = engine.ModeJIT
	}
	lvl, err := o.cfg.level()
	if err != nil {
		return engine.Config{}, err
	}
	if level != "" {
		if lvl, err = irkit.ParseCodegenLevel(level); err != nil {
			return engine.Config{}, err
		}
	}
	return engine.Config{
		Mode:             mode,
		OptLevel:         lvl,
		MemoryLimitPages: o.cfg.MemoryLimitPages,
	}, nil
}

func runFunction(cmd *cobra.Command, m module.Module, cfg engine.Config, name string, args []string) (engine.FuncallResult, error) {
	ctx := cmd.Context()
	fn, err := m.LookupFunction(name)
	if err != nil {
		return engine.FuncallResult{}, err
	}
	if fn.IsNull() {
		return engine.FuncallResult{}, errors.NotFound(errors.PhaseExecute, "function", name)
	}
	sig, err := fn.Signature()
	if err != nil {
		return engine.FuncallResult{}, err
	}
	vals, err := parseArgs(sig, args)
	if err != nil {
		return engine.FuncallResult{}, err
	}

	e, err := engine.New(ctx, m, cfg)
	if err != nil {
		return engine.FuncallResult{}, err
	}
	defer e.Close(ctx)
	return e.Run(ctx, fn, vals...)
}
