package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/target"
)

type emitOptions struct {
	Output string
	CPU    string
	Level  string
}

func newEmitCommand(opts *rootOptions) *cobra.Command {
	eo := &emitOptions{}
	cmd := &cobra.Command{
		Use:   "emit <file.ll> -o OUT",
		Short: "Compile a module to a relocatable object file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if eo.Output == "" {
				return fmt.Errorf("-o is required")
			}
			cpu, err := opts.cfg.cpu()
			if err != nil {
				return err
			}
			if eo.CPU != "" {
				if cpu, err = irkit.ParseCPU(eo.CPU); err != nil {
					return err
				}
			}
			level, err := opts.cfg.level()
			if err != nil {
				return err
			}
			if eo.Level != "" {
				if level, err = irkit.ParseCodegenLevel(eo.Level); err != nil {
					return err
				}
			}

			m, done, err := loadModule(args[0])
			if err != nil {
				return err
			}
			defer done()

			if cpu == irkit.CPUNative {
				if err := target.InitializeNative(); err != nil {
					return err
				}
			}
			if err := target.EmitObject(m, level, eo.Output, cpu); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, %s)\n", eo.Output, cpu, level)
			return nil
		},
	}
	cmd.Flags().StringVarP(&eo.Output, "output", "o", "", "output object file")
	cmd.Flags().StringVar(&eo.CPU, "cpu", "", "target cpu (native|x86-64|i686)")
	cmd.Flags().StringVarP(&eo.Level, "opt", "O", "", "optimization level (0-3)")
	return cmd
}
