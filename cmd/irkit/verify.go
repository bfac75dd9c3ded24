package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file.ll>",
		Short: "Verify a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := loadModule(args[0])
			if err != nil {
				return err
			}
			defer done()
			if err := m.Verify(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", m.Name())
			return nil
		},
	}
}
