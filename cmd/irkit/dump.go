package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newDumpCommand(opts *rootOptions) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "dump <file.ll>",
		Short: "Print a module in textual form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := loadModule(args[0])
			if err != nil {
				return err
			}
			defer done()
			if out != "" {
				return m.RenderToFile(out)
			}
			text, err := m.RenderToText()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to a file instead of stdout")
	return cmd
}
