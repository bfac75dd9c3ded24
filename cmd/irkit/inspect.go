package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/internal/opt"
	"github.com/wippyai/irkit/irtypes"
	"github.com/wippyai/irkit/module"
)

func newInspectCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.ll>",
		Short: "Summarize the functions and globals of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := loadModule(args[0])
			if err != nil {
				return err
			}
			defer done()
			level, err := opts.cfg.level()
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), m, level)
		},
	}
}

func signature(fn module.Function) string {
	sig, err := fn.Signature()
	if err != nil {
		return fn.Name() + ": " + err.Error()
	}
	params := make([]string, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = irtypes.String(p)
	}
	if sig.Variadic {
		params = append(params, "...")
	}
	return fmt.Sprintf("%s @%s(%s)", irtypes.String(sig.RetType), fn.Name(), strings.Join(params, ", "))
}

func inspect(w io.Writer, m module.Module, level irkit.CodegenLevel) error {
	fns, err := m.Functions()
	if err != nil {
		return err
	}
	globals, err := m.Globals()
	if err != nil {
		return err
	}
	verr := m.Verify()

	fmt.Fprintf(w, "module %s\n", m.Name())
	if verr != nil {
		fmt.Fprintf(w, "verify: %v\n", verr)
	} else {
		fmt.Fprintln(w, "verify: ok")
	}

	fmt.Fprintf(w, "\nfunctions (%d):\n", len(fns))
	for _, fn := range fns {
		decl, _ := fn.IsDeclaration()
		if decl {
			fmt.Fprintf(w, "  declare %s\n", signature(fn))
			continue
		}
		native, err := fn.Native()
		if err != nil {
			return err
		}
		insts := 0
		for _, blk := range native.Blocks {
			insts += len(blk.Insts) + 1
		}
		fmt.Fprintf(w, "  define %s  blocks=%d insts=%d\n", signature(fn), len(native.Blocks), insts)
		if verr == nil {
			s := opt.Analyze(native, level).Stats()
			fmt.Fprintf(w, "    %s: folded=%d dead=%d branches=%d unreachable=%d\n",
				level, s.Folded, s.Dead, s.Branches, s.Unreachable)
		}
	}

	fmt.Fprintf(w, "\nglobals (%d):\n", len(globals))
	for _, g := range globals {
		native, err := g.Native()
		if err != nil {
			return err
		}
		kind := "global"
		if native.Immutable {
			kind = "constant"
		}
		init := "external"
		if native.Init != nil {
			init = native.Init.Ident()
		}
		fmt.Fprintf(w, "  %s @%s %s = %s\n", kind, g.Name(), irtypes.String(native.ContentType), init)
	}
	return nil
}
