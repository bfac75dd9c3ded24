package module

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"go.uber.org/zap"

	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/internal/irutil"
)

// RenderToText returns the module in textual IR syntax. Unverified modules
// can be rendered.
func (m Module) RenderToText() (string, error) {
	st, err := m.state(errors.PhaseRender)
	if err != nil {
		return "", err
	}
	return RenderNative(st.name, st.ir)
}

// Dump writes the textual module to standard error.
func (m Module) Dump() {
	text, err := m.RenderToText()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Fprint(os.Stderr, text)
}

// RenderToFile writes the textual module to path. The file is replaced
// atomically; on failure no partial file is left behind.
func (m Module) RenderToFile(path string) error {
	text, err := m.RenderToText()
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(path, []byte(text)); err != nil {
		return errors.IO(errors.PhaseRender, path, err)
	}
	Logger().Debug("module rendered", zap.String("module", m.Name()), zap.String("path", path))
	return nil
}

// RenderNative renders a toolkit module with a ModuleID header. Blocks
// without a terminator are printed with the terminator they behave as.
func RenderNative(name string, m *ir.Module) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.PhaseRender, errors.KindInvalidInput).
				Module(name).
				Detail("render: %v", r).
				Build()
		}
	}()

	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		if err := f.AssignIDs(); err != nil {
			return "", errors.New(errors.PhaseRender, errors.KindInvalidInput).
				Module(name).
				Function(f.Name()).
				Cause(err).
				Detail("assign local IDs").
				Build()
		}
	}

	restore := fillImplicitTerminators(m)
	defer restore()

	var b strings.Builder
	fmt.Fprintf(&b, "; ModuleID = '%s'\n", name)
	b.WriteString(m.String())
	return b.String(), nil
}

// fillImplicitTerminators gives every terminator-less block of m the
// terminator it behaves as. The returned func removes them again.
func fillImplicitTerminators(m *ir.Module) func() {
	var open []*ir.Block
	for _, f := range m.Funcs {
		for _, blk := range f.Blocks {
			if blk.Term == nil {
				blk.Term = irutil.ImplicitTerminator(f)
				open = append(open, blk)
			}
		}
	}
	return func() {
		for _, blk := range open {
			blk.Term = nil
		}
	}
}

// ParseText loads textual IR into a new module of ctx.
func ParseText(ctx *Context, name, text string) (Module, error) {
	if ctx == nil {
		return Module{}, errors.NullHandle(errors.PhaseParse, "context")
	}
	native, err := asm.ParseString(name, text)
	if err != nil {
		return Module{}, errors.ParseFailed(name, err)
	}
	return adopt(ctx, name, native)
}

// ParseFile loads a textual IR file into a new module of ctx. The module is
// named after the file.
func ParseFile(ctx *Context, path string) (Module, error) {
	if ctx == nil {
		return Module{}, errors.NullHandle(errors.PhaseParse, "context")
	}
	native, err := asm.ParseFile(path)
	if err != nil {
		return Module{}, errors.ParseFailed(path, err)
	}
	return adopt(ctx, filepath.Base(path), native)
}

func adopt(ctx *Context, name string, native *ir.Module) (Module, error) {
	if native.SourceFilename != "" {
		name = native.SourceFilename
	}
	return insert(ctx, newState(name, native))
}

// WriteFileAtomic writes data to a temporary file next to path and renames
// it into place.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
