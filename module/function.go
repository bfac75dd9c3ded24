package module

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/wippyai/irkit/errors"
)

// Function is a handle to a function. A Function declared through a Module
// knows its module and type. A Function wrapped with FromHandle is bare: its
// module and type are unknown and type queries fail. The zero Function is the
// null sentinel.
type Function struct {
	mod  Module
	idx  int
	bare *ir.Func
}

// FromHandle wraps a toolkit function obtained outside the facade.
func FromHandle(f *ir.Func) Function {
	if f == nil {
		return Function{}
	}
	return Function{bare: f}
}

// IsNull reports whether fn is the null sentinel.
func (fn Function) IsNull() bool { return fn.idx == 0 && fn.bare == nil }

// IsBare reports whether fn was created with FromHandle.
func (fn Function) IsBare() bool { return fn.bare != nil }

// Module returns the owning module; it is null for bare functions.
func (fn Function) Module() Module { return fn.mod }

func (fn Function) resolve(phase errors.Phase) (*moduleState, *ir.Func, error) {
	if fn.bare != nil {
		return nil, fn.bare, nil
	}
	if fn.idx == 0 {
		return nil, nil, errors.NullHandle(phase, "function")
	}
	st, err := fn.mod.state(phase)
	if err != nil {
		return nil, nil, err
	}
	return st, st.funcs[fn.idx-1], nil
}

// Native returns the underlying toolkit function.
func (fn Function) Native() (*ir.Func, error) {
	st, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	if st != nil {
		st.escaped = true
	}
	return f, nil
}

// Name returns the function name, or "" for an invalid handle.
func (fn Function) Name() string {
	_, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return ""
	}
	return f.Name()
}

// Signature returns the declared function type.
func (fn Function) Signature() (*types.FuncType, error) {
	if fn.bare != nil {
		return nil, errors.TypeUnknown(errors.PhaseBuild, fn.bare.Name())
	}
	_, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	return f.Sig, nil
}

// ReturnType returns the result type of the function.
func (fn Function) ReturnType() (types.Type, error) {
	sig, err := fn.Signature()
	if err != nil {
		return nil, err
	}
	return sig.RetType, nil
}

// ParamTypes returns the parameter types of the function.
func (fn Function) ParamTypes() ([]types.Type, error) {
	sig, err := fn.Signature()
	if err != nil {
		return nil, err
	}
	out := make([]types.Type, len(sig.Params))
	copy(out, sig.Params)
	return out, nil
}

// ParameterCount returns the number of formal parameters.
func (fn Function) ParameterCount() (int, error) {
	_, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return 0, err
	}
	return len(f.Params), nil
}

// Parameter returns the i-th formal parameter value.
func (fn Function) Parameter(i int) (value.Value, error) {
	_, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(f.Params) {
		e := errors.OutOfBounds(errors.PhaseBuild, []string{f.Name()}, i, len(f.Params))
		e.Function = f.Name()
		return nil, e
	}
	return f.Params[i], nil
}

// IsDeclaration reports whether the function has no body.
func (fn Function) IsDeclaration() (bool, error) {
	_, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return false, err
	}
	return len(f.Blocks) == 0, nil
}

// AppendBlock appends a basic block to the function body. A label already
// used in the function gets a numeric suffix: entry, entry1, entry2.
func (fn Function) AppendBlock(label string) (Block, error) {
	st, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return Block{}, err
	}
	blk := f.NewBlock(uniqueLocalName(f, label))
	if st != nil {
		st.touch()
	}
	return Block{fn: fn, blk: blk}, nil
}

// Blocks returns the basic blocks of the function in layout order.
func (fn Function) Blocks() ([]Block, error) {
	_, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	out := make([]Block, len(f.Blocks))
	for i, b := range f.Blocks {
		out[i] = Block{fn: fn, blk: b}
	}
	return out, nil
}

// EntryBlock returns the first block of the function.
func (fn Function) EntryBlock() (Block, error) {
	_, f, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		return Block{}, err
	}
	if len(f.Blocks) == 0 {
		return Block{}, errors.New(errors.PhaseBuild, errors.KindNotFound).
			Function(f.Name()).
			Detail("function has no body").
			Build()
	}
	return Block{fn: fn, blk: f.Blocks[0]}, nil
}

func (fn Function) String() string {
	if fn.IsNull() {
		return "function(null)"
	}
	return fmt.Sprintf("function(%s)", fn.Name())
}

func uniqueLocalName(f *ir.Func, label string) string {
	if label == "" {
		return label
	}
	taken := func(n string) bool {
		for _, b := range f.Blocks {
			if b.Name() == n {
				return true
			}
		}
		for _, p := range f.Params {
			if p.Name() == n {
				return true
			}
		}
		return false
	}
	if !taken(label) {
		return label
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s%d", label, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// Block is a handle to a basic block of a function.
type Block struct {
	fn  Function
	blk *ir.Block
}

// IsNull reports whether b is the null block handle.
func (b Block) IsNull() bool { return b.blk == nil }

// Function returns the function the block belongs to.
func (b Block) Function() Function { return b.fn }

// Name returns the block label.
func (b Block) Name() string {
	if b.blk == nil {
		return ""
	}
	return b.blk.Name()
}

// Native returns the toolkit block after checking that its function is
// still reachable.
func (b Block) Native() (*ir.Block, error) {
	st, blk, err := b.resolve(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	if st != nil {
		st.escaped = true
	}
	return blk, nil
}

// HasTerminator reports whether the block ends with a terminator.
func (b Block) HasTerminator() bool {
	return b.blk != nil && b.blk.Term != nil
}

func (b Block) resolve(phase errors.Phase) (*moduleState, *ir.Block, error) {
	if b.blk == nil {
		return nil, nil, errors.NullHandle(phase, "block")
	}
	st, f, err := b.fn.resolve(phase)
	if err != nil {
		return nil, nil, err
	}
	if b.blk.Parent != f {
		return nil, nil, errors.StaleHandle(phase, "block")
	}
	return st, b.blk, nil
}
