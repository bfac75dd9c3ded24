package module

import (
	stderrors "errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"go.uber.org/zap"

	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/handle"
)

// Module is a handle to an IR module owned by a Context. It is a small
// comparable value; copies refer to the same module. The zero Module is a
// null handle.
type Module struct {
	ctx *Context
	h   handle.Handle
}

// moduleState is the arena slot owned by the context.
type moduleState struct {
	name    string
	ir      *ir.Module
	funcs   []*ir.Func
	byName  map[string]int
	globals []*ir.Global
	gByName map[string]int

	revision  uint64
	verified  bool
	verifyRev uint64
	verifyErr error

	// escaped is set once the toolkit module has been handed out. Direct
	// edits bypass revision, so Verify stops caching.
	escaped bool
}

func newState(name string, m *ir.Module) *moduleState {
	st := &moduleState{
		name:    name,
		ir:      m,
		byName:  make(map[string]int),
		gByName: make(map[string]int),
	}
	for _, f := range m.Funcs {
		st.byName[f.Name()] = len(st.funcs)
		st.funcs = append(st.funcs, f)
	}
	for _, g := range m.Globals {
		st.gByName[g.Name()] = len(st.globals)
		st.globals = append(st.globals, g)
	}
	return st
}

func (st *moduleState) touch() {
	st.revision++
}

// Create creates an empty module in the global context.
func Create(name string) Module {
	m, err := CreateInContext(name, GlobalContext())
	if err != nil {
		// The global context is never closed.
		panic(err)
	}
	return m
}

// CreateInContext creates an empty module in ctx.
func CreateInContext(name string, ctx *Context) (Module, error) {
	if ctx == nil {
		return Module{}, errors.NullHandle(errors.PhaseBuild, "context")
	}
	native := ir.NewModule()
	native.SourceFilename = name
	return insert(ctx, newState(name, native))
}

func insert(ctx *Context, st *moduleState) (Module, error) {
	h, err := ctx.modules.Insert(st)
	if err != nil {
		return Module{}, errors.StaleHandle(errors.PhaseBuild, "context")
	}
	Logger().Debug("module created",
		zap.String("module", st.name),
		zap.Uint64("context", ctx.id),
		zap.Stringer("handle", h))
	return Module{ctx: ctx, h: h}, nil
}

func (m Module) state(phase errors.Phase) (*moduleState, error) {
	if m.ctx == nil {
		return nil, errors.NullHandle(phase, "module")
	}
	st, err := m.ctx.modules.Get(m.h)
	if err != nil {
		if stderrors.Is(err, handle.ErrNull) {
			return nil, errors.NullHandle(phase, "module")
		}
		return nil, errors.StaleHandle(phase, "module")
	}
	return st, nil
}

// IsNull reports whether m is the null module handle.
func (m Module) IsNull() bool { return m.ctx == nil }

// Alive reports whether m refers to a module that has not been disposed.
func (m Module) Alive() bool {
	_, err := m.state(errors.PhaseBuild)
	return err == nil
}

// Context returns the context the module was created in.
func (m Module) Context() *Context { return m.ctx }

// Name returns the module identifier, or "" for a released module.
func (m Module) Name() string {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return ""
	}
	return st.name
}

// Revision returns a counter bumped by every mutation made through the
// module, its functions and builders.
func (m Module) Revision() (uint64, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return 0, err
	}
	return st.revision, nil
}

// Native returns the underlying toolkit module. Mutations made directly on
// it are not tracked by Revision; from now on Verify re-checks the module
// on every call.
func (m Module) Native() (*ir.Module, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	st.escaped = true
	return st.ir, nil
}

// Dispose releases the module. Every handle derived from it becomes stale.
// Disposing twice returns a stale handle error.
func (m Module) Dispose() error {
	if m.ctx == nil {
		return errors.NullHandle(errors.PhaseHandle, "module")
	}
	st, err := m.ctx.modules.Remove(m.h)
	if err != nil {
		if stderrors.Is(err, handle.ErrNull) {
			return errors.NullHandle(errors.PhaseHandle, "module")
		}
		return errors.StaleHandle(errors.PhaseHandle, "module")
	}
	Logger().Debug("module disposed", zap.String("module", st.name), zap.Stringer("handle", m.h))
	return nil
}

// AddFunction declares a function. If a function with the same name already
// exists it is returned unchanged and sig is ignored.
func (m Module) AddFunction(name string, sig *types.FuncType) (Function, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return Function{}, err
	}
	if sig == nil {
		return Function{}, errors.InvalidInput(errors.PhaseBuild, "nil function type")
	}
	if idx, ok := st.byName[name]; ok {
		return Function{mod: m, idx: idx + 1}, nil
	}
	if _, ok := st.gByName[name]; ok && name != "" {
		return Function{}, errors.New(errors.PhaseBuild, errors.KindInvalidInput).
			Module(st.name).
			Detail("name %q is already used by a global", name).
			Build()
	}

	params := make([]*ir.Param, len(sig.Params))
	for i, t := range sig.Params {
		params[i] = ir.NewParam("", t)
	}
	f := st.ir.NewFunc(name, sig.RetType, params...)
	f.Sig = sig
	f.Typ = types.NewPointer(sig)

	idx := len(st.funcs)
	st.funcs = append(st.funcs, f)
	if name != "" {
		st.byName[name] = idx
	}
	st.touch()
	return Function{mod: m, idx: idx + 1}, nil
}

// LookupFunction returns the function with the given name. A missing
// function yields the null Function and a nil error.
func (m Module) LookupFunction(name string) (Function, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return Function{}, err
	}
	if idx, ok := st.byName[name]; ok {
		return Function{mod: m, idx: idx + 1}, nil
	}
	return Function{}, nil
}

// GetOrDeclare returns the existing function with the given name, or
// declares it with sig. An existing function is returned even when its
// type differs from sig.
func (m Module) GetOrDeclare(name string, sig *types.FuncType) (Function, error) {
	fn, err := m.LookupFunction(name)
	if err != nil || !fn.IsNull() {
		return fn, err
	}
	return m.AddFunction(name, sig)
}

// Functions returns every function of the module in declaration order.
func (m Module) Functions() ([]Function, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	out := make([]Function, len(st.funcs))
	for i := range st.funcs {
		out[i] = Function{mod: m, idx: i + 1}
	}
	return out, nil
}

// AddGlobal adds a global variable declaration of the given content type.
// A name already taken by a global or function gets a numeric suffix.
func (m Module) AddGlobal(typ types.Type, name string) (Global, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return Global{}, err
	}
	if typ == nil {
		return Global{}, errors.InvalidInput(errors.PhaseBuild, "nil global type")
	}
	name = st.uniqueGlobalName(name)
	g := st.ir.NewGlobal(name, typ)

	idx := len(st.globals)
	st.globals = append(st.globals, g)
	if name != "" {
		st.gByName[name] = idx
	}
	st.touch()
	return Global{mod: m, idx: idx + 1}, nil
}

// LookupGlobal returns the global with the given name, or the null Global.
func (m Module) LookupGlobal(name string) (Global, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return Global{}, err
	}
	if idx, ok := st.gByName[name]; ok {
		return Global{mod: m, idx: idx + 1}, nil
	}
	return Global{}, nil
}

// Globals returns every global of the module in declaration order.
func (m Module) Globals() ([]Global, error) {
	st, err := m.state(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	out := make([]Global, len(st.globals))
	for i := range st.globals {
		out[i] = Global{mod: m, idx: i + 1}
	}
	return out, nil
}

func (st *moduleState) uniqueGlobalName(name string) string {
	if name == "" {
		return name
	}
	taken := func(n string) bool {
		_, g := st.gByName[n]
		_, f := st.byName[n]
		return g || f
	}
	if !taken(name) {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s.%d", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// Global is a handle to a global variable of a module.
type Global struct {
	mod Module
	idx int
}

// IsNull reports whether g is the null global handle.
func (g Global) IsNull() bool { return g.idx == 0 }

// Module returns the owning module.
func (g Global) Module() Module { return g.mod }

func (g Global) native(phase errors.Phase) (*moduleState, *ir.Global, error) {
	if g.idx == 0 {
		return nil, nil, errors.NullHandle(phase, "global")
	}
	st, err := g.mod.state(phase)
	if err != nil {
		return nil, nil, err
	}
	return st, st.globals[g.idx-1], nil
}

// Native returns the toolkit global. Its value is a pointer to the content.
func (g Global) Native() (*ir.Global, error) {
	st, ng, err := g.native(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	st.escaped = true
	return ng, nil
}

// Name returns the global name, or "" for an invalid handle.
func (g Global) Name() string {
	_, ng, err := g.native(errors.PhaseBuild)
	if err != nil {
		return ""
	}
	return ng.Name()
}

// ContentType returns the type of the value stored in the global.
func (g Global) ContentType() (types.Type, error) {
	_, ng, err := g.native(errors.PhaseBuild)
	if err != nil {
		return nil, err
	}
	return ng.ContentType, nil
}

// SetInitializer sets the initial value. The constant type must equal the
// global content type.
func (g Global) SetInitializer(c constant.Constant) error {
	st, ng, err := g.native(errors.PhaseBuild)
	if err != nil {
		return err
	}
	if c == nil {
		return errors.InvalidInput(errors.PhaseBuild, "nil initializer")
	}
	if !c.Type().Equal(ng.ContentType) {
		return errors.New(errors.PhaseBuild, errors.KindTypeMismatch).
			Module(st.name).
			Path(ng.Name()).
			Detail("initializer of type %s for global of type %s", c.Type().LLString(), ng.ContentType.LLString()).
			Build()
	}
	ng.Init = c
	st.touch()
	return nil
}

// SetConstant marks the global as immutable.
func (g Global) SetConstant(immutable bool) error {
	st, ng, err := g.native(errors.PhaseBuild)
	if err != nil {
		return err
	}
	ng.Immutable = immutable
	st.touch()
	return nil
}
