package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/llir/llvm/ir"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"golang.org/x/sys/cpu"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/internal/lower"
	"github.com/wippyai/irkit/irtypes"
	"github.com/wippyai/irkit/module"
)

// Mode selects the execution backend.
type Mode uint8

const (
	ModeInterpreter Mode = iota
	ModeJIT
)

func (m Mode) String() string {
	switch m {
	case ModeInterpreter:
		return "interpreter"
	case ModeJIT:
		return "jit"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// External implements a declared function. It receives the arguments of
// the call and returns the result; the result is ignored for void functions.
// Returning an error traps the running function.
type External func(ctx context.Context, args []GenericValue) (GenericValue, error)

// Config holds configuration for engine creation
type Config struct {
	// Mode selects the interpreter or the compiler backend.
	Mode Mode

	// OptLevel selects the optimizations applied while lowering.
	// NewInterpreter uses O0.
	OptLevel irkit.CodegenLevel

	// MemoryLimitPages sets the maximum memory in pages (64KB each).
	// 0 means the wazero default. Images needing more pages than the
	// limit fail to instantiate.
	MemoryLimitPages uint32

	// StackSize is the guest stack reserved for allocas, in bytes.
	// 0 means 64KB.
	StackSize uint32

	// CloseOnContextDone aborts a running function when the context passed
	// to Run is cancelled. Off by default: runs are not interruptible.
	CloseOnContextDone bool

	// Externals implements declared functions by name.
	Externals map[string]External
}

var (
	cacheOnce sync.Once
	cache     wazero.CompilationCache
)

// sharedCache returns the process-wide compilation cache.
func sharedCache() wazero.CompilationCache {
	cacheOnce.Do(func() {
		cache = wazero.NewCompilationCache()
	})
	return cache
}

// JITSupported reports whether the host has a wazero compiler backend.
func JITSupported() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "netbsd", "dragonfly", "windows":
	default:
		return false
	}
	switch runtime.GOARCH {
	case "arm64":
		return true
	case "amd64":
		return cpu.X86.HasSSE41
	}
	return false
}

// Engine executes the functions of one module. Runs are serialized. The
// memory accessors do not wait for a running function, so Externals may
// call them.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	mod      module.Module
	name     string
	native   *ir.Module
	revision uint64
	image    *lower.Image
	runtime  wazero.Runtime
	instance api.Module
	sp       api.MutableGlobal
	memory   api.Memory
	closed   atomic.Bool
}

// NewInterpreter builds an interpreter for m.
func NewInterpreter(ctx context.Context, m module.Module) (*Engine, error) {
	return New(ctx, m, Config{Mode: ModeInterpreter})
}

// NewJIT builds a JIT for m at the given optimization level.
func NewJIT(ctx context.Context, m module.Module, level irkit.CodegenLevel) (*Engine, error) {
	return New(ctx, m, Config{Mode: ModeJIT, OptLevel: level})
}

// New builds an engine for m. The module is verified and lowered; the
// engine is bound to the module revision current at this point.
func New(ctx context.Context, m module.Module, cfg Config) (*Engine, error) {
	if m.IsNull() {
		return nil, errors.NullHandle(errors.PhaseEngine, "module")
	}
	revision, err := m.Revision()
	if err != nil {
		return nil, errors.StaleHandle(errors.PhaseEngine, "module")
	}
	native, err := m.Native()
	if err != nil {
		return nil, errors.StaleHandle(errors.PhaseEngine, "module")
	}

	var runtimeCfg wazero.RuntimeConfig
	switch cfg.Mode {
	case ModeInterpreter:
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	case ModeJIT:
		if !JITSupported() {
			return nil, errors.NoTarget(errors.PhaseEngine,
				fmt.Sprintf("no JIT backend for %s/%s", runtime.GOOS, runtime.GOARCH))
		}
		runtimeCfg = wazero.NewRuntimeConfigCompiler()
	default:
		return nil, errors.InvalidInput(errors.PhaseEngine, fmt.Sprintf("unknown engine mode %s", cfg.Mode))
	}

	if err := m.Verify(); err != nil {
		return nil, err
	}

	img, err := lower.Lower(native, lower.Options{
		Module:    m.Name(),
		Level:     cfg.OptLevel,
		StackSize: cfg.StackSize,
	})
	if err != nil {
		return nil, err
	}

	runtimeCfg = runtimeCfg.WithCompilationCache(sharedCache())
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.CloseOnContextDone {
		runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)
	}

	e := &Engine{
		cfg:      cfg,
		mod:      m,
		name:     m.Name(),
		native:   native,
		revision: revision,
		image:    img,
		runtime:  wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
	}
	if err := e.instantiate(ctx); err != nil {
		e.runtime.Close(ctx)
		return nil, err
	}

	Logger().Debug("engine created",
		zap.String("module", e.name),
		zap.Stringer("mode", cfg.Mode),
		zap.Stringer("level", cfg.OptLevel),
		zap.Uint32("pages", img.Pages),
		zap.Int("externals", len(img.Externals)),
		zap.Int("folded", img.Stats.Folded),
		zap.Int("dead", img.Stats.Dead))
	return e, nil
}

func (e *Engine) instantiate(ctx context.Context) error {
	if err := e.linkExternals(ctx); err != nil {
		return errors.Instantiation(e.name, err)
	}
	inst, err := e.runtime.InstantiateWithConfig(ctx, e.image.Binary,
		wazero.NewModuleConfig().WithStartFunctions())
	if err != nil {
		return errors.Instantiation(e.name, err)
	}
	sp, ok := inst.ExportedGlobal(lower.StackPointerExport).(api.MutableGlobal)
	if !ok {
		return errors.Instantiation(e.name, fmt.Errorf("image does not export %s", lower.StackPointerExport))
	}
	mem := inst.ExportedMemory(lower.MemoryExport)
	if mem == nil {
		return errors.Instantiation(e.name, fmt.Errorf("image does not export %s", lower.MemoryExport))
	}
	e.instance = inst
	e.sp = sp
	e.memory = mem
	return nil
}

// Mode returns the backend the engine runs on.
func (e *Engine) Mode() Mode { return e.cfg.Mode }

// Module returns the bound module.
func (e *Engine) Module() module.Module { return e.mod }

// OptLevel returns the optimization level the module was lowered at.
func (e *Engine) OptLevel() irkit.CodegenLevel { return e.cfg.OptLevel }

// check validates the engine binding before use.
func (e *Engine) check() error {
	if e.closed.Load() {
		return errors.StaleHandle(errors.PhaseExecute, "engine")
	}
	rev, err := e.mod.Revision()
	if err != nil {
		return errors.New(errors.PhaseExecute, errors.KindStaleHandle).
			Module(e.name).
			Detail("module was disposed").
			Build()
	}
	if rev != e.revision {
		return errors.New(errors.PhaseExecute, errors.KindStaleHandle).
			Module(e.name).
			Detail("module modified since the engine was built (revision %d, now %d)", e.revision, rev).
			Build()
	}
	return nil
}

// resolve maps fn to a function of the bound module.
func (e *Engine) resolve(fn module.Function) (*ir.Func, error) {
	if fn.IsNull() {
		return nil, errors.NullHandle(errors.PhaseExecute, "function")
	}
	if !fn.IsBare() && fn.Module() != e.mod {
		return nil, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			Module(e.name).
			Function(fn.Name()).
			Detail("function does not belong to the engine's module").
			Build()
	}
	f, err := fn.Native()
	if err != nil {
		return nil, err
	}
	for _, own := range e.native.Funcs {
		if own == f {
			return f, nil
		}
	}
	return nil, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
		Module(e.name).
		Function(f.Name()).
		Detail("function does not belong to the engine's module").
		Build()
}

// Run executes fn with args and waits for the result. Traps raised by the
// function are returned as trap errors; the engine stays usable.
func (e *Engine) Run(ctx context.Context, fn module.Function, args ...GenericValue) (FuncallResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.check(); err != nil {
		return FuncallResult{}, err
	}
	f, err := e.resolve(fn)
	if err != nil {
		return FuncallResult{}, err
	}
	return e.call(ctx, f, args)
}

// RunByName executes the function called name.
func (e *Engine) RunByName(ctx context.Context, name string, args ...GenericValue) (FuncallResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.check(); err != nil {
		return FuncallResult{}, err
	}
	for _, f := range e.native.Funcs {
		if f.Name() == name {
			return e.call(ctx, f, args)
		}
	}
	return FuncallResult{}, errors.NotFound(errors.PhaseExecute, "function", name)
}

func (e *Engine) call(ctx context.Context, f *ir.Func, args []GenericValue) (FuncallResult, error) {
	name := f.Name()
	info := e.image.Funcs[name]
	if info == nil || info.Declared {
		return FuncallResult{}, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			Module(e.name).
			Function(name).
			Detail("function has no body").
			Build()
	}
	if len(args) != len(f.Sig.Params) {
		return FuncallResult{}, errors.New(errors.PhaseExecute, errors.KindInvalidInput).
			Module(e.name).
			Function(name).
			Detail("called with %d arguments, expected %d", len(args), len(f.Sig.Params)).
			Build()
	}
	raw := make([]uint64, len(args))
	for i, arg := range args {
		want := f.Sig.Params[i]
		if !accepts(want, arg.typ) {
			err := errors.TypeMismatch(errors.PhaseExecute, []string{name, fmt.Sprintf("arg%d", i)},
				irtypes.String(want), irtypes.String(arg.typ))
			err.Function = name
			return FuncallResult{}, err
		}
		raw[i] = arg.raw()
	}

	exported := e.instance.ExportedFunction(name)
	if exported == nil {
		return FuncallResult{}, errors.NotFound(errors.PhaseExecute, "function", name)
	}
	e.sp.Set(uint64(e.image.StackTop))
	debugf("run %s(%v)", name, args)

	results, err := exported.Call(ctx, raw...)
	if err != nil {
		Logger().Debug("function trapped", zap.String("module", e.name), zap.String("function", name), zap.Error(err))
		return FuncallResult{}, errors.Trap(name, err)
	}
	if irtypes.IsVoid(f.Sig.RetType) {
		return FuncallResult{void: true}, nil
	}
	if len(results) != 1 {
		return FuncallResult{}, errors.Trap(name, fmt.Errorf("expected 1 result, got %d", len(results)))
	}
	return FuncallResult{value: fromRaw(f.Sig.RetType, results[0])}, nil
}

// GlobalAddress returns the guest address of a global variable.
func (e *Engine) GlobalAddress(name string) (uint32, error) {
	if e.closed.Load() {
		return 0, errors.StaleHandle(errors.PhaseExecute, "engine")
	}
	addr, ok := e.image.Globals[name]
	if !ok {
		return 0, errors.NotFound(errors.PhaseExecute, "global", name)
	}
	return addr, nil
}

// ReadMemory copies size bytes at addr out of the engine's memory.
func (e *Engine) ReadMemory(addr, size uint32) ([]byte, error) {
	if e.closed.Load() {
		return nil, errors.StaleHandle(errors.PhaseExecute, "engine")
	}
	buf, ok := e.memory.Read(addr, size)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseExecute, []string{"memory"}, int(addr)+int(size), int(e.memory.Size()))
	}
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

// WriteMemory copies data into the engine's memory at addr.
func (e *Engine) WriteMemory(addr uint32, data []byte) error {
	if e.closed.Load() {
		return errors.StaleHandle(errors.PhaseExecute, "engine")
	}
	if !e.memory.Write(addr, data) {
		return errors.OutOfBounds(errors.PhaseExecute, []string{"memory"}, int(addr)+len(data), int(e.memory.Size()))
	}
	return nil
}

// Close releases the engine. Closing twice is a no-op.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed.Swap(true) {
		return nil
	}
	Logger().Debug("engine closed", zap.String("module", e.name))
	return e.runtime.Close(ctx)
}
