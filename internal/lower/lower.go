// Package lower translates verified IR modules into WebAssembly images
// that the engine instantiates.
//
// Image layout:
//
//	address 0..7        reserved, null pointers never alias data
//	address 8..         globals, naturally aligned, initialized by one data segment
//	top of memory       stack, grows down from the initial __stack_pointer
//
// Defined functions are exported under their IR names. Declared functions
// become imports from the "env" module.
package lower

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/internal/opt"
	"github.com/wippyai/irkit/irtypes"
	"github.com/wippyai/irkit/wasm"
)

// Export names reserved by the image.
const (
	MemoryExport       = "__memory"
	StackPointerExport = "__stack_pointer"
	ExternModule       = "env"
)

// DataStart is the address of the first global.
const DataStart = 8

// DefaultStackSize is the stack reserved when Options.StackSize is zero.
const DefaultStackSize = 64 * 1024

// Options controls lowering.
type Options struct {
	// Module names the module in errors.
	Module    string
	Level     irkit.CodegenLevel
	StackSize uint32
}

// Func describes one function of the image.
type Func struct {
	Name     string
	Sig      *types.FuncType
	Index    uint32
	Declared bool
}

// Image is a lowered module.
type Image struct {
	Binary    []byte
	Module    *wasm.Module
	Funcs     map[string]*Func
	Externals []*Func
	Globals   map[string]uint32
	Pages     uint32
	StackTop  uint32
	Stats     opt.Stats
}

type lowerer struct {
	m       *ir.Module
	opts    Options
	out     *wasm.Module
	img     *Image
	funcIdx map[*ir.Func]uint32
	addrs   map[*ir.Global]uint32
}

// Lower builds the image for m. m must verify.
func Lower(m *ir.Module, opts Options) (*Image, error) {
	if opts.StackSize == 0 {
		opts.StackSize = DefaultStackSize
	}
	l := &lowerer{
		m:    m,
		opts: opts,
		out:  &wasm.Module{},
		img: &Image{
			Funcs:   make(map[string]*Func),
			Globals: make(map[string]uint32),
		},
		funcIdx: make(map[*ir.Func]uint32),
		addrs:   make(map[*ir.Global]uint32),
	}
	if err := l.declare(); err != nil {
		return nil, err
	}
	if err := l.layout(); err != nil {
		return nil, err
	}
	if err := l.bodies(); err != nil {
		return nil, err
	}
	if err := l.exports(); err != nil {
		return nil, err
	}
	if err := l.out.Validate(); err != nil {
		return nil, errors.New(errors.PhaseLower, errors.KindInvalidInput).
			Module(opts.Module).
			Cause(err).
			Detail("invalid image").
			Build()
	}
	l.img.Module = l.out
	l.img.Binary = l.out.Encode()
	return l.img, nil
}

func (l *lowerer) unsupported(fn, format string, args ...any) error {
	err := errors.Unsupported(errors.PhaseLower, fmt.Sprintf(format, args...))
	err.Module = l.opts.Module
	err.Function = fn
	return err
}

// signature maps an IR signature to a wasm function type.
func (l *lowerer) signature(f *ir.Func) (wasm.FuncType, error) {
	sig := f.Sig
	if sig.Variadic {
		return wasm.FuncType{}, l.unsupported(f.Name(), "variadic functions")
	}
	var ft wasm.FuncType
	for _, p := range sig.Params {
		vt, ok := ValType(p)
		if !ok {
			return ft, l.unsupported(f.Name(), "parameter type %s", p.LLString())
		}
		ft.Params = append(ft.Params, vt)
	}
	if !irtypes.IsVoid(sig.RetType) {
		vt, ok := ValType(sig.RetType)
		if !ok {
			return ft, l.unsupported(f.Name(), "return type %s", sig.RetType.LLString())
		}
		ft.Results = []wasm.ValType{vt}
	}
	return ft, nil
}

// declare assigns function indices. Imports come first.
func (l *lowerer) declare() error {
	var defined []*ir.Func
	for _, f := range l.m.Funcs {
		ft, err := l.signature(f)
		if err != nil {
			return err
		}
		typeIdx := l.out.AddType(ft)
		if len(f.Blocks) > 0 {
			defined = append(defined, f)
			l.out.Funcs = append(l.out.Funcs, typeIdx)
			continue
		}
		idx := uint32(len(l.out.Imports))
		l.out.Imports = append(l.out.Imports, wasm.Import{Module: ExternModule, Name: f.Name(), TypeIdx: typeIdx})
		l.funcIdx[f] = idx
		info := &Func{Name: f.Name(), Sig: f.Sig, Index: idx, Declared: true}
		l.img.Funcs[f.Name()] = info
		l.img.Externals = append(l.img.Externals, info)
	}
	base := uint32(len(l.out.Imports))
	for i, f := range defined {
		idx := base + uint32(i)
		l.funcIdx[f] = idx
		l.img.Funcs[f.Name()] = &Func{Name: f.Name(), Sig: f.Sig, Index: idx}
	}
	return nil
}

// layout places globals in memory and sizes the memory.
func (l *lowerer) layout() error {
	addr := uint64(DataStart)
	for _, g := range l.m.Globals {
		content := g.ContentType
		size := irtypes.SizeOf(content, PointerSize)
		addr = irtypes.AlignUp(addr, irtypes.AlignOf(content, PointerSize))
		l.addrs[g] = uint32(addr)
		l.img.Globals[g.Name()] = uint32(addr)
		addr += size
	}
	end := irtypes.AlignUp(addr, 16)

	data := make([]byte, end-DataStart)
	for _, g := range l.m.Globals {
		if g.Init == nil {
			continue
		}
		if err := l.encodeConst(data, uint64(l.addrs[g])-DataStart, g.Init); err != nil {
			return l.unsupported("", "initializer of @%s: %v", g.Name(), err)
		}
	}
	if len(data) > 0 {
		l.out.Data = append(l.out.Data, wasm.DataSegment{Offset: DataStart, Init: data})
	}

	total := end + uint64(l.opts.StackSize)
	pages := (total + wasm.PageSize - 1) / wasm.PageSize
	if pages > 65535 {
		return l.unsupported("", "image needs %d pages of memory", pages)
	}
	limit := pages
	l.out.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: pages, Max: &limit}}}
	l.img.Pages = uint32(pages)
	l.img.StackTop = uint32(pages * wasm.PageSize)

	l.out.Globals = append(l.out.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
		Init: wasm.ConstI32(int32(l.img.StackTop)),
	})
	return nil
}

func (l *lowerer) bodies() error {
	for _, f := range l.m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		plan := opt.Analyze(f, l.opts.Level)
		body, err := newFuncLowerer(l, f, plan).lower()
		if err != nil {
			return err
		}
		l.out.Code = append(l.out.Code, body)

		l.img.Stats.Add(plan.Stats())
	}
	return nil
}

func (l *lowerer) exports() error {
	for _, f := range l.m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		if f.Name() == MemoryExport || f.Name() == StackPointerExport {
			return l.unsupported(f.Name(), "function name is reserved")
		}
		l.out.Exports = append(l.out.Exports, wasm.Export{Name: f.Name(), Kind: wasm.KindFunc, Idx: l.funcIdx[f]})
	}
	l.out.Exports = append(l.out.Exports,
		wasm.Export{Name: MemoryExport, Kind: wasm.KindMemory, Idx: 0},
		wasm.Export{Name: StackPointerExport, Kind: wasm.KindGlobal, Idx: 0},
	)
	return nil
}
