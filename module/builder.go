package module

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/wippyai/irkit/errors"
)

// Builder appends instructions at the end of a block. It forwards to the
// toolkit block constructors. The first failure is sticky: later calls are
// no-ops returning nil and Err reports the failure.
type Builder struct {
	at  Block
	err error
}

// NewBuilder returns an unpositioned builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// PositionAtEnd moves the insertion point to the end of blk.
func (b *Builder) PositionAtEnd(blk Block) *Builder {
	if _, _, err := blk.resolve(errors.PhaseBuild); err != nil {
		b.fail(err)
		return b
	}
	b.at = blk
	return b
}

// Block returns the current insertion block.
func (b *Builder) Block() Block { return b.at }

// Err returns the first error encountered by the builder.
func (b *Builder) Err() error { return b.err }

// Reset clears the sticky error and the insertion point.
func (b *Builder) Reset() {
	b.at = Block{}
	b.err = nil
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// target validates the insertion point and operands.
func (b *Builder) target(op string, operands ...value.Value) (*moduleState, *ir.Block, bool) {
	if b.err != nil {
		return nil, nil, false
	}
	st, blk, err := b.at.resolve(errors.PhaseBuild)
	if err != nil {
		b.fail(err)
		return nil, nil, false
	}
	for i, v := range operands {
		if v == nil {
			b.fail(errors.New(errors.PhaseBuild, errors.KindInvalidInput).
				Function(blk.Parent.Name()).
				Path(blk.Name()).
				Detail("%s: operand %d is nil", op, i).
				Build())
			return nil, nil, false
		}
	}
	return st, blk, true
}

func (b *Builder) done(st *moduleState) {
	if st != nil {
		st.touch()
	}
}

// build runs mk against blk. The toolkit constructors panic on operands of
// incompatible types; such a panic becomes a type mismatch error and the
// block is left as it was.
func (b *Builder) build(op string, blk *ir.Block, mk func()) (ok bool) {
	n := len(blk.Insts)
	defer func() {
		if r := recover(); r != nil {
			blk.Insts = blk.Insts[:n]
			b.fail(errors.New(errors.PhaseBuild, errors.KindTypeMismatch).
				Function(blk.Parent.Name()).
				Path(blk.Name()).
				Detail("%s: %v", op, r).
				Build())
			ok = false
		}
	}()
	mk()
	return true
}

func (b *Builder) terminate(op string, operands ...value.Value) (*moduleState, *ir.Block, bool) {
	st, blk, ok := b.target(op, operands...)
	if !ok {
		return nil, nil, false
	}
	if blk.Term != nil {
		b.fail(errors.New(errors.PhaseBuild, errors.KindInvalidInput).
			Function(blk.Parent.Name()).
			Path(blk.Name()).
			Detail("%s: block already has a terminator", op).
			Build())
		return nil, nil, false
	}
	return st, blk, true
}

// Terminators

// Ret returns x from the function.
func (b *Builder) Ret(x value.Value) {
	if st, blk, ok := b.terminate("ret", x); ok {
		blk.NewRet(x)
		b.done(st)
	}
}

// RetVoid returns from a void function.
func (b *Builder) RetVoid() {
	if st, blk, ok := b.terminate("ret"); ok {
		blk.NewRet(nil)
		b.done(st)
	}
}

// Br branches unconditionally to dest.
func (b *Builder) Br(dest Block) {
	st, blk, ok := b.terminate("br")
	if !ok {
		return
	}
	d, ok := b.sameFunction("br", dest)
	if !ok {
		return
	}
	blk.NewBr(d)
	b.done(st)
}

// CondBr branches to then when cond is true and to els otherwise.
func (b *Builder) CondBr(cond value.Value, then, els Block) {
	st, blk, ok := b.terminate("br", cond)
	if !ok {
		return
	}
	t, ok := b.sameFunction("br", then)
	if !ok {
		return
	}
	e, ok := b.sameFunction("br", els)
	if !ok {
		return
	}
	blk.NewCondBr(cond, t, e)
	b.done(st)
}

// Unreachable marks the end of the block as unreachable.
func (b *Builder) Unreachable() {
	if st, blk, ok := b.terminate("unreachable"); ok {
		blk.NewUnreachable()
		b.done(st)
	}
}

func (b *Builder) sameFunction(op string, dest Block) (*ir.Block, bool) {
	_, d, err := dest.resolve(errors.PhaseBuild)
	if err != nil {
		b.fail(err)
		return nil, false
	}
	if d.Parent != b.at.blk.Parent {
		b.fail(errors.New(errors.PhaseBuild, errors.KindInvalidInput).
			Function(b.at.blk.Parent.Name()).
			Detail("%s: target block '%s' belongs to another function", op, d.Name()).
			Build())
		return nil, false
	}
	return d, true
}

// Binary operations

func (b *Builder) binary(op string, x, y value.Value, mk func(*ir.Block) value.Value) value.Value {
	st, blk, ok := b.target(op, x, y)
	if !ok {
		return nil
	}
	var v value.Value
	if !b.build(op, blk, func() { v = mk(blk) }) {
		return nil
	}
	b.done(st)
	return v
}

func (b *Builder) Add(x, y value.Value) value.Value {
	return b.binary("add", x, y, func(blk *ir.Block) value.Value { return blk.NewAdd(x, y) })
}

func (b *Builder) Sub(x, y value.Value) value.Value {
	return b.binary("sub", x, y, func(blk *ir.Block) value.Value { return blk.NewSub(x, y) })
}

func (b *Builder) Mul(x, y value.Value) value.Value {
	return b.binary("mul", x, y, func(blk *ir.Block) value.Value { return blk.NewMul(x, y) })
}

func (b *Builder) UDiv(x, y value.Value) value.Value {
	return b.binary("udiv", x, y, func(blk *ir.Block) value.Value { return blk.NewUDiv(x, y) })
}

func (b *Builder) SDiv(x, y value.Value) value.Value {
	return b.binary("sdiv", x, y, func(blk *ir.Block) value.Value { return blk.NewSDiv(x, y) })
}

func (b *Builder) URem(x, y value.Value) value.Value {
	return b.binary("urem", x, y, func(blk *ir.Block) value.Value { return blk.NewURem(x, y) })
}

func (b *Builder) SRem(x, y value.Value) value.Value {
	return b.binary("srem", x, y, func(blk *ir.Block) value.Value { return blk.NewSRem(x, y) })
}

func (b *Builder) Shl(x, y value.Value) value.Value {
	return b.binary("shl", x, y, func(blk *ir.Block) value.Value { return blk.NewShl(x, y) })
}

func (b *Builder) LShr(x, y value.Value) value.Value {
	return b.binary("lshr", x, y, func(blk *ir.Block) value.Value { return blk.NewLShr(x, y) })
}

func (b *Builder) AShr(x, y value.Value) value.Value {
	return b.binary("ashr", x, y, func(blk *ir.Block) value.Value { return blk.NewAShr(x, y) })
}

func (b *Builder) And(x, y value.Value) value.Value {
	return b.binary("and", x, y, func(blk *ir.Block) value.Value { return blk.NewAnd(x, y) })
}

func (b *Builder) Or(x, y value.Value) value.Value {
	return b.binary("or", x, y, func(blk *ir.Block) value.Value { return blk.NewOr(x, y) })
}

func (b *Builder) Xor(x, y value.Value) value.Value {
	return b.binary("xor", x, y, func(blk *ir.Block) value.Value { return blk.NewXor(x, y) })
}

func (b *Builder) FAdd(x, y value.Value) value.Value {
	return b.binary("fadd", x, y, func(blk *ir.Block) value.Value { return blk.NewFAdd(x, y) })
}

func (b *Builder) FSub(x, y value.Value) value.Value {
	return b.binary("fsub", x, y, func(blk *ir.Block) value.Value { return blk.NewFSub(x, y) })
}

func (b *Builder) FMul(x, y value.Value) value.Value {
	return b.binary("fmul", x, y, func(blk *ir.Block) value.Value { return blk.NewFMul(x, y) })
}

func (b *Builder) FDiv(x, y value.Value) value.Value {
	return b.binary("fdiv", x, y, func(blk *ir.Block) value.Value { return blk.NewFDiv(x, y) })
}

func (b *Builder) FRem(x, y value.Value) value.Value {
	return b.binary("frem", x, y, func(blk *ir.Block) value.Value { return blk.NewFRem(x, y) })
}

// Comparisons

func (b *Builder) ICmp(pred enum.IPred, x, y value.Value) value.Value {
	return b.binary("icmp", x, y, func(blk *ir.Block) value.Value { return blk.NewICmp(pred, x, y) })
}

func (b *Builder) FCmp(pred enum.FPred, x, y value.Value) value.Value {
	return b.binary("fcmp", x, y, func(blk *ir.Block) value.Value { return blk.NewFCmp(pred, x, y) })
}

// Conversions

func (b *Builder) cast(op string, from value.Value, to types.Type, mk func(*ir.Block) value.Value) value.Value {
	st, blk, ok := b.target(op, from)
	if !ok {
		return nil
	}
	if to == nil {
		b.fail(errors.InvalidInput(errors.PhaseBuild, op+": nil target type"))
		return nil
	}
	var v value.Value
	if !b.build(op, blk, func() { v = mk(blk) }) {
		return nil
	}
	b.done(st)
	return v
}

func (b *Builder) Trunc(v value.Value, to types.Type) value.Value {
	return b.cast("trunc", v, to, func(blk *ir.Block) value.Value { return blk.NewTrunc(v, to) })
}

func (b *Builder) ZExt(v value.Value, to types.Type) value.Value {
	return b.cast("zext", v, to, func(blk *ir.Block) value.Value { return blk.NewZExt(v, to) })
}

func (b *Builder) SExt(v value.Value, to types.Type) value.Value {
	return b.cast("sext", v, to, func(blk *ir.Block) value.Value { return blk.NewSExt(v, to) })
}

func (b *Builder) FPTrunc(v value.Value, to types.Type) value.Value {
	return b.cast("fptrunc", v, to, func(blk *ir.Block) value.Value { return blk.NewFPTrunc(v, to) })
}

func (b *Builder) FPExt(v value.Value, to types.Type) value.Value {
	return b.cast("fpext", v, to, func(blk *ir.Block) value.Value { return blk.NewFPExt(v, to) })
}

func (b *Builder) FPToUI(v value.Value, to types.Type) value.Value {
	return b.cast("fptoui", v, to, func(blk *ir.Block) value.Value { return blk.NewFPToUI(v, to) })
}

func (b *Builder) FPToSI(v value.Value, to types.Type) value.Value {
	return b.cast("fptosi", v, to, func(blk *ir.Block) value.Value { return blk.NewFPToSI(v, to) })
}

func (b *Builder) UIToFP(v value.Value, to types.Type) value.Value {
	return b.cast("uitofp", v, to, func(blk *ir.Block) value.Value { return blk.NewUIToFP(v, to) })
}

func (b *Builder) SIToFP(v value.Value, to types.Type) value.Value {
	return b.cast("sitofp", v, to, func(blk *ir.Block) value.Value { return blk.NewSIToFP(v, to) })
}

func (b *Builder) PtrToInt(v value.Value, to types.Type) value.Value {
	return b.cast("ptrtoint", v, to, func(blk *ir.Block) value.Value { return blk.NewPtrToInt(v, to) })
}

func (b *Builder) IntToPtr(v value.Value, to types.Type) value.Value {
	return b.cast("inttoptr", v, to, func(blk *ir.Block) value.Value { return blk.NewIntToPtr(v, to) })
}

func (b *Builder) BitCast(v value.Value, to types.Type) value.Value {
	return b.cast("bitcast", v, to, func(blk *ir.Block) value.Value { return blk.NewBitCast(v, to) })
}

// Memory

// Alloca reserves stack space for one value of type t and returns a pointer to it.
func (b *Builder) Alloca(t types.Type) value.Value {
	st, blk, ok := b.target("alloca")
	if !ok {
		return nil
	}
	if t == nil {
		b.fail(errors.InvalidInput(errors.PhaseBuild, "alloca: nil type"))
		return nil
	}
	v := blk.NewAlloca(t)
	b.done(st)
	return v
}

// Load reads a value of type t from ptr.
func (b *Builder) Load(t types.Type, ptr value.Value) value.Value {
	st, blk, ok := b.target("load", ptr)
	if !ok {
		return nil
	}
	if t == nil {
		b.fail(errors.InvalidInput(errors.PhaseBuild, "load: nil type"))
		return nil
	}
	var v value.Value
	if !b.build("load", blk, func() { v = blk.NewLoad(t, ptr) }) {
		return nil
	}
	b.done(st)
	return v
}

// Store writes v to ptr.
func (b *Builder) Store(v, ptr value.Value) {
	if st, blk, ok := b.target("store", v, ptr); ok {
		if b.build("store", blk, func() { blk.NewStore(v, ptr) }) {
			b.done(st)
		}
	}
}

// GEP computes the address of an element of an aggregate of type elem
// addressed by ptr. Struct indices must be i32 constants.
func (b *Builder) GEP(elem types.Type, ptr value.Value, indices ...value.Value) value.Value {
	st, blk, ok := b.target("getelementptr", append([]value.Value{ptr}, indices...)...)
	if !ok {
		return nil
	}
	if elem == nil {
		b.fail(errors.InvalidInput(errors.PhaseBuild, "getelementptr: nil element type"))
		return nil
	}
	var v value.Value
	if !b.build("getelementptr", blk, func() { v = blk.NewGetElementPtr(elem, ptr, indices...) }) {
		return nil
	}
	b.done(st)
	return v
}

// Calls

// Call calls fn with args. The result is nil-typed void for void functions.
func (b *Builder) Call(fn Function, args ...value.Value) value.Value {
	st, blk, ok := b.target("call", args...)
	if !ok {
		return nil
	}
	_, callee, err := fn.resolve(errors.PhaseBuild)
	if err != nil {
		b.fail(err)
		return nil
	}
	var v value.Value
	if !b.build("call", blk, func() { v = blk.NewCall(callee, args...) }) {
		return nil
	}
	b.done(st)
	return v
}

// Select yields t when cond is true and f otherwise.
func (b *Builder) Select(cond, t, f value.Value) value.Value {
	st, blk, ok := b.target("select", cond, t, f)
	if !ok {
		return nil
	}
	if !t.Type().Equal(f.Type()) {
		b.fail(errors.New(errors.PhaseBuild, errors.KindTypeMismatch).
			Function(blk.Parent.Name()).
			Path(blk.Name()).
			Detail("select: arms of type %s and %s", t.Type().LLString(), f.Type().LLString()).
			Build())
		return nil
	}
	var v value.Value
	if !b.build("select", blk, func() { v = blk.NewSelect(cond, t, f) }) {
		return nil
	}
	b.done(st)
	return v
}

// Phi nodes

// Phi creates a phi node of type t with no incoming values.
func (b *Builder) Phi(t types.Type) *ir.InstPhi {
	st, blk, ok := b.target("phi")
	if !ok {
		return nil
	}
	if t == nil {
		b.fail(errors.InvalidInput(errors.PhaseBuild, "phi: nil type"))
		return nil
	}
	phi := &ir.InstPhi{Typ: t}
	blk.Insts = append(blk.Insts, phi)
	b.done(st)
	return phi
}

// AddIncoming adds the value v flowing in from pred.
func (b *Builder) AddIncoming(phi *ir.InstPhi, v value.Value, pred Block) {
	if b.err != nil {
		return
	}
	if phi == nil || v == nil {
		b.fail(errors.InvalidInput(errors.PhaseBuild, "phi: nil incoming"))
		return
	}
	st, p, err := pred.resolve(errors.PhaseBuild)
	if err != nil {
		b.fail(err)
		return
	}
	phi.Incs = append(phi.Incs, ir.NewIncoming(v, p))
	b.done(st)
}
