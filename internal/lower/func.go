package lower

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/wippyai/irkit/internal/irutil"
	"github.com/wippyai/irkit/internal/opt"
	"github.com/wippyai/irkit/irconst"
	"github.com/wippyai/irkit/irtypes"
	"github.com/wippyai/irkit/wasm"
)

// funcLowerer emits one function body.
//
// Blocks are dispatched from a loop: the local bb holds the index of the
// next block and a br_table at the top of the loop selects it. Branching
// to the block laid out next falls through without a dispatch.
type funcLowerer struct {
	l    *lowerer
	f    *ir.Func
	plan *opt.Plan
	code *wasm.Code

	locals map[value.Value]uint32
	extra  []wasm.ValType
	next   uint32

	bb       uint32
	fp       uint32
	hasFrame bool

	index map[*ir.Block]int
	cur   int
	err   error
}

func newFuncLowerer(l *lowerer, f *ir.Func, plan *opt.Plan) *funcLowerer {
	return &funcLowerer{
		l:      l,
		f:      f,
		plan:   plan,
		code:   wasm.NewCode(),
		locals: make(map[value.Value]uint32),
		index:  make(map[*ir.Block]int, len(f.Blocks)),
	}
}

func (fl *funcLowerer) fail(format string, args ...any) {
	if fl.err == nil {
		fl.err = fl.l.unsupported(fl.f.Name(), format, args...)
	}
}

func (fl *funcLowerer) newLocal(vt wasm.ValType) uint32 {
	idx := fl.next
	fl.next++
	fl.extra = append(fl.extra, vt)
	return idx
}

func (fl *funcLowerer) allocate() {
	for i, p := range fl.f.Params {
		fl.locals[p] = uint32(i)
	}
	fl.next = uint32(len(fl.f.Params))

	for i, blk := range fl.f.Blocks {
		fl.index[blk] = i
		for _, inst := range blk.Insts {
			if _, ok := inst.(*ir.InstAlloca); ok {
				fl.hasFrame = true
			}
			v, ok := inst.(value.Value)
			if !ok || irtypes.IsVoid(v.Type()) || fl.plan.Skip(inst) {
				continue
			}
			s, ok := classify(v.Type())
			if !ok {
				fl.fail("values of type %s", v.Type().LLString())
				return
			}
			fl.locals[v] = fl.newLocal(s.vt)
		}
	}
	fl.bb = fl.newLocal(wasm.ValI32)
	if fl.hasFrame {
		fl.fp = fl.newLocal(wasm.ValI32)
	}
}

func (fl *funcLowerer) lower() (wasm.FuncBody, error) {
	fl.allocate()
	if fl.err != nil {
		return wasm.FuncBody{}, fl.err
	}

	c := fl.code
	if fl.hasFrame {
		c.GlobalGet(0).LocalSet(fl.fp)
	}
	n := len(fl.f.Blocks)
	if n == 1 {
		fl.block(0)
	} else {
		c.Loop()
		labels := make([]uint32, n)
		for i := 0; i < n; i++ {
			c.Block()
			labels[i] = uint32(i)
		}
		c.LocalGet(fl.bb).BrTable(labels, 0)
		for k := 0; k < n; k++ {
			c.End()
			fl.block(k)
		}
		c.End()
	}
	c.Op(wasm.OpUnreachable).End()
	if fl.err != nil {
		return wasm.FuncBody{}, fl.err
	}

	body := wasm.FuncBody{Code: c.Bytes()}
	for _, vt := range fl.extra {
		if k := len(body.Locals); k > 0 && body.Locals[k-1].ValType == vt {
			body.Locals[k-1].Count++
			continue
		}
		body.Locals = append(body.Locals, wasm.LocalEntry{Count: 1, ValType: vt})
	}
	return body, nil
}

func (fl *funcLowerer) block(k int) {
	fl.cur = k
	blk := fl.f.Blocks[k]
	if !fl.plan.Reachable(blk) {
		fl.code.Op(wasm.OpUnreachable)
		return
	}
	for _, inst := range blk.Insts {
		if fl.err != nil {
			return
		}
		fl.inst(inst)
	}
	term := blk.Term
	if term == nil {
		term = irutil.ImplicitTerminator(fl.f)
	}
	fl.term(blk, term)
}

// value pushes v.
func (fl *funcLowerer) value(v value.Value) {
	if c, ok := fl.plan.Constant(v); ok {
		v = c
	}
	if idx, ok := fl.locals[v]; ok {
		fl.code.LocalGet(idx)
		return
	}
	switch c := v.(type) {
	case *constant.Int:
		s, ok := classify(c.Typ)
		if !ok {
			fl.fail("constants of type %s", c.Typ.LLString())
			return
		}
		fl.intConst(s, irconst.Bits(c))
	case *constant.Float:
		switch c.Typ.Kind {
		case types.FloatKindFloat:
			fl.code.F32Const(float32(irconst.FloatValue(c)))
		case types.FloatKindDouble:
			fl.code.F64Const(irconst.FloatValue(c))
		default:
			fl.fail("constants of type %s", c.Typ.LLString())
		}
	case *constant.Null:
		fl.code.I32Const(0)
	case *constant.ZeroInitializer, *constant.Undef:
		s, ok := classify(v.Type())
		if !ok {
			fl.fail("constants of type %s", v.Type().LLString())
			return
		}
		fl.zero(s)
	case *ir.Global:
		fl.code.I32Const(int32(fl.l.addrs[c]))
	case *ir.Func:
		fl.fail("function pointers")
	case *constant.ExprGetElementPtr, *constant.ExprBitCast:
		base, off, err := irutil.ConstAddress(v.(constant.Constant), PointerSize)
		if err != nil {
			fl.fail("%v", err)
			return
		}
		g, ok := base.(*ir.Global)
		if !ok {
			fl.fail("function pointers")
			return
		}
		fl.code.I32Const(int32(int64(fl.l.addrs[g]) + off))
	default:
		fl.fail("operand %s", v.Ident())
	}
}

func (fl *funcLowerer) intConst(s scalar, bits uint64) {
	if s.vt == wasm.ValI64 {
		fl.code.I64Const(int64(bits))
		return
	}
	fl.code.I32Const(int32(uint32(bits)))
}

func (fl *funcLowerer) zero(s scalar) {
	switch s.vt {
	case wasm.ValI64:
		fl.code.I64Const(0)
	case wasm.ValF32:
		fl.code.F32Const(0)
	case wasm.ValF64:
		fl.code.F64Const(0)
	default:
		fl.code.I32Const(0)
	}
}

// mask clears the bits above the width of a narrow integer.
func (fl *funcLowerer) mask(s scalar) {
	if !s.narrow() {
		return
	}
	m := uint64(1)<<s.bits - 1
	if s.vt == wasm.ValI64 {
		fl.code.I64Const(int64(m)).Op(wasm.OpI64And)
		return
	}
	fl.code.I32Const(int32(uint32(m))).Op(wasm.OpI32And)
}

// sext sign-extends a narrow integer to its container.
func (fl *funcLowerer) sext(s scalar) {
	if !s.narrow() {
		return
	}
	c := fl.code
	if s.vt == wasm.ValI64 {
		switch s.bits {
		case 8:
			c.Op(wasm.OpI64Extend8S)
		case 16:
			c.Op(wasm.OpI64Extend16S)
		case 32:
			c.Op(wasm.OpI64Extend32S)
		default:
			sh := int64(64 - s.bits)
			c.I64Const(sh).Op(wasm.OpI64Shl).I64Const(sh).Op(wasm.OpI64ShrS)
		}
		return
	}
	switch s.bits {
	case 8:
		c.Op(wasm.OpI32Extend8S)
	case 16:
		c.Op(wasm.OpI32Extend16S)
	default:
		sh := int32(32 - s.bits)
		c.I32Const(sh).Op(wasm.OpI32Shl).I32Const(sh).Op(wasm.OpI32ShrS)
	}
}

// set stores the value on top of the stack into the local of v.
func (fl *funcLowerer) set(v value.Value) {
	if idx, ok := fl.locals[v]; ok {
		fl.code.LocalSet(idx)
		return
	}
	fl.code.Op(wasm.OpDrop)
}

func (fl *funcLowerer) inst(inst ir.Instruction) {
	if fl.plan.Skip(inst) {
		return
	}
	switch inst := inst.(type) {
	case *ir.InstPhi:
		// Assigned on the incoming edges.
	case *ir.InstAlloca:
		fl.alloca(inst)
	case *ir.InstLoad:
		fl.load(inst)
	case *ir.InstStore:
		fl.store(inst)
	case *ir.InstCall:
		fl.call(inst)
	case *ir.InstICmp:
		fl.icmp(inst)
	case *ir.InstFCmp:
		fl.fcmp(inst)
	case *ir.InstGetElementPtr:
		fl.gep(inst)
	case *ir.InstSelect:
		fl.selectInst(inst)
	default:
		if op, x, y, ok := irutil.Binary(inst); ok {
			fl.binary(inst.(value.Value), op, x, y)
			return
		}
		if from, to, ok := irutil.Cast(inst); ok {
			fl.cast(inst, from, to)
			return
		}
		fl.fail("instruction %s", inst.LLString())
	}
}

func (fl *funcLowerer) binary(v value.Value, op irutil.BinOp, x, y value.Value) {
	s, ok := classify(x.Type())
	if !ok {
		fl.fail("operands of type %s", x.Type().LLString())
		return
	}
	c := fl.code
	if op.IsFloat() {
		var code byte
		switch op {
		case irutil.OpFAdd:
			code = wasm.OpF32Add
		case irutil.OpFSub:
			code = wasm.OpF32Sub
		case irutil.OpFMul:
			code = wasm.OpF32Mul
		case irutil.OpFDiv:
			code = wasm.OpF32Div
		default:
			fl.fail("frem")
			return
		}
		if s.wide() {
			code += wasm.F64Delta
		}
		fl.value(x)
		fl.value(y)
		c.Op(code)
		fl.set(v)
		return
	}

	var code byte
	signed, masked := false, false
	switch op {
	case irutil.OpAdd:
		code, masked = wasm.OpI32Add, true
	case irutil.OpSub:
		code, masked = wasm.OpI32Sub, true
	case irutil.OpMul:
		code, masked = wasm.OpI32Mul, true
	case irutil.OpShl:
		code, masked = wasm.OpI32Shl, true
	case irutil.OpUDiv:
		code = wasm.OpI32DivU
	case irutil.OpURem:
		code = wasm.OpI32RemU
	case irutil.OpLShr:
		code = wasm.OpI32ShrU
	case irutil.OpAnd:
		code = wasm.OpI32And
	case irutil.OpOr:
		code = wasm.OpI32Or
	case irutil.OpXor:
		code = wasm.OpI32Xor
	case irutil.OpSDiv:
		code, signed, masked = wasm.OpI32DivS, true, true
	case irutil.OpSRem:
		code, signed, masked = wasm.OpI32RemS, true, true
	case irutil.OpAShr:
		code, signed, masked = wasm.OpI32ShrS, true, true
	}
	if s.wide() {
		code += wasm.I64Delta
	}
	fl.value(x)
	if signed {
		fl.sext(s)
	}
	fl.value(y)
	if signed && op != irutil.OpAShr {
		fl.sext(s)
	}
	c.Op(code)
	if masked {
		fl.mask(s)
	}
	fl.set(v)
}

const (
	cmpI64Delta = wasm.OpI64Eq - wasm.OpI32Eq
	cmpF64Delta = wasm.OpF64Eq - wasm.OpF32Eq
)

func (fl *funcLowerer) icmp(inst *ir.InstICmp) {
	s, ok := classify(inst.X.Type())
	if !ok {
		fl.fail("comparison of %s", inst.X.Type().LLString())
		return
	}
	var code byte
	signed := false
	switch inst.Pred {
	case enum.IPredEQ:
		code = wasm.OpI32Eq
	case enum.IPredNE:
		code = wasm.OpI32Ne
	case enum.IPredULT:
		code = wasm.OpI32LtU
	case enum.IPredULE:
		code = wasm.OpI32LeU
	case enum.IPredUGT:
		code = wasm.OpI32GtU
	case enum.IPredUGE:
		code = wasm.OpI32GeU
	case enum.IPredSLT:
		code, signed = wasm.OpI32LtS, true
	case enum.IPredSLE:
		code, signed = wasm.OpI32LeS, true
	case enum.IPredSGT:
		code, signed = wasm.OpI32GtS, true
	case enum.IPredSGE:
		code, signed = wasm.OpI32GeS, true
	}
	if s.wide() {
		code += cmpI64Delta
	}
	fl.value(inst.X)
	if signed {
		fl.sext(s)
	}
	fl.value(inst.Y)
	if signed {
		fl.sext(s)
	}
	fl.code.Op(code)
	fl.set(inst)
}

func (fl *funcLowerer) fcmp(inst *ir.InstFCmp) {
	s, ok := classify(inst.X.Type())
	if !ok {
		fl.fail("comparison of %s", inst.X.Type().LLString())
		return
	}
	op := func(code byte) byte {
		if s.wide() {
			return code + cmpF64Delta
		}
		return code
	}
	c := fl.code
	cmp := func(code byte, x, y value.Value) {
		fl.value(x)
		fl.value(y)
		c.Op(op(code))
	}
	x, y := inst.X, inst.Y
	switch inst.Pred {
	case enum.FPredFalse:
		c.I32Const(0)
	case enum.FPredTrue:
		c.I32Const(1)
	case enum.FPredOEQ:
		cmp(wasm.OpF32Eq, x, y)
	case enum.FPredOGT:
		cmp(wasm.OpF32Gt, x, y)
	case enum.FPredOGE:
		cmp(wasm.OpF32Ge, x, y)
	case enum.FPredOLT:
		cmp(wasm.OpF32Lt, x, y)
	case enum.FPredOLE:
		cmp(wasm.OpF32Le, x, y)
	case enum.FPredUNE:
		cmp(wasm.OpF32Ne, x, y)
	case enum.FPredONE, enum.FPredUEQ:
		cmp(wasm.OpF32Lt, x, y)
		cmp(wasm.OpF32Gt, x, y)
		c.Op(wasm.OpI32Or)
		if inst.Pred == enum.FPredUEQ {
			c.Op(wasm.OpI32Eqz)
		}
	case enum.FPredUGT:
		cmp(wasm.OpF32Le, x, y)
		c.Op(wasm.OpI32Eqz)
	case enum.FPredUGE:
		cmp(wasm.OpF32Lt, x, y)
		c.Op(wasm.OpI32Eqz)
	case enum.FPredULT:
		cmp(wasm.OpF32Ge, x, y)
		c.Op(wasm.OpI32Eqz)
	case enum.FPredULE:
		cmp(wasm.OpF32Gt, x, y)
		c.Op(wasm.OpI32Eqz)
	case enum.FPredORD:
		cmp(wasm.OpF32Eq, x, x)
		cmp(wasm.OpF32Eq, y, y)
		c.Op(wasm.OpI32And)
	case enum.FPredUNO:
		cmp(wasm.OpF32Ne, x, x)
		cmp(wasm.OpF32Ne, y, y)
		c.Op(wasm.OpI32Or)
	default:
		fl.fail("fcmp predicate %s", inst.Pred)
		return
	}
	fl.set(inst)
}

func (fl *funcLowerer) cast(inst ir.Instruction, from value.Value, to types.Type) {
	src, ok := classify(from.Type())
	if !ok {
		fl.fail("conversion from %s", from.Type().LLString())
		return
	}
	dst, ok := classify(to)
	if !ok {
		fl.fail("conversion to %s", to.LLString())
		return
	}
	c := fl.code
	fl.value(from)

	switch inst.(type) {
	case *ir.InstTrunc:
		if src.vt == wasm.ValI64 && dst.vt == wasm.ValI32 {
			c.Op(wasm.OpI32WrapI64)
		}
		fl.mask(dst)
	case *ir.InstZExt, *ir.InstPtrToInt:
		if src.vt == wasm.ValI32 && dst.vt == wasm.ValI64 {
			c.Op(wasm.OpI64ExtendI32U)
		} else if src.vt == wasm.ValI64 && dst.vt == wasm.ValI32 {
			c.Op(wasm.OpI32WrapI64)
		}
		fl.mask(dst)
	case *ir.InstIntToPtr:
		if src.vt == wasm.ValI64 {
			c.Op(wasm.OpI32WrapI64)
		}
	case *ir.InstSExt:
		fl.sext(src)
		if src.vt == wasm.ValI32 && dst.vt == wasm.ValI64 {
			c.Op(wasm.OpI64ExtendI32S)
		}
		fl.mask(dst)
	case *ir.InstFPTrunc:
		if src.vt == wasm.ValF64 && dst.vt == wasm.ValF32 {
			c.Op(wasm.OpF32DemoteF64)
		}
	case *ir.InstFPExt:
		if src.vt == wasm.ValF32 && dst.vt == wasm.ValF64 {
			c.Op(wasm.OpF64PromoteF32)
		}
	case *ir.InstFPToSI, *ir.InstFPToUI:
		_, signed := inst.(*ir.InstFPToSI)
		c.Misc(truncSat(src.vt, dst.vt, signed))
		fl.mask(dst)
	case *ir.InstSIToFP, *ir.InstUIToFP:
		_, signed := inst.(*ir.InstSIToFP)
		if signed {
			fl.sext(src)
		}
		c.Op(convert(src.vt, dst.vt, signed))
	case *ir.InstBitCast:
		switch {
		case src.vt == dst.vt:
		case src.vt == wasm.ValI32 && dst.vt == wasm.ValF32:
			c.Op(wasm.OpF32ReinterpretI32)
		case src.vt == wasm.ValF32 && dst.vt == wasm.ValI32:
			c.Op(wasm.OpI32ReinterpretF32)
		case src.vt == wasm.ValI64 && dst.vt == wasm.ValF64:
			c.Op(wasm.OpF64ReinterpretI64)
		case src.vt == wasm.ValF64 && dst.vt == wasm.ValI64:
			c.Op(wasm.OpI64ReinterpretF64)
		default:
			fl.fail("bitcast from %s to %s", from.Type().LLString(), to.LLString())
			return
		}
	}
	fl.set(inst.(value.Value))
}

func truncSat(src, dst wasm.ValType, signed bool) uint32 {
	var sub uint32
	if dst == wasm.ValI64 {
		sub = wasm.MiscI64TruncSatF32S
	}
	if src == wasm.ValF64 {
		sub += wasm.MiscI32TruncSatF64S
	}
	if !signed {
		sub++
	}
	return sub
}

func convert(src, dst wasm.ValType, signed bool) byte {
	var code byte
	if dst == wasm.ValF64 {
		code = wasm.OpF64ConvertI32S
	} else {
		code = wasm.OpF32ConvertI32S
	}
	if src == wasm.ValI64 {
		code += 2
	}
	if !signed {
		code++
	}
	return code
}

func (fl *funcLowerer) alloca(inst *ir.InstAlloca) {
	size := irtypes.SizeOf(inst.ElemType, PointerSize)
	align := irtypes.AlignOf(inst.ElemType, PointerSize)
	if align < 8 {
		align = 8
	}
	c := fl.code
	c.GlobalGet(0)
	switch n := inst.NElems.(type) {
	case nil:
		c.I32Const(int32(size))
	case *constant.Int:
		c.I32Const(int32(size * irconst.Bits(n)))
	default:
		s, ok := classify(n.Type())
		if !ok {
			fl.fail("alloca count of type %s", n.Type().LLString())
			return
		}
		fl.value(n)
		if s.vt == wasm.ValI64 {
			c.Op(wasm.OpI32WrapI64)
		}
		c.I32Const(int32(size)).Op(wasm.OpI32Mul)
	}
	c.Op(wasm.OpI32Sub).
		I32Const(-int32(align)).Op(wasm.OpI32And).
		LocalTee(fl.locals[inst]).
		GlobalSet(0)
}

func (fl *funcLowerer) load(inst *ir.InstLoad) {
	t := inst.Type()
	s, ok := classify(t)
	if !ok {
		fl.fail("loads of %s", t.LLString())
		return
	}
	size := irtypes.SizeOf(t, PointerSize)
	var code byte
	switch {
	case s.vt == wasm.ValF32:
		code = wasm.OpF32Load
	case s.vt == wasm.ValF64:
		code = wasm.OpF64Load
	case size == 1:
		code = wasm.OpI32Load8U
	case size == 2:
		code = wasm.OpI32Load16U
	case size == 4:
		code = wasm.OpI32Load
	default:
		code = wasm.OpI64Load
	}
	fl.value(inst.Src)
	fl.code.Mem(code, alignLog2(size))
	if !s.float && s.bits != size*8 {
		fl.mask(s)
	}
	fl.set(inst)
}

func (fl *funcLowerer) store(inst *ir.InstStore) {
	t := inst.Src.Type()
	s, ok := classify(t)
	if !ok {
		fl.fail("stores of %s", t.LLString())
		return
	}
	size := irtypes.SizeOf(t, PointerSize)
	var code byte
	switch {
	case s.vt == wasm.ValF32:
		code = wasm.OpF32Store
	case s.vt == wasm.ValF64:
		code = wasm.OpF64Store
	case size == 1:
		code = wasm.OpI32Store8
	case size == 2:
		code = wasm.OpI32Store16
	case size == 4:
		code = wasm.OpI32Store
	default:
		code = wasm.OpI64Store
	}
	fl.value(inst.Dst)
	fl.value(inst.Src)
	fl.code.Mem(code, alignLog2(size))
}

// gep adds the offset of the selected element to the source address.
// Indices are signed and wrap to the 32-bit address space.
func (fl *funcLowerer) gep(inst *ir.InstGetElementPtr) {
	addr, err := irutil.GEPAddress(inst.ElemType, inst.Indices, PointerSize)
	if err != nil {
		fl.fail("getelementptr: %v", err)
		return
	}
	c := fl.code
	fl.value(inst.Src)
	for _, step := range addr.Steps {
		s, ok := classify(step.Index.Type())
		if !ok {
			fl.fail("getelementptr index of type %s", step.Index.Type().LLString())
			return
		}
		fl.value(step.Index)
		fl.sext(s)
		if s.vt == wasm.ValI64 {
			c.Op(wasm.OpI32WrapI64)
		}
		if step.Scale != 1 {
			c.I32Const(int32(step.Scale)).Op(wasm.OpI32Mul)
		}
		c.Op(wasm.OpI32Add)
	}
	if addr.Offset != 0 {
		c.I32Const(int32(addr.Offset)).Op(wasm.OpI32Add)
	}
	fl.set(inst)
}

func (fl *funcLowerer) selectInst(inst *ir.InstSelect) {
	if _, ok := classify(inst.Type()); !ok {
		fl.fail("select of %s", inst.Type().LLString())
		return
	}
	fl.value(inst.ValueTrue)
	fl.value(inst.ValueFalse)
	fl.value(inst.Cond)
	fl.code.Op(wasm.OpSelect)
	fl.set(inst)
}

func alignLog2(size uint64) uint32 {
	var n uint32
	for size > 1 && n < 3 {
		size >>= 1
		n++
	}
	return n
}

func (fl *funcLowerer) call(inst *ir.InstCall) {
	callee, ok := inst.Callee.(*ir.Func)
	if !ok {
		fl.fail("indirect calls")
		return
	}
	idx, ok := fl.l.funcIdx[callee]
	if !ok {
		fl.fail("call to @%s outside the module", callee.Name())
		return
	}
	if callee.Sig.Variadic {
		fl.fail("variadic calls")
		return
	}
	for _, arg := range inst.Args {
		fl.value(arg)
	}
	fl.code.Call(idx)
	if !irtypes.IsVoid(inst.Type()) {
		fl.set(inst)
	}
}

func (fl *funcLowerer) term(blk *ir.Block, term ir.Terminator) {
	if fl.err != nil {
		return
	}
	c := fl.code
	if target, ok := fl.plan.Branch(blk); ok {
		fl.edge(blk, target)
		fl.jump(target, true)
		return
	}
	switch term := term.(type) {
	case *ir.TermRet:
		if term.X != nil {
			fl.value(term.X)
		}
		if fl.hasFrame {
			c.LocalGet(fl.fp).GlobalSet(0)
		}
		c.Op(wasm.OpReturn)
	case *ir.TermUnreachable:
		c.Op(wasm.OpUnreachable)
	case *ir.TermBr:
		target := term.Succs()[0]
		fl.edge(blk, target)
		fl.jump(target, true)
	case *ir.TermCondBr:
		ifTrue, ifFalse, ok := irutil.CondTargets(term)
		if !ok {
			fl.fail("malformed conditional branch")
			return
		}
		fl.value(term.Cond)
		c.If()
		fl.edge(blk, ifTrue)
		fl.jump(ifTrue, true)
		c.Else()
		fl.edge(blk, ifFalse)
		fl.jump(ifFalse, true)
		c.End()
	case *ir.TermSwitch:
		def, cases, ok := irutil.SwitchArms(term)
		if !ok {
			fl.fail("switch with non-integer cases")
			return
		}
		s, ok := classify(term.X.Type())
		if !ok {
			fl.fail("switch on %s", term.X.Type().LLString())
			return
		}
		eq := wasm.OpI32Eq
		if s.wide() {
			eq = wasm.OpI64Eq
		}
		for _, arm := range cases {
			fl.value(term.X)
			fl.intConst(s, irconst.Truncate(s.bits, irconst.Bits(arm.Value)))
			c.Op(eq).If()
			fl.edge(blk, arm.Target)
			fl.jump(arm.Target, false)
			c.End()
		}
		fl.edge(blk, def)
		fl.jump(def, true)
	default:
		fl.fail("terminator %s", term.LLString())
	}
}

// edge assigns the phis of succ for the edge from pred. All incoming
// values are read before any phi is written.
func (fl *funcLowerer) edge(pred, succ *ir.Block) {
	var phis []*ir.InstPhi
	for _, inst := range succ.Insts {
		phi, ok := inst.(*ir.InstPhi)
		if !ok {
			break
		}
		if fl.plan.Skip(phi) {
			continue
		}
		phis = append(phis, phi)
	}
	for _, phi := range phis {
		found := false
		for _, inc := range phi.Incs {
			if b, ok := irutil.PredBlock(inc); ok && b == pred {
				fl.value(inc.X)
				found = true
				break
			}
		}
		if !found {
			fl.fail("phi in '%s' has no value for '%s'", succ.Name(), pred.Name())
			return
		}
	}
	for i := len(phis) - 1; i >= 0; i-- {
		fl.code.LocalSet(fl.locals[phis[i]])
	}
}

// jump transfers control to target. With mayFall, a jump to the next
// block in layout order is omitted.
func (fl *funcLowerer) jump(target *ir.Block, mayFall bool) {
	t := fl.index[target]
	if mayFall && t == fl.cur+1 {
		return
	}
	c := fl.code
	c.I32Const(int32(t)).LocalSet(fl.bb).Br(uint32(c.Depth() - 1))
}
