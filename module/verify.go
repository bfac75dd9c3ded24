package module

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"go.uber.org/zap"

	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/internal/irutil"
	"github.com/wippyai/irkit/irtypes"
)

// Verify checks the module for structural and semantic validity and returns
// the first violation found. It never mutates the module. The result is
// cached until the next mutation, unless the toolkit module was handed out
// through Native.
func (m Module) Verify() error {
	st, err := m.state(errors.PhaseVerify)
	if err != nil {
		return err
	}
	if st.verified && !st.escaped && st.verifyRev == st.revision {
		return st.verifyErr
	}
	verr := VerifyNative(st.name, st.ir)
	st.verified = true
	st.verifyRev = st.revision
	st.verifyErr = verr
	if verr != nil {
		Logger().Debug("module verification failed", zap.String("module", st.name), zap.Error(verr))
	}
	return verr
}

// VerifyNative verifies a toolkit module. name is used in diagnostics.
func VerifyNative(name string, m *ir.Module) error {
	v := &verifier{module: name}
	return v.run(m)
}

type verifier struct {
	module string
}

func (v *verifier) fail(path []string, fn string, format string, args ...any) error {
	e := errors.Verification(v.module, path, fmt.Sprintf(format, args...))
	e.Function = fn
	return e
}

func (v *verifier) run(m *ir.Module) error {
	seen := make(map[string]string)
	claim := func(name, kind string) error {
		if name == "" {
			return nil
		}
		if prev, ok := seen[name]; ok {
			return v.fail([]string{name}, "", "%s name '%s' already used by a %s", kind, name, prev)
		}
		seen[name] = kind
		return nil
	}

	for _, g := range m.Globals {
		if err := claim(g.Name(), "global"); err != nil {
			return err
		}
		if err := v.global(g); err != nil {
			return err
		}
	}
	for _, f := range m.Funcs {
		if err := claim(f.Name(), "function"); err != nil {
			return err
		}
	}
	for _, f := range m.Funcs {
		if err := v.function(f); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) global(g *ir.Global) error {
	if g.ContentType == nil {
		return v.fail([]string{g.Name()}, "", "global has no content type")
	}
	if g.Init == nil {
		return nil
	}
	if !g.Init.Type().Equal(g.ContentType) {
		return v.fail([]string{g.Name()}, "",
			"initializer type %s does not match global type %s",
			g.Init.Type().LLString(), g.ContentType.LLString())
	}
	return nil
}

// funcVerifier holds per-function state.
type funcVerifier struct {
	*verifier
	f      *ir.Func
	cfg    *irutil.CFG
	params map[value.Value]bool
	// defs maps instruction values to their block and position.
	defs map[value.Value]position
}

type position struct {
	block int
	index int
}

func (v *verifier) function(f *ir.Func) error {
	name := f.Name()
	if f.Sig == nil {
		return v.fail(nil, name, "function has no type")
	}
	if len(f.Params) != len(f.Sig.Params) {
		return v.fail(nil, name, "function has %d parameters but its type declares %d", len(f.Params), len(f.Sig.Params))
	}
	for i, p := range f.Params {
		if !p.Type().Equal(f.Sig.Params[i]) {
			return v.fail(nil, name, "parameter %d has type %s, declared %s", i, p.Type().LLString(), f.Sig.Params[i].LLString())
		}
		if !irtypes.IsFirstClass(p.Type()) {
			return v.fail(nil, name, "parameter %d has invalid type %s", i, p.Type().LLString())
		}
	}
	if !irtypes.IsVoid(f.Sig.RetType) && !irtypes.IsFirstClass(f.Sig.RetType) {
		return v.fail(nil, name, "invalid return type %s", f.Sig.RetType.LLString())
	}
	if len(f.Blocks) == 0 {
		return nil
	}

	fv := &funcVerifier{
		verifier: v,
		f:        f,
		cfg:      irutil.NewCFG(f),
		params:   make(map[value.Value]bool, len(f.Params)),
		defs:     make(map[value.Value]position),
	}
	for _, p := range f.Params {
		fv.params[p] = true
	}
	return fv.run()
}

func (fv *funcVerifier) failAt(blk *ir.Block, format string, args ...any) error {
	return fv.fail([]string{fv.f.Name(), blockLabel(blk)}, fv.f.Name(),
		"block '%s': %s", blockLabel(blk), fmt.Sprintf(format, args...))
}

func (fv *funcVerifier) run() error {
	labels := make(map[string]bool)
	for i, blk := range fv.f.Blocks {
		if n := blk.Name(); n != "" {
			if labels[n] {
				return fv.failAt(blk, "duplicate block label")
			}
			labels[n] = true
		}
		for j, inst := range blk.Insts {
			if val, ok := inst.(value.Value); ok {
				fv.defs[val] = position{block: i, index: j}
			}
		}
	}

	if len(fv.cfg.Preds[0]) > 0 {
		return fv.failAt(fv.f.Blocks[0], "entry block must not have predecessors")
	}

	for i, blk := range fv.f.Blocks {
		if err := fv.block(i, blk); err != nil {
			return err
		}
	}
	return nil
}

func (fv *funcVerifier) block(bi int, blk *ir.Block) error {
	inPhis := true
	for j, inst := range blk.Insts {
		phi, isPhi := inst.(*ir.InstPhi)
		if isPhi && !inPhis {
			return fv.failAt(blk, "phi node is not grouped at the top of the block")
		}
		if !isPhi {
			inPhis = false
		}
		if isPhi {
			if err := fv.phi(bi, blk, phi); err != nil {
				return err
			}
			continue
		}
		if err := fv.instruction(blk, inst); err != nil {
			return err
		}
		for _, op := range irutil.Operands(inst) {
			if err := fv.use(bi, j, blk, op); err != nil {
				return err
			}
		}
	}
	return fv.terminator(bi, blk)
}

func (fv *funcVerifier) terminator(bi int, blk *ir.Block) error {
	ret := fv.f.Sig.RetType
	if blk.Term == nil {
		if irtypes.IsVoid(ret) {
			return nil
		}
		return fv.failAt(blk, "block has no terminator")
	}

	for _, op := range irutil.TermOperands(blk.Term) {
		if err := fv.use(bi, len(blk.Insts), blk, op); err != nil {
			return err
		}
	}
	for _, s := range blk.Term.Succs() {
		if s == nil || s.Parent != fv.f {
			return fv.failAt(blk, "branch target is not a block of this function")
		}
		if _, ok := fv.cfg.Index[s]; !ok {
			return fv.failAt(blk, "branch target '%s' is not in the function body", blockLabel(s))
		}
	}

	switch term := blk.Term.(type) {
	case *ir.TermRet:
		if term.X == nil {
			if !irtypes.IsVoid(ret) {
				return fv.failAt(blk, "ret void in function returning %s", ret.LLString())
			}
			return nil
		}
		if irtypes.IsVoid(ret) {
			return fv.failAt(blk, "returning a value from a void function")
		}
		if !term.X.Type().Equal(ret) {
			return fv.failAt(blk, "returned %s, function returns %s", term.X.Type().LLString(), ret.LLString())
		}
	case *ir.TermCondBr:
		if !isInt(term.Cond.Type(), 1) {
			return fv.failAt(blk, "branch condition must be i1, got %s", term.Cond.Type().LLString())
		}
	case *ir.TermSwitch:
		if _, ok := term.X.Type().(*types.IntType); !ok {
			return fv.failAt(blk, "switch on non-integer %s", term.X.Type().LLString())
		}
	}
	return nil
}

func (fv *funcVerifier) phi(bi int, blk *ir.Block, phi *ir.InstPhi) error {
	typ := phi.Type()
	if !irtypes.IsFirstClass(typ) {
		return fv.failAt(blk, "phi of invalid type %s", typ.LLString())
	}

	preds := make(map[int]bool, len(fv.cfg.Preds[bi]))
	for _, p := range fv.cfg.Preds[bi] {
		preds[p] = true
	}
	incoming := make(map[int]value.Value, len(phi.Incs))
	for _, inc := range phi.Incs {
		pb, ok := irutil.PredBlock(inc)
		if !ok {
			return fv.failAt(blk, "phi incoming block is not a basic block")
		}
		pi, ok := fv.cfg.Index[pb]
		if !ok || !preds[pi] {
			return fv.failAt(blk, "phi has an entry for '%s' which is not a predecessor", blockLabel(pb))
		}
		if prev, dup := incoming[pi]; dup && prev != inc.X {
			return fv.failAt(blk, "phi has conflicting entries for '%s'", blockLabel(pb))
		}
		incoming[pi] = inc.X
		if !inc.X.Type().Equal(typ) {
			return fv.failAt(blk, "phi incoming value of type %s, expected %s", inc.X.Type().LLString(), typ.LLString())
		}
		// The value must be available at the end of the predecessor.
		if err := fv.use(pi, len(fv.f.Blocks[pi].Insts), blk, inc.X); err != nil {
			return err
		}
	}
	for p := range preds {
		if _, ok := incoming[p]; !ok {
			return fv.failAt(blk, "phi has no entry for predecessor '%s'", blockLabel(fv.f.Blocks[p]))
		}
	}
	return nil
}

// use checks that op is available at position (bi, idx).
func (fv *funcVerifier) use(bi, idx int, at *ir.Block, op value.Value) error {
	if op == nil {
		return fv.failAt(at, "nil operand")
	}
	switch o := op.(type) {
	case *ir.Param:
		if !fv.params[o] {
			return fv.failAt(at, "operand %s is a parameter of another function", op.Ident())
		}
		return nil
	case *ir.Func, *ir.Global, *ir.Block, constant.Constant:
		return nil
	case ir.Instruction:
		def, ok := fv.defs[op]
		if !ok {
			return fv.failAt(at, "operand %s is not defined in this function", op.Ident())
		}
		if def.block == bi {
			if def.index >= idx && fv.cfg.Reachable(bi) {
				return fv.failAt(at, "instruction %s is used before it is defined", op.Ident())
			}
			return nil
		}
		if !fv.cfg.Dominates(def.block, bi) {
			return fv.failAt(at, "instruction %s does not dominate all uses", op.Ident())
		}
	}
	return nil
}

func (fv *funcVerifier) instruction(blk *ir.Block, inst ir.Instruction) error {
	if op, x, y, ok := irutil.Binary(inst); ok {
		if !x.Type().Equal(y.Type()) {
			return fv.failAt(blk, "operands of different types %s and %s", x.Type().LLString(), y.Type().LLString())
		}
		if op.IsFloat() {
			if !isFloatLike(x.Type()) {
				return fv.failAt(blk, "floating point operation on %s", x.Type().LLString())
			}
		} else if !isIntLike(x.Type()) {
			return fv.failAt(blk, "integer operation on %s", x.Type().LLString())
		}
		return nil
	}
	if from, to, ok := irutil.Cast(inst); ok {
		return fv.cast(blk, inst, from.Type(), to)
	}

	switch inst := inst.(type) {
	case *ir.InstICmp:
		if !inst.X.Type().Equal(inst.Y.Type()) {
			return fv.failAt(blk, "icmp operands of different types %s and %s", inst.X.Type().LLString(), inst.Y.Type().LLString())
		}
		if !isIntLike(inst.X.Type()) && !isPointerLike(inst.X.Type()) {
			return fv.failAt(blk, "icmp on %s", inst.X.Type().LLString())
		}
	case *ir.InstFCmp:
		if !inst.X.Type().Equal(inst.Y.Type()) {
			return fv.failAt(blk, "fcmp operands of different types %s and %s", inst.X.Type().LLString(), inst.Y.Type().LLString())
		}
		if !isFloatLike(inst.X.Type()) {
			return fv.failAt(blk, "fcmp on %s", inst.X.Type().LLString())
		}
	case *ir.InstAlloca:
		if !sized(inst.ElemType) {
			return fv.failAt(blk, "alloca of unsized type %s", inst.ElemType.LLString())
		}
	case *ir.InstLoad:
		pt, ok := inst.Src.Type().(*types.PointerType)
		if !ok {
			return fv.failAt(blk, "load from non-pointer %s", inst.Src.Type().LLString())
		}
		if !pt.ElemType.Equal(inst.ElemType) {
			return fv.failAt(blk, "load of %s through %s", inst.ElemType.LLString(), pt.LLString())
		}
	case *ir.InstStore:
		pt, ok := inst.Dst.Type().(*types.PointerType)
		if !ok {
			return fv.failAt(blk, "store to non-pointer %s", inst.Dst.Type().LLString())
		}
		if !pt.ElemType.Equal(inst.Src.Type()) {
			return fv.failAt(blk, "store of %s through %s", inst.Src.Type().LLString(), pt.LLString())
		}
	case *ir.InstGetElementPtr:
		pt, ok := inst.Src.Type().(*types.PointerType)
		if !ok {
			return fv.failAt(blk, "getelementptr on non-pointer %s", inst.Src.Type().LLString())
		}
		if !pt.ElemType.Equal(inst.ElemType) {
			return fv.failAt(blk, "getelementptr over %s through %s", inst.ElemType.LLString(), pt.LLString())
		}
		if !sized(inst.ElemType) {
			return fv.failAt(blk, "getelementptr over unsized type %s", inst.ElemType.LLString())
		}
		if _, err := irutil.GEPAddress(inst.ElemType, inst.Indices, 8); err != nil {
			return fv.failAt(blk, "getelementptr: %v", err)
		}
	case *ir.InstSelect:
		if !isInt(inst.Cond.Type(), 1) {
			return fv.failAt(blk, "select condition must be i1, got %s", inst.Cond.Type().LLString())
		}
		if !inst.ValueTrue.Type().Equal(inst.ValueFalse.Type()) {
			return fv.failAt(blk, "select arms of different types %s and %s",
				inst.ValueTrue.Type().LLString(), inst.ValueFalse.Type().LLString())
		}
	case *ir.InstCall:
		return fv.call(blk, inst)
	}
	return nil
}

func (fv *funcVerifier) call(blk *ir.Block, inst *ir.InstCall) error {
	pt, ok := inst.Callee.Type().(*types.PointerType)
	if !ok {
		return fv.failAt(blk, "call through non-pointer %s", inst.Callee.Type().LLString())
	}
	sig, ok := pt.ElemType.(*types.FuncType)
	if !ok {
		return fv.failAt(blk, "call of non-function %s", pt.LLString())
	}
	n := len(sig.Params)
	if len(inst.Args) < n || (!sig.Variadic && len(inst.Args) != n) {
		return fv.failAt(blk, "call to %s with %d arguments, expected %d", inst.Callee.Ident(), len(inst.Args), n)
	}
	for i := 0; i < n; i++ {
		if !inst.Args[i].Type().Equal(sig.Params[i]) {
			return fv.failAt(blk, "argument %d of call to %s has type %s, expected %s",
				i, inst.Callee.Ident(), inst.Args[i].Type().LLString(), sig.Params[i].LLString())
		}
	}
	return nil
}

func (fv *funcVerifier) cast(blk *ir.Block, inst ir.Instruction, from, to types.Type) error {
	bad := func() error {
		return fv.failAt(blk, "invalid cast from %s to %s", from.LLString(), to.LLString())
	}
	fi, fIsInt := from.(*types.IntType)
	ti, tIsInt := to.(*types.IntType)
	fb, fIsFloat := irtypes.FloatBits(from)
	tb, tIsFloat := irtypes.FloatBits(to)

	switch inst.(type) {
	case *ir.InstTrunc:
		if !fIsInt || !tIsInt || ti.BitSize >= fi.BitSize {
			return bad()
		}
	case *ir.InstZExt, *ir.InstSExt:
		if !fIsInt || !tIsInt || ti.BitSize <= fi.BitSize {
			return bad()
		}
	case *ir.InstFPTrunc:
		if !fIsFloat || !tIsFloat || tb >= fb {
			return bad()
		}
	case *ir.InstFPExt:
		if !fIsFloat || !tIsFloat || tb <= fb {
			return bad()
		}
	case *ir.InstFPToUI, *ir.InstFPToSI:
		if !fIsFloat || !tIsInt {
			return bad()
		}
	case *ir.InstUIToFP, *ir.InstSIToFP:
		if !fIsInt || !tIsFloat {
			return bad()
		}
	case *ir.InstPtrToInt:
		if _, ok := from.(*types.PointerType); !ok || !tIsInt {
			return bad()
		}
	case *ir.InstIntToPtr:
		if _, ok := to.(*types.PointerType); !ok || !fIsInt {
			return bad()
		}
	case *ir.InstBitCast:
		_, fp := from.(*types.PointerType)
		_, tp := to.(*types.PointerType)
		if fp != tp {
			return bad()
		}
		if !fp && bitWidth(from) != bitWidth(to) {
			return bad()
		}
	}
	return nil
}

func blockLabel(b *ir.Block) string {
	if b == nil {
		return "<nil>"
	}
	if b.Name() != "" {
		return b.Name()
	}
	return b.Ident()
}

func sized(t types.Type) bool {
	switch t := t.(type) {
	case *types.IntType, *types.FloatType, *types.PointerType, *types.VectorType:
		return true
	case *types.ArrayType:
		return sized(t.ElemType)
	case *types.StructType:
		if t.Opaque {
			return false
		}
		for _, f := range t.Fields {
			if !sized(f) {
				return false
			}
		}
		return true
	}
	return false
}

func scalar(t types.Type) types.Type {
	if vt, ok := t.(*types.VectorType); ok {
		return vt.ElemType
	}
	return t
}

func isIntLike(t types.Type) bool {
	_, ok := scalar(t).(*types.IntType)
	return ok
}

func isFloatLike(t types.Type) bool {
	_, ok := scalar(t).(*types.FloatType)
	return ok
}

func isPointerLike(t types.Type) bool {
	_, ok := scalar(t).(*types.PointerType)
	return ok
}

func isInt(t types.Type, bits uint64) bool {
	it, ok := t.(*types.IntType)
	return ok && it.BitSize == bits
}

func bitWidth(t types.Type) uint64 {
	switch t := t.(type) {
	case *types.IntType:
		return t.BitSize
	case *types.FloatType:
		b, _ := irtypes.FloatBits(t)
		return b
	case *types.VectorType:
		return t.Len * bitWidth(t.ElemType)
	}
	return 0
}
