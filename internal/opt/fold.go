package opt

import (
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/wippyai/irkit/internal/irutil"
	"github.com/wippyai/irkit/irconst"
)

func (p *Plan) constOf(v value.Value) (constant.Constant, bool) {
	if c, ok := p.folded[v]; ok {
		return c, true
	}
	switch c := v.(type) {
	case *constant.Int:
		return c, true
	case *constant.Float:
		return c, true
	}
	return nil, false
}

// intOf returns v as an integer constant of at most 64 bits.
func (p *Plan) intOf(v value.Value) (*constant.Int, bool) {
	c, ok := p.constOf(v)
	if !ok {
		return nil, false
	}
	ci, ok := c.(*constant.Int)
	if !ok || ci.Typ.BitSize > 64 {
		return nil, false
	}
	return ci, true
}

// floatOf returns v as a float or double constant.
func (p *Plan) floatOf(v value.Value) (float64, *types.FloatType, bool) {
	c, ok := p.constOf(v)
	if !ok {
		return 0, nil, false
	}
	cf, ok := c.(*constant.Float)
	if !ok || !foldableFloat(cf.Typ) {
		return 0, nil, false
	}
	return irconst.FloatValue(cf), cf.Typ, true
}

func foldableFloat(t *types.FloatType) bool {
	return t.Kind == types.FloatKindFloat || t.Kind == types.FloatKindDouble
}

// fold evaluates inst when all its operands are constants. It returns nil
// when the result is unknown or evaluating it would trap.
func (p *Plan) fold(inst ir.Instruction) constant.Constant {
	if op, x, y, ok := irutil.Binary(inst); ok {
		if op.IsFloat() {
			return p.foldFloat(op, x, y)
		}
		return p.foldInt(op, x, y)
	}
	switch inst := inst.(type) {
	case *ir.InstICmp:
		return p.foldICmp(inst.Pred, inst.X, inst.Y)
	case *ir.InstFCmp:
		return p.foldFCmp(inst.Pred, inst.X, inst.Y)
	case *ir.InstSelect:
		return p.foldSelect(inst)
	}
	if from, to, ok := irutil.Cast(inst); ok {
		return p.foldCast(inst, from, to)
	}
	return nil
}

// foldSelect picks the arm of a select with a known condition when that
// arm is itself constant.
func (p *Plan) foldSelect(inst *ir.InstSelect) constant.Constant {
	cond, ok := p.intOf(inst.Cond)
	if !ok {
		return nil
	}
	arm := inst.ValueFalse
	if irconst.Bits(cond)&1 == 1 {
		arm = inst.ValueTrue
	}
	c, _ := p.constOf(arm)
	return c
}

func (p *Plan) foldInt(op irutil.BinOp, x, y value.Value) constant.Constant {
	cx, ok := p.intOf(x)
	if !ok {
		return nil
	}
	cy, ok := p.intOf(y)
	if !ok {
		return nil
	}
	bits := cx.Typ.BitSize
	a, b := irconst.Bits(cx), irconst.Bits(cy)
	sa, sb := irconst.SignedBits(cx), irconst.SignedBits(cy)

	var r uint64
	switch op {
	case irutil.OpAdd:
		r = a + b
	case irutil.OpSub:
		r = a - b
	case irutil.OpMul:
		r = a * b
	case irutil.OpUDiv:
		if b == 0 {
			return nil
		}
		r = a / b
	case irutil.OpURem:
		if b == 0 {
			return nil
		}
		r = a % b
	case irutil.OpSDiv, irutil.OpSRem:
		if sb == 0 || (sb == -1 && sa == minSigned(bits)) {
			return nil
		}
		if op == irutil.OpSDiv {
			r = uint64(sa / sb)
		} else {
			r = uint64(sa % sb)
		}
	case irutil.OpShl, irutil.OpLShr, irutil.OpAShr:
		if b >= bits {
			return nil
		}
		switch op {
		case irutil.OpShl:
			r = a << b
		case irutil.OpLShr:
			r = a >> b
		default:
			r = uint64(sa >> b)
		}
	case irutil.OpAnd:
		r = a & b
	case irutil.OpOr:
		r = a | b
	case irutil.OpXor:
		r = a ^ b
	default:
		return nil
	}
	return irconst.UInt(bits, irconst.Truncate(bits, r))
}

func minSigned(bits uint64) int64 {
	if bits >= 64 {
		return math.MinInt64
	}
	return -1 << (bits - 1)
}

func (p *Plan) foldFloat(op irutil.BinOp, x, y value.Value) constant.Constant {
	a, typ, ok := p.floatOf(x)
	if !ok {
		return nil
	}
	b, _, ok := p.floatOf(y)
	if !ok {
		return nil
	}
	var r float64
	switch op {
	case irutil.OpFAdd:
		r = a + b
	case irutil.OpFSub:
		r = a - b
	case irutil.OpFMul:
		r = a * b
	case irutil.OpFDiv:
		r = a / b
	case irutil.OpFRem:
		r = math.Mod(a, b)
	default:
		return nil
	}
	return floatConst(typ, r)
}

// floatConst rounds r to typ. NaN results are left to run time.
func floatConst(typ *types.FloatType, r float64) constant.Constant {
	if typ.Kind == types.FloatKindFloat {
		r = float64(float32(r))
	}
	if math.IsNaN(r) {
		return nil
	}
	return constant.NewFloat(typ, r)
}

func (p *Plan) foldICmp(pred enum.IPred, x, y value.Value) constant.Constant {
	cx, ok := p.intOf(x)
	if !ok {
		return nil
	}
	cy, ok := p.intOf(y)
	if !ok {
		return nil
	}
	a, b := irconst.Bits(cx), irconst.Bits(cy)
	sa, sb := irconst.SignedBits(cx), irconst.SignedBits(cy)
	var r bool
	switch pred {
	case enum.IPredEQ:
		r = a == b
	case enum.IPredNE:
		r = a != b
	case enum.IPredUGT:
		r = a > b
	case enum.IPredUGE:
		r = a >= b
	case enum.IPredULT:
		r = a < b
	case enum.IPredULE:
		r = a <= b
	case enum.IPredSGT:
		r = sa > sb
	case enum.IPredSGE:
		r = sa >= sb
	case enum.IPredSLT:
		r = sa < sb
	case enum.IPredSLE:
		r = sa <= sb
	default:
		return nil
	}
	return irconst.Bool(r)
}

// CompareFloat evaluates an fcmp predicate.
func CompareFloat(pred enum.FPred, a, b float64) bool {
	uno := math.IsNaN(a) || math.IsNaN(b)
	switch pred {
	case enum.FPredFalse:
		return false
	case enum.FPredTrue:
		return true
	case enum.FPredOEQ:
		return !uno && a == b
	case enum.FPredOGT:
		return !uno && a > b
	case enum.FPredOGE:
		return !uno && a >= b
	case enum.FPredOLT:
		return !uno && a < b
	case enum.FPredOLE:
		return !uno && a <= b
	case enum.FPredONE:
		return !uno && a != b
	case enum.FPredORD:
		return !uno
	case enum.FPredUEQ:
		return uno || a == b
	case enum.FPredUGT:
		return uno || a > b
	case enum.FPredUGE:
		return uno || a >= b
	case enum.FPredULT:
		return uno || a < b
	case enum.FPredULE:
		return uno || a <= b
	case enum.FPredUNE:
		return uno || a != b
	case enum.FPredUNO:
		return uno
	}
	return false
}

func (p *Plan) foldFCmp(pred enum.FPred, x, y value.Value) constant.Constant {
	a, _, ok := p.floatOf(x)
	if !ok {
		return nil
	}
	b, _, ok := p.floatOf(y)
	if !ok {
		return nil
	}
	return irconst.Bool(CompareFloat(pred, a, b))
}

func (p *Plan) foldCast(inst ir.Instruction, from value.Value, to types.Type) constant.Constant {
	switch inst.(type) {
	case *ir.InstTrunc, *ir.InstZExt:
		c, ok := p.intOf(from)
		toInt, isInt := to.(*types.IntType)
		if !ok || !isInt || toInt.BitSize > 64 {
			return nil
		}
		return irconst.UInt(toInt.BitSize, irconst.Truncate(toInt.BitSize, irconst.Bits(c)))
	case *ir.InstSExt:
		c, ok := p.intOf(from)
		toInt, isInt := to.(*types.IntType)
		if !ok || !isInt || toInt.BitSize > 64 {
			return nil
		}
		return irconst.UInt(toInt.BitSize, irconst.Truncate(toInt.BitSize, uint64(irconst.SignedBits(c))))
	case *ir.InstFPTrunc, *ir.InstFPExt:
		f, _, ok := p.floatOf(from)
		toFloat, isFloat := to.(*types.FloatType)
		if !ok || !isFloat || !foldableFloat(toFloat) {
			return nil
		}
		return floatConst(toFloat, f)
	case *ir.InstUIToFP, *ir.InstSIToFP:
		c, ok := p.intOf(from)
		toFloat, isFloat := to.(*types.FloatType)
		if !ok || !isFloat || !foldableFloat(toFloat) {
			return nil
		}
		_, signed := inst.(*ir.InstSIToFP)
		return floatConst(toFloat, IntToFloat(irconst.Bits(c), c.Typ.BitSize, signed, toFloat.Kind == types.FloatKindFloat))
	case *ir.InstFPToUI, *ir.InstFPToSI:
		f, _, ok := p.floatOf(from)
		toInt, isInt := to.(*types.IntType)
		if !ok || !isInt || toInt.BitSize > 64 {
			return nil
		}
		_, signed := inst.(*ir.InstFPToSI)
		bits, ok := FloatToInt(f, toInt.BitSize, signed)
		if !ok {
			return nil
		}
		return irconst.UInt(toInt.BitSize, bits)
	}
	return nil
}

// IntToFloat converts the bits-wide integer v, rounding once to the
// destination precision.
func IntToFloat(v, bits uint64, signed, single bool) float64 {
	if signed {
		s := irconst.SignExtend(bits, v)
		if single {
			return float64(float32(s))
		}
		return float64(s)
	}
	if single {
		return float64(float32(v))
	}
	return float64(v)
}

// FloatToInt truncates f toward zero. ok is false when the result does not
// fit in bits.
func FloatToInt(f float64, bits uint64, signed bool) (uint64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	t := math.Trunc(f)
	if signed {
		lo := float64(minSigned(bits))
		if t < lo || t >= -lo {
			return 0, false
		}
		return irconst.Truncate(bits, uint64(int64(t))), true
	}
	if t < 0 || t >= math.Ldexp(1, int(bits)) {
		return 0, false
	}
	return uint64(t), true
}

func sameConstant(a, b constant.Constant) bool {
	switch a := a.(type) {
	case *constant.Int:
		b, ok := b.(*constant.Int)
		return ok && a.Typ.Equal(b.Typ) && a.X.Cmp(b.X) == 0
	case *constant.Float:
		b, ok := b.(*constant.Float)
		if !ok || !a.Typ.Equal(b.Typ) {
			return false
		}
		return math.Float64bits(irconst.FloatValue(a)) == math.Float64bits(irconst.FloatValue(b))
	}
	return false
}
