package irutil

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// Operands returns the value operands of inst in evaluation order. Phi
// incoming values are included; incoming blocks are not.
func Operands(inst ir.Instruction) []value.Value {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstSub:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstMul:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstUDiv:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstSDiv:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstURem:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstSRem:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstShl:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstLShr:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstAShr:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstAnd:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstOr:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstXor:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFAdd:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFSub:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFMul:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFDiv:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFRem:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstICmp:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstFCmp:
		return []value.Value{inst.X, inst.Y}
	case *ir.InstAlloca:
		if inst.NElems != nil {
			return []value.Value{inst.NElems}
		}
		return nil
	case *ir.InstLoad:
		return []value.Value{inst.Src}
	case *ir.InstStore:
		return []value.Value{inst.Src, inst.Dst}
	case *ir.InstGetElementPtr:
		out := make([]value.Value, 0, len(inst.Indices)+1)
		out = append(out, inst.Src)
		return append(out, inst.Indices...)
	case *ir.InstSelect:
		return []value.Value{inst.Cond, inst.ValueTrue, inst.ValueFalse}
	case *ir.InstCall:
		out := make([]value.Value, 0, len(inst.Args)+1)
		out = append(out, inst.Callee)
		return append(out, inst.Args...)
	case *ir.InstPhi:
		out := make([]value.Value, 0, len(inst.Incs))
		for _, inc := range inst.Incs {
			out = append(out, inc.X)
		}
		return out
	}
	if from, _, ok := Cast(inst); ok {
		return []value.Value{from}
	}
	return nil
}

// TermOperands returns the value operands of a terminator.
func TermOperands(term ir.Terminator) []value.Value {
	switch term := term.(type) {
	case *ir.TermRet:
		if term.X != nil {
			return []value.Value{term.X}
		}
	case *ir.TermCondBr:
		return []value.Value{term.Cond}
	case *ir.TermSwitch:
		return []value.Value{term.X}
	}
	return nil
}

// Cast unpacks a conversion instruction into its operand and target type.
func Cast(inst ir.Instruction) (value.Value, types.Type, bool) {
	switch inst := inst.(type) {
	case *ir.InstTrunc:
		return inst.From, inst.To, true
	case *ir.InstZExt:
		return inst.From, inst.To, true
	case *ir.InstSExt:
		return inst.From, inst.To, true
	case *ir.InstFPTrunc:
		return inst.From, inst.To, true
	case *ir.InstFPExt:
		return inst.From, inst.To, true
	case *ir.InstFPToUI:
		return inst.From, inst.To, true
	case *ir.InstFPToSI:
		return inst.From, inst.To, true
	case *ir.InstUIToFP:
		return inst.From, inst.To, true
	case *ir.InstSIToFP:
		return inst.From, inst.To, true
	case *ir.InstPtrToInt:
		return inst.From, inst.To, true
	case *ir.InstIntToPtr:
		return inst.From, inst.To, true
	case *ir.InstBitCast:
		return inst.From, inst.To, true
	}
	return nil, nil, false
}

// Binary unpacks a two-operand arithmetic or bitwise instruction.
func Binary(inst ir.Instruction) (op BinOp, x, y value.Value, ok bool) {
	switch inst := inst.(type) {
	case *ir.InstAdd:
		return OpAdd, inst.X, inst.Y, true
	case *ir.InstSub:
		return OpSub, inst.X, inst.Y, true
	case *ir.InstMul:
		return OpMul, inst.X, inst.Y, true
	case *ir.InstUDiv:
		return OpUDiv, inst.X, inst.Y, true
	case *ir.InstSDiv:
		return OpSDiv, inst.X, inst.Y, true
	case *ir.InstURem:
		return OpURem, inst.X, inst.Y, true
	case *ir.InstSRem:
		return OpSRem, inst.X, inst.Y, true
	case *ir.InstShl:
		return OpShl, inst.X, inst.Y, true
	case *ir.InstLShr:
		return OpLShr, inst.X, inst.Y, true
	case *ir.InstAShr:
		return OpAShr, inst.X, inst.Y, true
	case *ir.InstAnd:
		return OpAnd, inst.X, inst.Y, true
	case *ir.InstOr:
		return OpOr, inst.X, inst.Y, true
	case *ir.InstXor:
		return OpXor, inst.X, inst.Y, true
	case *ir.InstFAdd:
		return OpFAdd, inst.X, inst.Y, true
	case *ir.InstFSub:
		return OpFSub, inst.X, inst.Y, true
	case *ir.InstFMul:
		return OpFMul, inst.X, inst.Y, true
	case *ir.InstFDiv:
		return OpFDiv, inst.X, inst.Y, true
	case *ir.InstFRem:
		return OpFRem, inst.X, inst.Y, true
	}
	return 0, nil, nil, false
}

// BinOp enumerates the binary instructions.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpURem
	OpSRem
	OpShl
	OpLShr
	OpAShr
	OpAnd
	OpOr
	OpXor
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem
)

// IsFloat reports whether op operates on floating point values.
func (op BinOp) IsFloat() bool { return op >= OpFAdd }

// Traps reports whether op can trap at run time (division by zero).
func (op BinOp) Traps() bool {
	switch op {
	case OpUDiv, OpSDiv, OpURem, OpSRem:
		return true
	}
	return false
}

// Pure reports whether inst has no side effects and cannot trap, so it may
// be removed when its result is unused.
func Pure(inst ir.Instruction) bool {
	if op, _, _, ok := Binary(inst); ok {
		return !op.Traps()
	}
	switch inst.(type) {
	case *ir.InstICmp, *ir.InstFCmp, *ir.InstPhi, *ir.InstGetElementPtr, *ir.InstSelect:
		return true
	}
	_, _, ok := Cast(inst)
	return ok
}

// ImplicitTerminator returns the terminator a block without one behaves as:
// ret void in a void function and unreachable otherwise.
func ImplicitTerminator(f *ir.Func) ir.Terminator {
	if _, ok := f.Sig.RetType.(*types.VoidType); ok {
		return ir.NewRet(nil)
	}
	return ir.NewUnreachable()
}

// PredBlock returns the predecessor block of a phi incoming entry.
func PredBlock(inc *ir.Incoming) (*ir.Block, bool) {
	b, ok := any(inc.Pred).(*ir.Block)
	return b, ok
}
