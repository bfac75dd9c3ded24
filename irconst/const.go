// Package irconst provides helper constructors for IR constants.
//
// Integer constants are stored canonically: the value is truncated to the
// type width and kept as its signed two's-complement interpretation, except
// for i1 which is always 0 or 1.
package irconst

import (
	"math"
	"math/big"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// SInt returns an integer constant of the given width, sign-extending v
// when the width exceeds 64 bits.
func SInt(bits uint64, v int64) *constant.Int {
	return NewInt(intType(bits), big.NewInt(v))
}

// UInt returns an integer constant of the given width, zero-extending v
// when the width exceeds 64 bits.
func UInt(bits uint64, v uint64) *constant.Int {
	return NewInt(intType(bits), new(big.Int).SetUint64(v))
}

// NewInt truncates v to the width of typ and returns the canonical constant.
func NewInt(typ *types.IntType, v *big.Int) *constant.Int {
	c := constant.NewInt(typ, 0)
	c.X = Canonical(typ.BitSize, v)
	return c
}

// Canonical truncates v to bits and returns its canonical representation.
func Canonical(bits uint64, v *big.Int) *big.Int {
	mod := new(big.Int).Lsh(big.NewInt(1), uint(bits))
	x := new(big.Int).Mod(v, mod)
	if bits == 1 {
		return x
	}
	half := new(big.Int).Rsh(mod, 1)
	if x.Cmp(half) >= 0 {
		x.Sub(x, mod)
	}
	return x
}

func Bool(b bool) *constant.Int {
	if b {
		return UInt(1, 1)
	}
	return UInt(1, 0)
}

func Int8(v int8) *constant.Int     { return SInt(8, int64(v)) }
func Int16(v int16) *constant.Int   { return SInt(16, int64(v)) }
func Int32(v int32) *constant.Int   { return SInt(32, int64(v)) }
func Int64(v int64) *constant.Int   { return SInt(64, v) }
func Int128(v int64) *constant.Int  { return SInt(128, v) }
func UInt8(v uint8) *constant.Int   { return UInt(8, uint64(v)) }
func UInt16(v uint16) *constant.Int { return UInt(16, uint64(v)) }
func UInt32(v uint32) *constant.Int { return UInt(32, uint64(v)) }
func UInt64(v uint64) *constant.Int { return UInt(64, v) }

func Half(v float64) *constant.Float     { return constant.NewFloat(types.Half, v) }
func Float(v float64) *constant.Float    { return constant.NewFloat(types.Float, float64(float32(v))) }
func Double(v float64) *constant.Float   { return constant.NewFloat(types.Double, v) }
func FP128(v float64) *constant.Float    { return constant.NewFloat(types.FP128, v) }
func X86FP80(v float64) *constant.Float  { return constant.NewFloat(types.X86_FP80, v) }
func PPCFP128(v float64) *constant.Float { return constant.NewFloat(types.PPC_FP128, v) }

// Null returns the null pointer of typ.
func Null(typ *types.PointerType) *constant.Null {
	return constant.NewNull(typ)
}

// Zero returns the zero value of typ.
func Zero(typ types.Type) constant.Constant {
	switch t := typ.(type) {
	case *types.IntType:
		return NewInt(t, new(big.Int))
	case *types.FloatType:
		return constant.NewFloat(t, 0)
	case *types.PointerType:
		return constant.NewNull(t)
	}
	return constant.NewZeroInitializer(typ)
}

// Bits returns the low 64 bits of c as an unsigned pattern, zero-extended
// from the type width.
func Bits(c *constant.Int) uint64 {
	return Truncate(c.Typ.BitSize, lowBits(c.X))
}

// SignedBits returns c sign-extended from its type width to 64 bits.
func SignedBits(c *constant.Int) int64 {
	return SignExtend(c.Typ.BitSize, lowBits(c.X))
}

// Truncate keeps the low bits of v.
func Truncate(bits uint64, v uint64) uint64 {
	if bits >= 64 {
		return v
	}
	return v & (1<<bits - 1)
}

// SignExtend interprets the low bits of v as a signed integer.
func SignExtend(bits uint64, v uint64) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

// FloatValue returns c as a float64. NaN constants yield NaN.
func FloatValue(c *constant.Float) float64 {
	if c.NaN {
		return math.NaN()
	}
	f, _ := c.X.Float64()
	return f
}

func lowBits(x *big.Int) uint64 {
	mod := new(big.Int).Lsh(big.NewInt(1), 64)
	return new(big.Int).Mod(x, mod).Uint64()
}

func intType(bits uint64) *types.IntType {
	switch bits {
	case 1:
		return types.I1
	case 8:
		return types.I8
	case 16:
		return types.I16
	case 32:
		return types.I32
	case 64:
		return types.I64
	}
	return types.NewInt(bits)
}
