package engine

import (
	"fmt"
	"math"

	"github.com/llir/llvm/ir/types"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/irkit/irconst"
	"github.com/wippyai/irkit/irtypes"
)

// GenericValue is a typed argument or result: an integer, a floating point
// value or a guest pointer. The zero GenericValue has no type.
type GenericValue struct {
	typ  types.Type
	bits uint64
}

// NewGenericInt returns an integer value of type t. v is truncated to the
// width of t.
func NewGenericInt(t *types.IntType, v uint64) GenericValue {
	return GenericValue{typ: t, bits: irconst.Truncate(t.BitSize, v)}
}

// NewGenericSInt returns a signed integer value of type t.
func NewGenericSInt(t *types.IntType, v int64) GenericValue {
	return NewGenericInt(t, uint64(v))
}

// NewGenericFloat returns a float or double value. A float value is rounded
// to single precision.
func NewGenericFloat(t *types.FloatType, v float64) GenericValue {
	if t.Kind == types.FloatKindFloat {
		v = float64(float32(v))
	}
	return GenericValue{typ: t, bits: math.Float64bits(v)}
}

// NewGenericPointer returns a pointer to addr in the engine's memory.
func NewGenericPointer(t *types.PointerType, addr uint32) GenericValue {
	return GenericValue{typ: t, bits: uint64(addr)}
}

// Type returns the IR type of v, or nil for the zero value.
func (v GenericValue) Type() types.Type { return v.typ }

// ToInt returns the integer value. With signed set the value is
// sign-extended from its width.
func (v GenericValue) ToInt(signed bool) uint64 {
	bits, ok := irtypes.IntBits(v.typ)
	if !ok {
		return v.bits
	}
	if signed {
		return uint64(irconst.SignExtend(bits, v.bits))
	}
	return v.bits
}

// ToFloat returns the floating point value.
func (v GenericValue) ToFloat() float64 {
	if _, ok := v.typ.(*types.FloatType); !ok {
		return 0
	}
	return math.Float64frombits(v.bits)
}

// ToPointer returns the guest address of a pointer value.
func (v GenericValue) ToPointer() uint32 {
	return uint32(v.bits)
}

func (v GenericValue) String() string {
	switch t := v.typ.(type) {
	case nil:
		return "<none>"
	case *types.IntType:
		if t.BitSize == 1 {
			return fmt.Sprintf("i1 %t", v.bits != 0)
		}
		return fmt.Sprintf("%s %d", t.LLString(), int64(v.ToInt(true)))
	case *types.FloatType:
		return fmt.Sprintf("%s %g", t.LLString(), v.ToFloat())
	case *types.PointerType:
		return fmt.Sprintf("%s 0x%x", t.LLString(), v.ToPointer())
	}
	return fmt.Sprintf("%s 0x%x", v.typ.LLString(), v.bits)
}

// raw encodes v as a wazero stack value.
func (v GenericValue) raw() uint64 {
	switch t := v.typ.(type) {
	case *types.FloatType:
		f := math.Float64frombits(v.bits)
		if t.Kind == types.FloatKindFloat {
			return api.EncodeF32(float32(f))
		}
		return api.EncodeF64(f)
	case *types.PointerType:
		return api.EncodeU32(uint32(v.bits))
	}
	return v.bits
}

// fromRaw decodes a wazero stack value of IR type t.
func fromRaw(t types.Type, raw uint64) GenericValue {
	switch tt := t.(type) {
	case *types.IntType:
		return GenericValue{typ: t, bits: irconst.Truncate(tt.BitSize, raw)}
	case *types.FloatType:
		if tt.Kind == types.FloatKindFloat {
			return GenericValue{typ: t, bits: math.Float64bits(float64(api.DecodeF32(raw)))}
		}
		return GenericValue{typ: t, bits: math.Float64bits(api.DecodeF64(raw))}
	case *types.PointerType:
		return GenericValue{typ: t, bits: uint64(uint32(raw))}
	}
	return GenericValue{typ: t, bits: raw}
}

// accepts reports whether a value of type got can be passed where want is
// expected. Pointers are interchangeable: they are all guest addresses.
func accepts(want, got types.Type) bool {
	if got == nil {
		return false
	}
	if irtypes.IsPointer(want) && irtypes.IsPointer(got) {
		return true
	}
	return irtypes.Equal(want, got)
}

// FuncallResult is the outcome of Run.
type FuncallResult struct {
	value GenericValue
	void  bool
}

// IsVoid reports whether the function returned no value.
func (r FuncallResult) IsVoid() bool { return r.void }

// Type returns the IR type of the result; void results report types.Void.
func (r FuncallResult) Type() types.Type {
	if r.void {
		return types.Void
	}
	return r.value.typ
}

// Value returns the result as a GenericValue.
func (r FuncallResult) Value() GenericValue { return r.value }

// ToInt returns an integer result, sign-extended when signed is set.
func (r FuncallResult) ToInt(signed bool) uint64 { return r.value.ToInt(signed) }

// ToFloat returns a floating point result.
func (r FuncallResult) ToFloat() float64 { return r.value.ToFloat() }

// ToPointer returns a pointer result.
func (r FuncallResult) ToPointer() uint32 { return r.value.ToPointer() }

func (r FuncallResult) String() string {
	if r.void {
		return "void"
	}
	return r.value.String()
}
