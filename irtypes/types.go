// Package irtypes provides helper constructors and queries for IR types.
package irtypes

import (
	"github.com/llir/llvm/ir/types"
)

var (
	Void  types.Type = types.Void
	Label types.Type = types.Label

	Int1   = types.I1
	Int8   = types.I8
	Int16  = types.I16
	Int32  = types.I32
	Int64  = types.I64
	Int128 = types.NewInt(128)

	Half     = types.Half
	Float    = types.Float
	Double   = types.Double
	FP128    = types.FP128
	X86FP80  = types.X86_FP80
	PPCFP128 = types.PPC_FP128

	// CharPointer and Int8Pointer both denote i8*.
	CharPointer = types.NewPointer(types.I8)
	Int8Pointer = CharPointer
)

// Int returns the integer type of the given bit width.
func Int(bits uint64) *types.IntType {
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

// Pointer returns a pointer to elem in the default address space.
func Pointer(elem types.Type) *types.PointerType {
	return types.NewPointer(elem)
}

// PointerIn returns a pointer to elem in the given address space.
func PointerIn(elem types.Type, space uint64) *types.PointerType {
	p := types.NewPointer(elem)
	p.AddrSpace = types.AddrSpace(space)
	return p
}

// Array returns an array of n elements.
func Array(n uint64, elem types.Type) *types.ArrayType {
	return types.NewArray(n, elem)
}

// Func returns a non-variadic function type.
func Func(ret types.Type, params ...types.Type) *types.FuncType {
	return types.NewFunc(ret, params...)
}

// VariadicFunc returns a function type accepting extra arguments after params.
func VariadicFunc(ret types.Type, params ...types.Type) *types.FuncType {
	t := types.NewFunc(ret, params...)
	t.Variadic = true
	return t
}

// Equal reports whether t and u denote the same type. Nil equals only nil.
func Equal(t, u types.Type) bool {
	if t == nil || u == nil {
		return t == nil && u == nil
	}
	return t.Equal(u)
}

// String renders t in textual IR syntax, or "<nil>".
func String(t types.Type) string {
	if t == nil {
		return "<nil>"
	}
	return t.LLString()
}

// IsVoid reports whether t is the void type.
func IsVoid(t types.Type) bool {
	_, ok := t.(*types.VoidType)
	return ok
}

// IntBits returns the width of an integer type.
func IntBits(t types.Type) (uint64, bool) {
	if it, ok := t.(*types.IntType); ok {
		return it.BitSize, true
	}
	return 0, false
}

// FloatBits returns the storage width of a floating point type.
func FloatBits(t types.Type) (uint64, bool) {
	ft, ok := t.(*types.FloatType)
	if !ok {
		return 0, false
	}
	switch ft.Kind {
	case types.FloatKindHalf:
		return 16, true
	case types.FloatKindFloat:
		return 32, true
	case types.FloatKindDouble:
		return 64, true
	case types.FloatKindX86_FP80:
		return 80, true
	default:
		return 128, true
	}
}

// IsPointer reports whether t is a pointer type.
func IsPointer(t types.Type) bool {
	_, ok := t.(*types.PointerType)
	return ok
}

// IsFirstClass reports whether values of t can be function parameters,
// results or instruction operands.
func IsFirstClass(t types.Type) bool {
	switch t.(type) {
	case *types.IntType, *types.FloatType, *types.PointerType,
		*types.ArrayType, *types.StructType, *types.VectorType:
		return true
	}
	return false
}

// SizeOf returns the allocation size of t in bytes for a target with the
// given pointer size. Struct fields are laid out with natural alignment.
func SizeOf(t types.Type, ptrSize uint64) uint64 {
	switch t := t.(type) {
	case *types.IntType:
		return roundPow2((t.BitSize + 7) / 8)
	case *types.FloatType:
		bits, _ := FloatBits(t)
		if bits == 80 {
			return 16
		}
		return bits / 8
	case *types.PointerType:
		return ptrSize
	case *types.ArrayType:
		return t.Len * SizeOf(t.ElemType, ptrSize)
	case *types.VectorType:
		return t.Len * SizeOf(t.ElemType, ptrSize)
	case *types.StructType:
		var off, maxAlign uint64 = 0, 1
		for _, f := range t.Fields {
			a := AlignOf(f, ptrSize)
			if a > maxAlign {
				maxAlign = a
			}
			off = alignUp(off, a) + SizeOf(f, ptrSize)
		}
		return alignUp(off, maxAlign)
	}
	return 0
}

// AlignOf returns the natural alignment of t in bytes.
func AlignOf(t types.Type, ptrSize uint64) uint64 {
	switch t := t.(type) {
	case *types.ArrayType:
		return AlignOf(t.ElemType, ptrSize)
	case *types.VectorType:
		return AlignOf(t.ElemType, ptrSize)
	case *types.StructType:
		var a uint64 = 1
		for _, f := range t.Fields {
			if fa := AlignOf(f, ptrSize); fa > a {
				a = fa
			}
		}
		return a
	}
	s := SizeOf(t, ptrSize)
	if s == 0 {
		return 1
	}
	if s > 16 {
		return 16
	}
	return s
}

func alignUp(n, a uint64) uint64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

func roundPow2(n uint64) uint64 {
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// FieldOffsets returns the byte offset of every field of t.
func FieldOffsets(t *types.StructType, ptrSize uint64) []uint64 {
	out := make([]uint64, len(t.Fields))
	var off uint64
	for i, f := range t.Fields {
		off = alignUp(off, AlignOf(f, ptrSize))
		out[i] = off
		off += SizeOf(f, ptrSize)
	}
	return out
}

// AlignUp rounds n up to a multiple of a.
func AlignUp(n, a uint64) uint64 {
	return alignUp(n, a)
}
