package lower

import (
	"github.com/llir/llvm/ir/types"

	"github.com/wippyai/irkit/wasm"
)

// PointerSize is the size of a pointer in the execution image.
const PointerSize = 4

// scalar describes how an IR value is held in a wasm value. Integers
// narrower than their container are kept zero-extended; pointers are i32
// addresses.
type scalar struct {
	vt    wasm.ValType
	bits  uint64
	ptr   bool
	float bool
}

func classify(t types.Type) (scalar, bool) {
	switch t := t.(type) {
	case *types.IntType:
		switch {
		case t.BitSize == 0 || t.BitSize > 64:
			return scalar{}, false
		case t.BitSize <= 32:
			return scalar{vt: wasm.ValI32, bits: t.BitSize}, true
		default:
			return scalar{vt: wasm.ValI64, bits: t.BitSize}, true
		}
	case *types.PointerType:
		return scalar{vt: wasm.ValI32, bits: 32, ptr: true}, true
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindFloat:
			return scalar{vt: wasm.ValF32, bits: 32, float: true}, true
		case types.FloatKindDouble:
			return scalar{vt: wasm.ValF64, bits: 64, float: true}, true
		}
	}
	return scalar{}, false
}

// narrow reports whether the integer does not fill its container.
func (s scalar) narrow() bool {
	return !s.float && !s.ptr && s.bits != 32 && s.bits != 64
}

func (s scalar) wide() bool {
	return s.vt == wasm.ValI64 || s.vt == wasm.ValF64
}

// ValType maps an IR type to its wasm value type.
func ValType(t types.Type) (wasm.ValType, bool) {
	s, ok := classify(t)
	return s.vt, ok
}
