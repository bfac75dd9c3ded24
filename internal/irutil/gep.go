package irutil

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/wippyai/irkit/irconst"
	"github.com/wippyai/irkit/irtypes"
)

// Step is a run-time term of an address: Index times Scale bytes. Index is
// a signed integer of any width.
type Step struct {
	Index value.Value
	Scale uint64
}

// Address is what a getelementptr adds to its source pointer.
type Address struct {
	Offset int64
	Steps  []Step
}

// GEPAddress walks the indices of a getelementptr over elem. The first
// index steps over whole elements of elem; later indices select array
// elements or struct fields. Fields must be selected by constants.
func GEPAddress(elem types.Type, indices []value.Value, ptrSize uint64) (Address, error) {
	var a Address
	t := elem
	for i, idx := range indices {
		if i > 0 {
			switch agg := t.(type) {
			case *types.ArrayType:
				t = agg.ElemType
			case *types.StructType:
				k, ok := constIndex(idx)
				if !ok {
					return a, fmt.Errorf("field index %d of %s is not a constant", i, agg.LLString())
				}
				if k < 0 || k >= int64(len(agg.Fields)) {
					return a, fmt.Errorf("field %d out of range for %s", k, agg.LLString())
				}
				a.Offset += int64(irtypes.FieldOffsets(agg, ptrSize)[k])
				t = agg.Fields[k]
				continue
			default:
				return a, fmt.Errorf("cannot index into %s", t.LLString())
			}
		}
		size := irtypes.SizeOf(t, ptrSize)
		if k, ok := constIndex(idx); ok {
			a.Offset += k * int64(size)
			continue
		}
		if _, ok := idx.Type().(*types.IntType); !ok {
			return a, fmt.Errorf("index of type %s", idx.Type().LLString())
		}
		if size != 0 {
			a.Steps = append(a.Steps, Step{Index: idx, Scale: size})
		}
	}
	return a, nil
}

func constIndex(v value.Value) (int64, bool) {
	if idx, ok := v.(*constant.Index); ok {
		v = idx.Constant
	}
	switch c := v.(type) {
	case *constant.Int:
		return irconst.SignedBits(c), true
	case *constant.ZeroInitializer:
		if _, ok := c.Typ.(*types.IntType); ok {
			return 0, true
		}
	}
	return 0, false
}

// ConstAddress resolves a constant pointer to the global or function it is
// based on and a byte offset. Bitcasts and getelementptr expressions with
// constant indices are looked through.
func ConstAddress(c constant.Constant, ptrSize uint64) (constant.Constant, int64, error) {
	switch c := c.(type) {
	case *ir.Global, *ir.Func:
		return c, 0, nil
	case *constant.ExprBitCast:
		return ConstAddress(c.From, ptrSize)
	case *constant.ExprGetElementPtr:
		base, off, err := ConstAddress(c.Src, ptrSize)
		if err != nil {
			return nil, 0, err
		}
		indices := make([]value.Value, len(c.Indices))
		for i, idx := range c.Indices {
			indices[i] = idx
		}
		a, err := GEPAddress(c.ElemType, indices, ptrSize)
		if err != nil {
			return nil, 0, err
		}
		if len(a.Steps) != 0 {
			return nil, 0, fmt.Errorf("getelementptr expression with non-constant indices")
		}
		return base, off + a.Offset, nil
	}
	return nil, 0, fmt.Errorf("constant %s is not an address", c.Ident())
}
