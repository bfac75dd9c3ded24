package irutil

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"

	"github.com/wippyai/irkit/irconst"
	"github.com/wippyai/irkit/irtypes"
)

// Layout writes constants in their little-endian in-memory representation.
type Layout struct {
	PtrSize uint64
	// Symbol stores a reference to a global or function at buf[off:].
	Symbol func(buf []byte, off uint64, sym constant.Constant) error
}

// Encode writes c into buf at off. buf starts zeroed, so zero-valued
// constants write nothing.
func (l Layout) Encode(buf []byte, off uint64, c constant.Constant) error {
	switch c := c.(type) {
	case *constant.Int:
		size := irtypes.SizeOf(c.Typ, l.PtrSize)
		if size > 8 {
			return fmt.Errorf("%s constants", c.Typ.LLString())
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], irconst.Bits(c))
		copy(buf[off:off+size], tmp[:size])
	case *constant.Float:
		switch c.Typ.Kind {
		case types.FloatKindFloat:
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(irconst.FloatValue(c))))
		case types.FloatKindDouble:
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(irconst.FloatValue(c)))
		default:
			return fmt.Errorf("%s constants", c.Typ.LLString())
		}
	case *constant.Null, *constant.ZeroInitializer, *constant.Undef:
	case *ir.Global, *ir.Func:
		if l.Symbol == nil {
			return fmt.Errorf("reference to %s", c.Ident())
		}
		return l.Symbol(buf, off, c)
	case *constant.CharArray:
		copy(buf[off:], c.X)
	case *constant.Array:
		elemSize := irtypes.SizeOf(c.Typ.ElemType, l.PtrSize)
		for i, e := range c.Elems {
			if err := l.Encode(buf, off+uint64(i)*elemSize, e); err != nil {
				return err
			}
		}
	case *constant.Struct:
		offsets := irtypes.FieldOffsets(c.Typ, l.PtrSize)
		for i, f := range c.Fields {
			if err := l.Encode(buf, off+offsets[i], f); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("constant %s", c.Ident())
	}
	return nil
}
