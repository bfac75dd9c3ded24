package lower

import (
	"encoding/binary"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"

	"github.com/wippyai/irkit/internal/irutil"
)

// encodeConst writes the in-memory representation of c into buf at off.
// Globals resolve to their image address; function pointers have no
// address in the image.
func (l *lowerer) encodeConst(buf []byte, off uint64, c constant.Constant) error {
	layout := irutil.Layout{
		PtrSize: PointerSize,
		Symbol: func(buf []byte, off uint64, sym constant.Constant) error {
			g, ok := sym.(*ir.Global)
			if !ok {
				return fmt.Errorf("function pointers")
			}
			binary.LittleEndian.PutUint32(buf[off:], l.addrs[g])
			return nil
		},
	}
	return layout.Encode(buf, off, c)
}
