package wasm

import (
	"github.com/wippyai/irkit/wasm/internal/binary"
)

// Code assembles the instruction stream of one function body. It tracks
// structured control nesting so that Depth reports the number of open
// blocks, and a body is complete once End has closed the implicit
// function block.
type Code struct {
	w     *binary.Writer
	depth int
}

// NewCode starts an empty function body.
func NewCode() *Code {
	return &Code{w: binary.NewWriter()}
}

// Bytes returns the encoded instructions.
func (c *Code) Bytes() []byte {
	return c.w.Bytes()
}

// Depth returns the number of currently open block, loop and if
// constructs.
func (c *Code) Depth() int {
	return c.depth
}

// Op writes a bare opcode.
func (c *Code) Op(op byte) *Code {
	c.w.Byte(op)
	return c
}

// Block opens a void block.
func (c *Code) Block() *Code {
	c.w.Byte(OpBlock)
	c.w.WriteS32(BlockTypeVoid)
	c.depth++
	return c
}

// Loop opens a void loop.
func (c *Code) Loop() *Code {
	c.w.Byte(OpLoop)
	c.w.WriteS32(BlockTypeVoid)
	c.depth++
	return c
}

// If opens a void if, consuming an i32 condition.
func (c *Code) If() *Code {
	c.w.Byte(OpIf)
	c.w.WriteS32(BlockTypeVoid)
	c.depth++
	return c
}

// Else switches to the else arm of the innermost if.
func (c *Code) Else() *Code {
	c.w.Byte(OpElse)
	return c
}

// End closes the innermost construct, or the function body at depth 0.
func (c *Code) End() *Code {
	c.w.Byte(OpEnd)
	if c.depth > 0 {
		c.depth--
	}
	return c
}

// Br branches to the label depth levels out.
func (c *Code) Br(depth uint32) *Code {
	c.w.Byte(OpBr)
	c.w.WriteU32(depth)
	return c
}

// BrTable branches on an i32 index to labels, falling back to def.
func (c *Code) BrTable(labels []uint32, def uint32) *Code {
	c.w.Byte(OpBrTable)
	c.w.WriteU32(uint32(len(labels)))
	for _, l := range labels {
		c.w.WriteU32(l)
	}
	c.w.WriteU32(def)
	return c
}

// Call calls function idx.
func (c *Code) Call(idx uint32) *Code {
	c.w.Byte(OpCall)
	c.w.WriteU32(idx)
	return c
}

// LocalGet pushes local idx.
func (c *Code) LocalGet(idx uint32) *Code {
	c.w.Byte(OpLocalGet)
	c.w.WriteU32(idx)
	return c
}

// LocalSet pops into local idx.
func (c *Code) LocalSet(idx uint32) *Code {
	c.w.Byte(OpLocalSet)
	c.w.WriteU32(idx)
	return c
}

// LocalTee stores into local idx and keeps the value on the stack.
func (c *Code) LocalTee(idx uint32) *Code {
	c.w.Byte(OpLocalTee)
	c.w.WriteU32(idx)
	return c
}

// GlobalGet pushes global idx.
func (c *Code) GlobalGet(idx uint32) *Code {
	c.w.Byte(OpGlobalGet)
	c.w.WriteU32(idx)
	return c
}

// GlobalSet pops into global idx.
func (c *Code) GlobalSet(idx uint32) *Code {
	c.w.Byte(OpGlobalSet)
	c.w.WriteU32(idx)
	return c
}

// I32Const pushes v.
func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(OpI32Const)
	c.w.WriteS32(v)
	return c
}

// I64Const pushes v.
func (c *Code) I64Const(v int64) *Code {
	c.w.Byte(OpI64Const)
	c.w.WriteS64(v)
	return c
}

// F32Const pushes v.
func (c *Code) F32Const(v float32) *Code {
	c.w.Byte(OpF32Const)
	c.w.WriteF32(v)
	return c
}

// F64Const pushes v.
func (c *Code) F64Const(v float64) *Code {
	c.w.Byte(OpF64Const)
	c.w.WriteF64(v)
	return c
}

// Mem writes a load or store with its alignment exponent and a zero
// offset.
func (c *Code) Mem(op byte, alignLog2 uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(alignLog2)
	c.w.WriteU32(0)
	return c
}

// Misc writes a 0xFC-prefixed instruction.
func (c *Code) Misc(sub uint32) *Code {
	c.w.Byte(OpPrefixMisc)
	c.w.WriteU32(sub)
	return c
}
