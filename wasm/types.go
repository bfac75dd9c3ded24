package wasm

// Module is an in-memory WebAssembly module image. It models the subset of
// the binary format that lowered IR needs: function imports, one memory,
// mutable globals, exports, code and active data.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type index of each defined function
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Code     []FuncBody
	Data     []DataSegment
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Equal reports whether two signatures are identical.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// ValType is a value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	default:
		return "unknown"
	}
}

// Import is a function import.
type Import struct {
	Module  string
	Name    string
	TypeIdx uint32
}

// Limits bounds a memory in pages.
type Limits struct {
	Max *uint64
	Min uint64
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a global definition with its constant initializer expression,
// terminated by OpEnd.
type Global struct {
	Init []byte
	Type GlobalType
}

// Export exposes a definition under a name.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// FuncBody is a function body. Code holds the instruction bytes including
// the final OpEnd.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// DataSegment is an active data segment for memory 0.
type DataSegment struct {
	Offset uint32
	Init   []byte
}

// NumImportedFuncs returns the number of imported functions. Defined
// functions are indexed after them.
func (m *Module) NumImportedFuncs() int {
	return len(m.Imports)
}

// AddType returns the index of ft, appending it if it is new.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, t := range m.Types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

// GetFuncType returns the signature of function funcIdx, counting imports
// first.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	var typeIdx uint32
	if int(funcIdx) < len(m.Imports) {
		typeIdx = m.Imports[funcIdx].TypeIdx
	} else {
		local := int(funcIdx) - len(m.Imports)
		if local >= len(m.Funcs) {
			return nil
		}
		typeIdx = m.Funcs[local]
	}
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}
