// Package wasm models the WebAssembly module images that the engine lowers
// IR into.
//
// The package covers the part of the binary format such images use: a
// type section, function imports, defined functions, a single linear
// memory, mutable globals, exports and active data segments.
//
// # Building
//
// Function bodies are assembled with Code, which writes instructions and
// tracks structured nesting:
//
//	c := wasm.NewCode()
//	c.LocalGet(0).LocalGet(1).Op(wasm.OpI32Add).End()
//
//	m := &wasm.Module{}
//	t := m.AddType(wasm.FuncType{
//	    Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
//	    Results: []wasm.ValType{wasm.ValI32},
//	})
//	m.Funcs = append(m.Funcs, t)
//	m.Code = append(m.Code, wasm.FuncBody{Code: c.Bytes()})
//	m.Exports = append(m.Exports, wasm.Export{Name: "add", Kind: wasm.KindFunc, Idx: 0})
//
// # Encoding
//
//	if err := m.Validate(); err != nil {
//	    return err
//	}
//	bin := m.Encode()
//
// Validate checks indices, limits and segment bounds. Instruction streams
// are type-checked by the runtime when the binary is compiled.
package wasm
