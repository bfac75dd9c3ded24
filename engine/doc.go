// Package engine executes IR modules on an interpreter or a JIT.
//
// An Engine binds one verified module. Construction lowers the module to a
// WebAssembly image (see internal/lower) and instantiates it on wazero, using
// the interpreter or the compiler backend. A process-wide compilation cache is
// shared by every engine.
//
// # Engine Lifecycle
//
//  1. NewInterpreter, NewJIT or New verifies and lowers the module
//  2. Run executes a function of the bound module synchronously
//  3. Close releases the wazero runtime
//
// The engine remembers the module revision it was built from. Running after
// the module was mutated or disposed fails with a stale handle error; build a
// new engine instead.
//
// # Value Mapping
//
//	IR Type          Guest Representation
//	──────────────────────────────────────
//	i1 .. i32        i32, zero-extended
//	i33 .. i64       i64, zero-extended
//	float, double    f32, f64
//	pointers         i32 guest address
//
// Arguments and results travel as GenericValue. Pointers are addresses in the
// engine's linear memory, readable with ReadMemory.
//
// # Instructions
//
// Integer and floating point arithmetic except frem, icmp, fcmp, every cast,
// alloca, load, store, getelementptr, select, phi and direct calls are
// supported, as are getelementptr and bitcast constant expressions over
// globals. Aggregate values (extractvalue, insertvalue, first-class structs
// and arrays), vectors, atomics and indirect calls are rejected with an
// unsupported error when the engine is built.
//
// # Externals
//
// Declared functions are resolved against Config.Externals. A declared function
// without an implementation traps when called. An External may use
// GlobalAddress, ReadMemory and WriteMemory on the engine that called it.
package engine
