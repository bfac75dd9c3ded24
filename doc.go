// Package irkit is a type-safe facade over an LLVM IR construction toolkit.
//
// Host programs build IR modules, verify them, execute them on an interpreter
// or a JIT, and emit them as relocatable native object files. The facade owns
// the lifecycle of every toolkit resource: modules live in a context arena and
// are reached through generational handles, so a handle that outlives its
// module is reported as stale instead of touching released memory.
//
// # Architecture Overview
//
//	irkit/               CPU and CodegenLevel configuration enums
//	├── module/          Context, Module, Function, Block, Builder, verifier, rendering
//	├── irtypes/         Type helper constructors
//	├── irconst/         Constant helper constructors
//	├── engine/          Interpreter and JIT execution (wazero)
//	├── target/          Native backend initialization and object emission
//	├── wasm/            WebAssembly module model used as the execution image
//	├── handle/          Generational handle table
//	├── errors/          Structured error types
//	└── cmd/irkit/       Command line tool
//
// # Quick Start
//
// Build and run a function:
//
//	m := module.Create("calc")
//	defer m.Dispose()
//
//	add, _ := m.AddFunction("add", irtypes.Func(irtypes.Int32, irtypes.Int32, irtypes.Int32))
//	entry, _ := add.AppendBlock("entry")
//
//	b := module.NewBuilder()
//	b.PositionAtEnd(entry)
//	x, _ := add.Parameter(0)
//	y, _ := add.Parameter(1)
//	b.Ret(b.Add(x, y))
//
//	if err := m.Verify(); err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := engine.NewInterpreter(ctx, m)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	res, _ := eng.Run(ctx, add, engine.NewGenericInt(irtypes.Int32, 2), engine.NewGenericInt(irtypes.Int32, 3))
//	fmt.Println(res.ToInt(true)) // 5
//
// # Object Emission
//
//	target.MustInitializeNative()
//	err := target.EmitObject(m, irkit.O2, "calc.o", irkit.CPUNative)
package irkit
