package engine

import (
	"context"
	stderrors "errors"
	"encoding/binary"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/irconst"
	"github.com/wippyai/irkit/irtypes"
	"github.com/wippyai/irkit/module"
)

func newModule(t *testing.T, name string) module.Module {
	t.Helper()
	ctx := module.NewContext()
	m, err := module.CreateInContext(name, ctx)
	if err != nil {
		t.Fatalf("CreateInContext: %v", err)
	}
	t.Cleanup(func() { _ = ctx.Dispose() })
	return m
}

func newEngine(t *testing.T, m module.Module, cfg Config) *Engine {
	t.Helper()
	e, err := New(context.Background(), m, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func constFunction(t *testing.T, m module.Module, name string, k uint32) module.Function {
	t.Helper()
	fn, err := m.AddFunction(name, irtypes.Func(irtypes.Int32))
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	blk, _ := fn.AppendBlock("entry")
	b := module.NewBuilder().PositionAtEnd(blk)
	b.Ret(irconst.UInt32(k))
	if err := b.Err(); err != nil {
		t.Fatalf("builder: %v", err)
	}
	return fn
}

// buildCalc adds a handful of functions that cover arithmetic, control flow,
// memory and floating point.
func buildCalc(t *testing.T, m module.Module) {
	t.Helper()
	b := module.NewBuilder()

	// i32 add(i32, i32)
	add, _ := m.AddFunction("add", irtypes.Func(irtypes.Int32, irtypes.Int32, irtypes.Int32))
	entry, _ := add.AppendBlock("entry")
	x, _ := add.Parameter(0)
	y, _ := add.Parameter(1)
	b.PositionAtEnd(entry).Ret(b.Add(x, y))

	// i8 inc8(i8) wraps at 256.
	inc, _ := m.AddFunction("inc8", irtypes.Func(irtypes.Int8, irtypes.Int8))
	entry, _ = inc.AppendBlock("entry")
	v, _ := inc.Parameter(0)
	b.PositionAtEnd(entry).Ret(b.Add(v, irconst.Int8(1)))

	// i64 fact(i64) with a loop and phis.
	fact, _ := m.AddFunction("fact", irtypes.Func(irtypes.Int64, irtypes.Int64))
	entry, _ = fact.AppendBlock("entry")
	loop, _ := fact.AppendBlock("loop")
	exit, _ := fact.AppendBlock("exit")
	n, _ := fact.Parameter(0)
	b.PositionAtEnd(entry).Br(loop)
	b.PositionAtEnd(loop)
	i := b.Phi(irtypes.Int64)
	acc := b.Phi(irtypes.Int64)
	next := b.Mul(acc, i)
	inext := b.Add(i, irconst.Int64(1))
	b.AddIncoming(i, irconst.Int64(1), entry)
	b.AddIncoming(i, inext, loop)
	b.AddIncoming(acc, irconst.Int64(1), entry)
	b.AddIncoming(acc, next, loop)
	b.CondBr(b.ICmp(enum.IPredSGT, inext, n), exit, loop)
	b.PositionAtEnd(exit).Ret(next)

	// i32 clamp(i32) with constant folding opportunities.
	clamp, _ := m.AddFunction("clamp", irtypes.Func(irtypes.Int32, irtypes.Int32))
	entry, _ = clamp.AppendBlock("entry")
	low, _ := clamp.AppendBlock("low")
	mid, _ := clamp.AppendBlock("mid")
	high, _ := clamp.AppendBlock("high")
	keep, _ := clamp.AppendBlock("keep")
	c, _ := clamp.Parameter(0)
	b.PositionAtEnd(entry)
	lim := b.Mul(irconst.Int32(10), irconst.Int32(10))
	b.CondBr(b.ICmp(enum.IPredSLT, c, irconst.Int32(0)), low, mid)
	b.PositionAtEnd(low).Ret(irconst.Int32(0))
	b.PositionAtEnd(mid)
	b.CondBr(b.ICmp(enum.IPredSGT, c, lim), high, keep)
	b.PositionAtEnd(high).Ret(lim)
	b.PositionAtEnd(keep).Ret(c)

	// double hyp2(double, double) = a*a + b*b
	hyp, _ := m.AddFunction("hyp2", irtypes.Func(irtypes.Double, irtypes.Double, irtypes.Double))
	entry, _ = hyp.AppendBlock("entry")
	a, _ := hyp.Parameter(0)
	bb, _ := hyp.Parameter(1)
	b.PositionAtEnd(entry).Ret(b.FAdd(b.FMul(a, a), b.FMul(bb, bb)))

	// i32 div(i32, i32) traps on zero.
	div, _ := m.AddFunction("div", irtypes.Func(irtypes.Int32, irtypes.Int32, irtypes.Int32))
	entry, _ = div.AppendBlock("entry")
	p, _ := div.Parameter(0)
	q, _ := div.Parameter(1)
	b.PositionAtEnd(entry).Ret(b.SDiv(p, q))

	// void boom()
	boom, _ := m.AddFunction("boom", irtypes.Func(irtypes.Void))
	entry, _ = boom.AppendBlock("entry")
	b.PositionAtEnd(entry).Unreachable()

	if err := b.Err(); err != nil {
		t.Fatalf("builder: %v", err)
	}
}

func TestInterpreterReturnsConstant(t *testing.T) {
	for _, k := range []uint32{0, 1, 42, math.MaxUint32} {
		t.Run(fmt.Sprint(k), func(t *testing.T) {
			m := newModule(t, "k")
			fn := constFunction(t, m, "k", k)
			if err := m.Verify(); err != nil {
				t.Fatalf("Verify: %v", err)
			}

			e, err := NewInterpreter(context.Background(), m)
			if err != nil {
				t.Fatalf("NewInterpreter: %v", err)
			}
			defer e.Close(context.Background())

			res, err := e.Run(context.Background(), fn)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.IsVoid() {
				t.Fatal("result is void")
			}
			if got := res.ToInt(false); got != uint64(k) {
				t.Errorf("ToInt(false) = %d, want %d", got, k)
			}
			if !irtypes.Equal(res.Type(), irtypes.Int32) {
				t.Errorf("Type() = %v", res.Type())
			}
		})
	}
}

func TestJITScenarioMain(t *testing.T) {
	if !JITSupported() {
		t.Skip("no JIT backend on this host")
	}
	m := newModule(t, "m")
	fn, _ := m.AddFunction("main", irtypes.Func(irtypes.Void))
	fn.AppendBlock("entry")
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	e, err := NewJIT(context.Background(), m, irkit.O2)
	if err != nil {
		t.Fatalf("NewJIT: %v", err)
	}
	defer e.Close(context.Background())
	if e.Mode() != ModeJIT {
		t.Errorf("Mode() = %s", e.Mode())
	}

	res, err := e.Run(context.Background(), fn)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.IsVoid() {
		t.Errorf("result = %s, want void", res)
	}
}

func TestRunCalc(t *testing.T) {
	tests := []struct {
		fn     string
		args   []GenericValue
		signed bool
		want   uint64
	}{
		{"add", []GenericValue{NewGenericInt(irtypes.Int32, 2), NewGenericInt(irtypes.Int32, 3)}, true, 5},
		{"add", []GenericValue{NewGenericSInt(irtypes.Int32, -7), NewGenericInt(irtypes.Int32, 3)}, true, uint64(math.MaxUint64 - 3)},
		{"inc8", []GenericValue{NewGenericInt(irtypes.Int8, 255)}, false, 0},
		{"inc8", []GenericValue{NewGenericInt(irtypes.Int8, 126)}, true, 127},
		{"fact", []GenericValue{NewGenericInt(irtypes.Int64, 10)}, false, 3628800},
		{"fact", []GenericValue{NewGenericInt(irtypes.Int64, 20)}, false, 2432902008176640000},
		{"clamp", []GenericValue{NewGenericSInt(irtypes.Int32, -5)}, true, 0},
		{"clamp", []GenericValue{NewGenericInt(irtypes.Int32, 50)}, true, 50},
		{"clamp", []GenericValue{NewGenericInt(irtypes.Int32, 500)}, true, 100},
		{"div", []GenericValue{NewGenericSInt(irtypes.Int32, -9), NewGenericInt(irtypes.Int32, 2)}, true, uint64(math.MaxUint64 - 3)},
	}

	for _, level := range []irkit.CodegenLevel{irkit.O0, irkit.O1, irkit.O2, irkit.O3} {
		t.Run(level.String(), func(t *testing.T) {
			m := newModule(t, "calc")
			buildCalc(t, m)
			e := newEngine(t, m, Config{Mode: ModeInterpreter, OptLevel: level})
			if e.OptLevel() != level {
				t.Errorf("OptLevel() = %s", e.OptLevel())
			}

			for _, tt := range tests {
				res, err := e.RunByName(context.Background(), tt.fn, tt.args...)
				if err != nil {
					t.Fatalf("%s%v: %v", tt.fn, tt.args, err)
				}
				if got := res.ToInt(tt.signed); got != tt.want {
					t.Errorf("%s%v = %d, want %d", tt.fn, tt.args, got, tt.want)
				}
			}

			res, err := e.RunByName(context.Background(), "hyp2",
				NewGenericFloat(irtypes.Double, 3), NewGenericFloat(irtypes.Double, 4))
			if err != nil {
				t.Fatalf("hyp2: %v", err)
			}
			if res.ToFloat() != 25 {
				t.Errorf("hyp2(3, 4) = %g, want 25", res.ToFloat())
			}
		})
	}
}

func TestJITMatchesInterpreter(t *testing.T) {
	if !JITSupported() {
		t.Skip("no JIT backend on this host")
	}
	m := newModule(t, "calc")
	buildCalc(t, m)
	interp := newEngine(t, m, Config{Mode: ModeInterpreter})
	jit := newEngine(t, m, Config{Mode: ModeJIT, OptLevel: irkit.O3})

	for _, n := range []uint64{1, 5, 12} {
		arg := NewGenericInt(irtypes.Int64, n)
		want, err := interp.RunByName(context.Background(), "fact", arg)
		if err != nil {
			t.Fatalf("interpreter: %v", err)
		}
		got, err := jit.RunByName(context.Background(), "fact", arg)
		if err != nil {
			t.Fatalf("jit: %v", err)
		}
		if got.ToInt(false) != want.ToInt(false) {
			t.Errorf("fact(%d): jit %d, interpreter %d", n, got.ToInt(false), want.ToInt(false))
		}
	}
}

func TestTrap(t *testing.T) {
	m := newModule(t, "calc")
	buildCalc(t, m)
	e := newEngine(t, m, Config{})

	_, err := e.RunByName(context.Background(), "boom")
	if !errors.IsKind(err, errors.KindTrap) {
		t.Fatalf("boom: got %v, want trap", err)
	}
	_, err = e.RunByName(context.Background(), "div", NewGenericInt(irtypes.Int32, 1), NewGenericInt(irtypes.Int32, 0))
	if !errors.IsKind(err, errors.KindTrap) {
		t.Fatalf("div by zero: got %v, want trap", err)
	}

	// The engine survives a trap.
	res, err := e.RunByName(context.Background(), "add", NewGenericInt(irtypes.Int32, 1), NewGenericInt(irtypes.Int32, 1))
	if err != nil || res.ToInt(false) != 2 {
		t.Fatalf("add after trap = (%v, %v)", res, err)
	}
}

func TestStaleEngine(t *testing.T) {
	t.Run("module mutated", func(t *testing.T) {
		m := newModule(t, "m")
		fn := constFunction(t, m, "k", 7)
		e := newEngine(t, m, Config{})
		if _, err := e.Run(context.Background(), fn); err != nil {
			t.Fatalf("Run: %v", err)
		}

		constFunction(t, m, "other", 8)
		_, err := e.Run(context.Background(), fn)
		if !errors.IsKind(err, errors.KindStaleHandle) {
			t.Fatalf("Run after mutation: got %v, want stale handle", err)
		}
	})

	t.Run("module disposed", func(t *testing.T) {
		m := newModule(t, "m")
		fn := constFunction(t, m, "k", 7)
		e := newEngine(t, m, Config{})
		if err := m.Dispose(); err != nil {
			t.Fatalf("Dispose: %v", err)
		}
		_, err := e.Run(context.Background(), fn)
		if !errors.IsKind(err, errors.KindStaleHandle) {
			t.Fatalf("Run after dispose: got %v, want stale handle", err)
		}
	})

	t.Run("engine closed", func(t *testing.T) {
		m := newModule(t, "m")
		fn := constFunction(t, m, "k", 7)
		e, err := NewInterpreter(context.Background(), m)
		if err != nil {
			t.Fatalf("NewInterpreter: %v", err)
		}
		if err := e.Close(context.Background()); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := e.Close(context.Background()); err != nil {
			t.Fatalf("second Close: %v", err)
		}
		_, err = e.Run(context.Background(), fn)
		if !errors.IsKind(err, errors.KindStaleHandle) {
			t.Fatalf("Run after Close: got %v, want stale handle", err)
		}
	})
}

func TestRunRejectsBadCalls(t *testing.T) {
	m := newModule(t, "calc")
	buildCalc(t, m)
	e := newEngine(t, m, Config{})
	add, _ := m.LookupFunction("add")

	other := newModule(t, "other")
	foreign := constFunction(t, other, "add", 1)

	tests := []struct {
		name string
		fn   module.Function
		args []GenericValue
		kind errors.Kind
	}{
		{"null function", module.Function{}, nil, errors.KindNullHandle},
		{"foreign function", foreign, nil, errors.KindInvalidInput},
		{"too few arguments", add, []GenericValue{NewGenericInt(irtypes.Int32, 1)}, errors.KindInvalidInput},
		{"wrong argument type", add, []GenericValue{NewGenericInt(irtypes.Int32, 1), NewGenericInt(irtypes.Int64, 1)}, errors.KindTypeMismatch},
		{"untyped argument", add, []GenericValue{NewGenericInt(irtypes.Int32, 1), {}}, errors.KindTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Run(context.Background(), tt.fn, tt.args...)
			if !errors.IsKind(err, tt.kind) {
				t.Fatalf("got %v, want %s", err, tt.kind)
			}
		})
	}

	if _, err := e.RunByName(context.Background(), "missing"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("RunByName(missing): %v", err)
	}
}

func TestBareFunction(t *testing.T) {
	m := newModule(t, "m")
	fn := constFunction(t, m, "k", 9)
	e := newEngine(t, m, Config{})

	native, _ := fn.Native()
	res, err := e.Run(context.Background(), module.FromHandle(native))
	if err != nil {
		t.Fatalf("Run bare: %v", err)
	}
	if res.ToInt(false) != 9 {
		t.Errorf("result = %s", res)
	}
}

func TestConstructionErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := NewInterpreter(ctx, module.Module{}); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("null module: %v", err)
	}

	m := newModule(t, "bad")
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
	fn.AppendBlock("entry")
	if _, err := NewInterpreter(ctx, m); !errors.IsKind(err, errors.KindVerification) {
		t.Errorf("unverifiable module: %v", err)
	}

	gone := newModule(t, "gone")
	gone.Dispose()
	if _, err := NewInterpreter(ctx, gone); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("disposed module: %v", err)
	}

	big := newModule(t, "big")
	constFunction(t, big, "k", 1)
	_, err := New(ctx, big, Config{StackSize: 4 * 65536, MemoryLimitPages: 1})
	if !errors.IsKind(err, errors.KindInstantiation) {
		t.Errorf("memory over limit: %v", err)
	}

	if _, err := New(ctx, big, Config{Mode: Mode(9)}); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("unknown mode: %v", err)
	}
}

func TestGlobalsAndMemory(t *testing.T) {
	m := newModule(t, "mem")
	g, _ := m.AddGlobal(irtypes.Int32, "counter")
	g.SetInitializer(irconst.Int32(41))
	gv, _ := g.Native()
	i32p := irtypes.Pointer(irtypes.Int32)

	b := module.NewBuilder()
	bump, _ := m.AddFunction("bump", irtypes.Func(irtypes.Void, i32p))
	entry, _ := bump.AppendBlock("entry")
	p, _ := bump.Parameter(0)
	b.PositionAtEnd(entry)
	b.Store(b.Add(b.Load(irtypes.Int32, p), irconst.Int32(1)), p)
	b.RetVoid()

	where, _ := m.AddFunction("where", irtypes.Func(i32p))
	entry, _ = where.AppendBlock("entry")
	b.PositionAtEnd(entry).Ret(gv)
	if err := b.Err(); err != nil {
		t.Fatalf("builder: %v", err)
	}

	e := newEngine(t, m, Config{})
	addr, err := e.GlobalAddress("counter")
	if err != nil {
		t.Fatalf("GlobalAddress: %v", err)
	}

	res, err := e.Run(context.Background(), where)
	if err != nil {
		t.Fatalf("where: %v", err)
	}
	if res.ToPointer() != addr {
		t.Errorf("where() = 0x%x, want 0x%x", res.ToPointer(), addr)
	}

	if _, err := e.Run(context.Background(), bump, NewGenericPointer(i32p, addr)); err != nil {
		t.Fatalf("bump: %v", err)
	}
	data, err := e.ReadMemory(addr, 4)
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data); got != 42 {
		t.Errorf("counter = %d, want 42", got)
	}

	if err := e.WriteMemory(addr, []byte{7, 0, 0, 0}); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	e.Run(context.Background(), bump, res.Value())
	data, _ = e.ReadMemory(addr, 4)
	if got := binary.LittleEndian.Uint32(data); got != 8 {
		t.Errorf("counter = %d, want 8", got)
	}

	if _, err := e.ReadMemory(math.MaxUint32-1, 8); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("ReadMemory out of range: %v", err)
	}
	if _, err := e.GlobalAddress("nope"); !errors.IsKind(err, errors.KindNotFound) {
		t.Errorf("GlobalAddress(nope): %v", err)
	}
}

func TestExternals(t *testing.T) {
	m := newModule(t, "ext")
	twice, _ := m.GetOrDeclare("twice", irtypes.Func(irtypes.Int32, irtypes.Int32))
	missing, _ := m.GetOrDeclare("missing", irtypes.Func(irtypes.Void))

	b := module.NewBuilder()
	quad, _ := m.AddFunction("quad", irtypes.Func(irtypes.Int32, irtypes.Int32))
	entry, _ := quad.AppendBlock("entry")
	x, _ := quad.Parameter(0)
	b.PositionAtEnd(entry).Ret(b.Call(twice, b.Call(twice, x)))

	callMissing, _ := m.AddFunction("call_missing", irtypes.Func(irtypes.Void))
	entry, _ = callMissing.AppendBlock("entry")
	b.PositionAtEnd(entry)
	b.Call(missing)
	b.RetVoid()
	if err := b.Err(); err != nil {
		t.Fatalf("builder: %v", err)
	}

	var calls int
	e := newEngine(t, m, Config{Externals: map[string]External{
		"twice": func(_ context.Context, args []GenericValue) (GenericValue, error) {
			calls++
			return NewGenericInt(irtypes.Int32, args[0].ToInt(false)*2), nil
		},
	}})

	res, err := e.Run(context.Background(), quad, NewGenericInt(irtypes.Int32, 5))
	if err != nil {
		t.Fatalf("quad: %v", err)
	}
	if res.ToInt(false) != 20 || calls != 2 {
		t.Errorf("quad(5) = %d after %d calls", res.ToInt(false), calls)
	}

	_, err = e.Run(context.Background(), callMissing)
	if !errors.IsKind(err, errors.KindTrap) {
		t.Fatalf("unresolved external: got %v, want trap", err)
	}

	if _, err := e.Run(context.Background(), twice, NewGenericInt(irtypes.Int32, 1)); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("running a declaration: %v", err)
	}
}

func TestExternalError(t *testing.T) {
	m := newModule(t, "ext")
	fail, _ := m.GetOrDeclare("fail", irtypes.Func(irtypes.Void))
	run, _ := m.AddFunction("run", irtypes.Func(irtypes.Void))
	entry, _ := run.AppendBlock("entry")
	b := module.NewBuilder().PositionAtEnd(entry)
	b.Call(fail)
	b.RetVoid()

	sentinel := stderrors.New("host refused")
	e := newEngine(t, m, Config{Externals: map[string]External{
		"fail": func(context.Context, []GenericValue) (GenericValue, error) {
			return GenericValue{}, sentinel
		},
	}})
	_, err := e.Run(context.Background(), run)
	if !errors.IsKind(err, errors.KindTrap) {
		t.Fatalf("got %v, want trap", err)
	}
}

func TestExternalAccessesMemory(t *testing.T) {
	m := newModule(t, "hostmem")
	i32p := irtypes.Pointer(irtypes.Int32)
	arr := irtypes.Array(4, irtypes.Int32)
	g, _ := m.AddGlobal(arr, "buf")
	g.SetInitializer(constant.NewArray(arr,
		irconst.Int32(0), irconst.Int32(10), irconst.Int32(20), irconst.Int32(30)))
	gv, _ := g.Native()
	sumAt, _ := m.GetOrDeclare("sum_at", irtypes.Func(irtypes.Void, i32p, irtypes.Int32))

	run, _ := m.AddFunction("run", irtypes.Func(irtypes.Int32))
	entry, _ := run.AppendBlock("entry")
	b := module.NewBuilder().PositionAtEnd(entry)
	b.Call(sumAt, b.GEP(arr, gv, irconst.Int32(0), irconst.Int32(1)), irconst.Int32(3))
	b.Ret(b.Load(irtypes.Int32, b.GEP(arr, gv, irconst.Int32(0), irconst.Int32(0))))
	if err := b.Err(); err != nil {
		t.Fatalf("builder: %v", err)
	}

	// sum_at(p, n) stores p[0] + ... + p[n-1] into buf[0].
	var e *Engine
	e = newEngine(t, m, Config{Externals: map[string]External{
		"sum_at": func(_ context.Context, args []GenericValue) (GenericValue, error) {
			base, err := e.GlobalAddress("buf")
			if err != nil {
				return GenericValue{}, err
			}
			n := uint32(args[1].ToInt(false))
			data, err := e.ReadMemory(args[0].ToPointer(), 4*n)
			if err != nil {
				return GenericValue{}, err
			}
			var sum uint32
			for i := uint32(0); i < n; i++ {
				sum += binary.LittleEndian.Uint32(data[4*i:])
			}
			return GenericValue{}, e.WriteMemory(base, binary.LittleEndian.AppendUint32(nil, sum))
		},
	}})

	type outcome struct {
		res FuncallResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.Run(context.Background(), run)
		done <- outcome{res, err}
	}()
	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("run: %v", out.err)
		}
		if got := out.res.ToInt(false); got != 60 {
			t.Errorf("run() = %d, want 60", got)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("external blocked on the engine while the function was running")
	}
}
