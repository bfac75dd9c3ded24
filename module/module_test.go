package module

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"

	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/irconst"
	"github.com/wippyai/irkit/irtypes"
)

func newTestModule(t *testing.T, name string) Module {
	t.Helper()
	m, err := CreateInContext(name, NewContext())
	if err != nil {
		t.Fatalf("CreateInContext: %v", err)
	}
	t.Cleanup(func() { _ = m.Dispose() })
	return m
}

func TestGlobalContextIdentity(t *testing.T) {
	a, b := GlobalContext(), GlobalContext()
	if a != b {
		t.Fatal("GlobalContext() must return the same context")
	}
	if !a.IsGlobal() {
		t.Fatal("IsGlobal() = false")
	}
	if NewContext() == a {
		t.Fatal("NewContext() must return a fresh context")
	}
	if err := a.Dispose(); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("disposing the global context: got %v", err)
	}
}

func TestCreate(t *testing.T) {
	m := Create("calc")
	defer m.Dispose()

	if m.Name() != "calc" {
		t.Errorf("Name() = %q, want calc", m.Name())
	}
	if m.Context() != GlobalContext() {
		t.Error("Create should use the global context")
	}
	native, err := m.Native()
	if err != nil {
		t.Fatalf("Native: %v", err)
	}
	if native.SourceFilename != "calc" {
		t.Errorf("SourceFilename = %q", native.SourceFilename)
	}
}

func TestAddAndLookupFunction(t *testing.T) {
	m := newTestModule(t, "m")
	sig := irtypes.Func(irtypes.Int32, irtypes.Int32, irtypes.Int64)

	fn, err := m.AddFunction("add", sig)
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}

	found, err := m.LookupFunction("add")
	if err != nil {
		t.Fatalf("LookupFunction: %v", err)
	}
	if found != fn {
		t.Fatal("lookup returned a different handle")
	}

	got, err := found.Signature()
	if err != nil {
		t.Fatalf("Signature: %v", err)
	}
	if got != sig || !got.Equal(sig) {
		t.Errorf("Signature() = %s, want %s", got.LLString(), sig.LLString())
	}
	ret, _ := found.ReturnType()
	if !irtypes.Equal(ret, irtypes.Int32) {
		t.Errorf("ReturnType() = %s", ret.LLString())
	}
	params, _ := found.ParamTypes()
	if len(params) != 2 || !irtypes.Equal(params[1], irtypes.Int64) {
		t.Errorf("ParamTypes() = %v", params)
	}
	n, _ := found.ParameterCount()
	if n != 2 {
		t.Errorf("ParameterCount() = %d", n)
	}
	decl, _ := found.IsDeclaration()
	if !decl {
		t.Error("function without blocks should be a declaration")
	}
}

func TestAddFunctionDuplicateReturnsExisting(t *testing.T) {
	m := newTestModule(t, "m")
	first, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
	second, err := m.AddFunction("f", irtypes.Func(irtypes.Void, irtypes.Int8))
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	if first != second {
		t.Fatal("duplicate AddFunction should return the existing function")
	}
	sig, _ := second.Signature()
	if !irtypes.Equal(sig.RetType, irtypes.Int32) {
		t.Errorf("existing signature was replaced: %s", sig.LLString())
	}
	fns, _ := m.Functions()
	if len(fns) != 1 {
		t.Errorf("Functions() = %d, want 1", len(fns))
	}
}

func TestGetOrDeclare(t *testing.T) {
	m := newTestModule(t, "m")
	sig := irtypes.Func(irtypes.Int32)

	a, err := m.GetOrDeclare("f", sig)
	if err != nil {
		t.Fatalf("GetOrDeclare: %v", err)
	}
	b, err := m.GetOrDeclare("f", sig)
	if err != nil {
		t.Fatalf("GetOrDeclare: %v", err)
	}
	if a != b {
		t.Fatal("GetOrDeclare twice must return identical handles")
	}

	// No compatibility check against the existing type.
	c, err := m.GetOrDeclare("f", irtypes.Func(irtypes.Double, irtypes.Double))
	if err != nil || c != a {
		t.Fatalf("GetOrDeclare with another type: (%v, %v)", c, err)
	}
}

func TestLookupMissingFunction(t *testing.T) {
	m := newTestModule(t, "m")

	fn, err := m.LookupFunction("does_not_exist")
	if err != nil {
		t.Fatalf("LookupFunction: %v", err)
	}
	if !fn.IsNull() {
		t.Fatal("expected the null sentinel")
	}

	if _, err := fn.Signature(); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("Signature on null: %v", err)
	}
	if _, err := fn.ReturnType(); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("ReturnType on null: %v", err)
	}
	if _, err := fn.Parameter(0); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("Parameter on null: %v", err)
	}
	if _, err := fn.AppendBlock("entry"); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("AppendBlock on null: %v", err)
	}
	if fn.Name() != "" {
		t.Errorf("Name on null = %q", fn.Name())
	}
}

func TestBareFunction(t *testing.T) {
	native := ir.NewModule()
	f := native.NewFunc("ext", types.I32, ir.NewParam("a", types.I32), ir.NewParam("b", types.I8))
	fn := FromHandle(f)

	if fn.IsNull() || !fn.IsBare() {
		t.Fatal("FromHandle should produce a bare, non-null function")
	}
	if !fn.Module().IsNull() {
		t.Error("bare function has no module")
	}
	if _, err := fn.Signature(); !errors.IsKind(err, errors.KindTypeUnknown) {
		t.Errorf("Signature on bare function: %v", err)
	}
	if _, err := fn.ReturnType(); !errors.IsKind(err, errors.KindTypeUnknown) {
		t.Errorf("ReturnType on bare function: %v", err)
	}
	if _, err := fn.ParamTypes(); !errors.IsKind(err, errors.KindTypeUnknown) {
		t.Errorf("ParamTypes on bare function: %v", err)
	}
	n, err := fn.ParameterCount()
	if err != nil || n != 2 {
		t.Errorf("ParameterCount = (%d, %v), want 2", n, err)
	}
	p, err := fn.Parameter(1)
	if err != nil || p != f.Params[1] {
		t.Errorf("Parameter(1) = (%v, %v)", p, err)
	}

	if !FromHandle(nil).IsNull() {
		t.Error("FromHandle(nil) should be null")
	}
}

func TestParameterBounds(t *testing.T) {
	m := newTestModule(t, "m")
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void, irtypes.Int32))

	if _, err := fn.Parameter(0); err != nil {
		t.Fatalf("Parameter(0): %v", err)
	}
	for _, i := range []int{-1, 1, 5} {
		_, err := fn.Parameter(i)
		if !errors.IsKind(err, errors.KindOutOfBounds) {
			t.Errorf("Parameter(%d): got %v, want out_of_bounds", i, err)
		}
	}
}

func TestAppendBlockDuplicateLabels(t *testing.T) {
	m := newTestModule(t, "m")
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void))

	want := []string{"entry", "entry1", "entry2", "exit"}
	labels := []string{"entry", "entry", "entry", "exit"}
	for i, l := range labels {
		blk, err := fn.AppendBlock(l)
		if err != nil {
			t.Fatalf("AppendBlock(%q): %v", l, err)
		}
		if blk.Name() != want[i] {
			t.Errorf("block %d name = %q, want %q", i, blk.Name(), want[i])
		}
		if blk.Function() != fn {
			t.Error("block function mismatch")
		}
	}
	blocks, _ := fn.Blocks()
	if len(blocks) != 4 {
		t.Errorf("Blocks() = %d", len(blocks))
	}
	entry, _ := fn.EntryBlock()
	if entry.Name() != "entry" {
		t.Errorf("EntryBlock = %q", entry.Name())
	}
}

func TestDisposeMakesHandlesStale(t *testing.T) {
	ctx := NewContext()
	m, _ := CreateInContext("m", ctx)
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void))
	blk, _ := fn.AppendBlock("entry")
	g, _ := m.AddGlobal(irtypes.Int32, "g")

	if err := m.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if m.Alive() {
		t.Error("module still alive after Dispose")
	}
	if err := m.Dispose(); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("second Dispose: %v", err)
	}
	if _, err := m.AddFunction("g", irtypes.Func(irtypes.Void)); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("AddFunction after Dispose: %v", err)
	}
	if _, err := fn.Signature(); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("Signature after Dispose: %v", err)
	}
	if _, err := blk.Native(); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("Block after Dispose: %v", err)
	}
	if err := g.SetInitializer(irconst.Int32(1)); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("Global after Dispose: %v", err)
	}
	if err := m.Verify(); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("Verify after Dispose: %v", err)
	}

	// A module reusing the slot must not be reachable through old handles.
	m2, _ := CreateInContext("m2", ctx)
	if m2 == m {
		t.Fatal("new module must not equal the disposed handle")
	}
	if _, err := fn.Native(); err == nil {
		t.Error("stale function resolved after slot reuse")
	}
}

func TestContextDispose(t *testing.T) {
	ctx := NewContext()
	a, _ := CreateInContext("a", ctx)
	b, _ := CreateInContext("b", ctx)

	if mods := ctx.Modules(); len(mods) != 2 || mods[0] != a || mods[1] != b {
		t.Fatalf("Modules() = %v", mods)
	}
	if err := ctx.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if a.Alive() || b.Alive() {
		t.Error("modules alive after context Dispose")
	}
	if _, err := CreateInContext("c", ctx); !errors.IsKind(err, errors.KindStaleHandle) {
		t.Errorf("create in disposed context: %v", err)
	}
}

func TestNullModule(t *testing.T) {
	var m Module
	if !m.IsNull() {
		t.Fatal("zero Module should be null")
	}
	if _, err := m.AddFunction("f", irtypes.Func(irtypes.Void)); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("AddFunction on null: %v", err)
	}
	if err := m.Dispose(); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("Dispose on null: %v", err)
	}
	if _, err := CreateInContext("x", nil); !errors.IsKind(err, errors.KindNullHandle) {
		t.Errorf("CreateInContext(nil): %v", err)
	}
}

func TestGlobals(t *testing.T) {
	m := newTestModule(t, "m")
	g, err := m.AddGlobal(irtypes.Int32, "counter")
	if err != nil {
		t.Fatalf("AddGlobal: %v", err)
	}
	if err := g.SetInitializer(irconst.Int32(7)); err != nil {
		t.Fatalf("SetInitializer: %v", err)
	}
	if err := g.SetInitializer(irconst.Int64(7)); !errors.IsKind(err, errors.KindTypeMismatch) {
		t.Errorf("mismatched initializer: %v", err)
	}

	dup, _ := m.AddGlobal(irtypes.Int8, "counter")
	if dup.Name() != "counter.1" {
		t.Errorf("duplicate global name = %q, want counter.1", dup.Name())
	}
	found, _ := m.LookupGlobal("counter")
	if found != g {
		t.Error("LookupGlobal mismatch")
	}
	missing, _ := m.LookupGlobal("nope")
	if !missing.IsNull() {
		t.Error("missing global should be null")
	}
	if _, err := m.AddFunction("counter", irtypes.Func(irtypes.Void)); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("function shadowing a global: %v", err)
	}
	ct, _ := g.ContentType()
	if !irtypes.Equal(ct, irtypes.Int32) {
		t.Errorf("ContentType = %v", ct)
	}
}

func TestRevisionTracksMutations(t *testing.T) {
	m := newTestModule(t, "m")
	r0, _ := m.Revision()
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void))
	r1, _ := m.Revision()
	blk, _ := fn.AppendBlock("entry")
	r2, _ := m.Revision()
	b := NewBuilder().PositionAtEnd(blk)
	b.RetVoid()
	r3, _ := m.Revision()

	if !(r0 < r1 && r1 < r2 && r2 < r3) {
		t.Errorf("revisions not increasing: %d %d %d %d", r0, r1, r2, r3)
	}
	_, _ = m.LookupFunction("f")
	_ = m.Verify()
	if r4, _ := m.Revision(); r4 != r3 {
		t.Error("lookup and verify must not mutate")
	}
}
