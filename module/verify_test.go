package module

import (
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/wippyai/irkit/errors"
	"github.com/wippyai/irkit/irconst"
	"github.com/wippyai/irkit/irtypes"
)

func TestVerifyScenarioMain(t *testing.T) {
	m := newTestModule(t, "m")
	fn, err := m.AddFunction("main", irtypes.Func(irtypes.Void))
	if err != nil {
		t.Fatalf("AddFunction: %v", err)
	}
	if _, err := fn.AppendBlock("entry"); err != nil {
		t.Fatalf("AppendBlock: %v", err)
	}

	if err := m.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// Idempotent.
	if err := m.Verify(); err != nil {
		t.Fatalf("second Verify: %v", err)
	}
}

func TestVerifyEmptyModule(t *testing.T) {
	m := newTestModule(t, "empty")
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyIdempotentFailure(t *testing.T) {
	m := newTestModule(t, "m")
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
	fn.AppendBlock("entry")

	first := m.Verify()
	second := m.Verify()
	if first == nil || second == nil {
		t.Fatal("expected verification failure")
	}
	if first.Error() != second.Error() {
		t.Errorf("Verify not idempotent: %q vs %q", first, second)
	}
}

func TestVerifyFailures(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T, m Module)
		want  string
	}{
		{
			name: "missing terminator in non-void function",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
				fn.AppendBlock("entry")
			},
			want: "block 'entry': block has no terminator",
		},
		{
			name: "return type mismatch",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
				blk, _ := fn.AppendBlock("entry")
				NewBuilder().PositionAtEnd(blk).Ret(irconst.Int64(1))
			},
			want: "returned i64, function returns i32",
		},
		{
			name: "ret void in non-void function",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
				blk, _ := fn.AppendBlock("entry")
				NewBuilder().PositionAtEnd(blk).RetVoid()
			},
			want: "ret void in function returning i32",
		},
		{
			name: "operand type mismatch",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32, irtypes.Int32))
				blk, _ := fn.AppendBlock("entry")
				b := NewBuilder().PositionAtEnd(blk)
				x, _ := fn.Parameter(0)
				b.Ret(b.Add(x, irconst.Int8(1)))
			},
			want: "operands of different types",
		},
		{
			name: "non-i1 branch condition",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void, irtypes.Int32))
				entry, _ := fn.AppendBlock("entry")
				exit, _ := fn.AppendBlock("exit")
				b := NewBuilder().PositionAtEnd(entry)
				x, _ := fn.Parameter(0)
				b.CondBr(x, exit, exit)
				b.PositionAtEnd(exit).RetVoid()
			},
			want: "branch condition must be i1",
		},
		{
			name: "branch to entry",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void))
				entry, _ := fn.AppendBlock("entry")
				NewBuilder().PositionAtEnd(entry).Br(entry)
			},
			want: "entry block must not have predecessors",
		},
		{
			name: "phi missing predecessor",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32, irtypes.Int1))
				entry, _ := fn.AppendBlock("entry")
				left, _ := fn.AppendBlock("left")
				join, _ := fn.AppendBlock("join")
				b := NewBuilder()
				c, _ := fn.Parameter(0)
				b.PositionAtEnd(entry).CondBr(c, left, join)
				b.PositionAtEnd(left).Br(join)
				b.PositionAtEnd(join)
				phi := b.Phi(irtypes.Int32)
				b.AddIncoming(phi, irconst.Int32(1), left)
				b.Ret(phi)
			},
			want: "phi has no entry for predecessor 'entry'",
		},
		{
			name: "use not dominated",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32, irtypes.Int1))
				entry, _ := fn.AppendBlock("entry")
				left, _ := fn.AppendBlock("left")
				join, _ := fn.AppendBlock("join")
				b := NewBuilder()
				c, _ := fn.Parameter(0)
				b.PositionAtEnd(entry).CondBr(c, left, join)
				b.PositionAtEnd(left)
				v := b.Add(irconst.Int32(1), irconst.Int32(2))
				b.Br(join)
				b.PositionAtEnd(join).Ret(v)
			},
			want: "does not dominate all uses",
		},
		{
			name: "call arity",
			build: func(t *testing.T, m Module) {
				callee, _ := m.AddFunction("callee", irtypes.Func(irtypes.Void, irtypes.Int32))
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void))
				blk, _ := fn.AppendBlock("entry")
				b := NewBuilder().PositionAtEnd(blk)
				b.Call(callee)
				b.RetVoid()
			},
			want: "with 0 arguments, expected 1",
		},
		{
			name: "invalid cast",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int8, irtypes.Int32))
				blk, _ := fn.AppendBlock("entry")
				b := NewBuilder().PositionAtEnd(blk)
				x, _ := fn.Parameter(0)
				b.Ret(b.ZExt(x, irtypes.Int8))
			},
			want: "invalid cast from i32 to i8",
		},
		{
			name: "store type mismatch",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void))
				blk, _ := fn.AppendBlock("entry")
				b := NewBuilder().PositionAtEnd(blk)
				p := b.Alloca(irtypes.Int32)
				native, _ := blk.Native()
				native.Insts = append(native.Insts, &ir.InstStore{Src: irconst.Int64(1), Dst: p})
				b.RetVoid()
			},
			want: "store of i64 through i32*",
		},
		{
			name: "non-i1 select condition",
			build: func(t *testing.T, m Module) {
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32, irtypes.Int32))
				blk, _ := fn.AppendBlock("entry")
				b := NewBuilder().PositionAtEnd(blk)
				x, _ := fn.Parameter(0)
				b.Ret(b.Select(x, x, irconst.Int32(0)))
			},
			want: "select condition must be i1, got i32",
		},
		{
			name: "run-time struct field index",
			build: func(t *testing.T, m Module) {
				pair := types.NewStruct(irtypes.Int32, irtypes.Int64)
				fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void, irtypes.Int32))
				blk, _ := fn.AppendBlock("entry")
				b := NewBuilder().PositionAtEnd(blk)
				x, _ := fn.Parameter(0)
				p := b.Alloca(pair)
				native, _ := blk.Native()
				native.Insts = append(native.Insts, &ir.InstGetElementPtr{
					ElemType: pair,
					Src:      p,
					Indices:  []value.Value{irconst.Int32(0), x},
					Typ:      irtypes.Pointer(irtypes.Int32),
				})
				b.RetVoid()
			},
			want: "is not a constant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModule(t, "m")
			tt.build(t, m)
			err := m.Verify()
			if err == nil {
				t.Fatal("expected verification error")
			}
			if !errors.IsKind(err, errors.KindVerification) {
				t.Fatalf("kind = %s, want verification (%v)", errors.KindOf(err), err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestVerifyValidFunctions(t *testing.T) {
	m := newTestModule(t, "m")

	// max(a, b) with a diamond and a phi.
	fn, _ := m.AddFunction("max", irtypes.Func(irtypes.Int32, irtypes.Int32, irtypes.Int32))
	entry, _ := fn.AppendBlock("entry")
	left, _ := fn.AppendBlock("left")
	right, _ := fn.AppendBlock("right")
	join, _ := fn.AppendBlock("join")
	a, _ := fn.Parameter(0)
	bv, _ := fn.Parameter(1)

	b := NewBuilder()
	b.PositionAtEnd(entry)
	b.CondBr(b.ICmp(enum.IPredSGT, a, bv), left, right)
	b.PositionAtEnd(left).Br(join)
	b.PositionAtEnd(right).Br(join)
	b.PositionAtEnd(join)
	phi := b.Phi(irtypes.Int32)
	b.AddIncoming(phi, a, left)
	b.AddIncoming(phi, bv, right)
	b.Ret(phi)

	// Stack slot round trip and a call.
	g, _ := m.AddFunction("g", irtypes.Func(irtypes.Int32, irtypes.Int32))
	gb, _ := g.AppendBlock("entry")
	x, _ := g.Parameter(0)
	b.PositionAtEnd(gb)
	slot := b.Alloca(irtypes.Int32)
	b.Store(x, slot)
	v := b.Load(irtypes.Int32, slot)
	b.Ret(b.Call(fn, v, irconst.Int32(3)))

	// Field address and a select.
	pair := types.NewStruct(irtypes.Int32, irtypes.Int64)
	h, _ := m.AddFunction("h", irtypes.Func(irtypes.Int64, irtypes.Int1))
	hb, _ := h.AppendBlock("entry")
	c, _ := h.Parameter(0)
	b.PositionAtEnd(hb)
	rec := b.Alloca(pair)
	second := b.GEP(pair, rec, irconst.Int32(0), irconst.Int32(1))
	b.Store(irconst.Int64(5), second)
	b.Ret(b.Select(c, b.Load(irtypes.Int64, second), irconst.Int64(0)))

	if err := b.Err(); err != nil {
		t.Fatalf("builder: %v", err)
	}
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyCachedUntilMutation(t *testing.T) {
	m := newTestModule(t, "m")
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
	blk, _ := fn.AppendBlock("entry")
	if err := m.Verify(); err == nil {
		t.Fatal("expected failure before the terminator is added")
	}
	NewBuilder().PositionAtEnd(blk).Ret(irconst.Int32(0))
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify after fix: %v", err)
	}
}

func TestVerifyAfterNativeEdit(t *testing.T) {
	m := newTestModule(t, "m")
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Int32))
	blk, _ := fn.AppendBlock("entry")
	NewBuilder().PositionAtEnd(blk).Ret(irconst.Int32(0))
	if err := m.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	native, err := m.Native()
	if err != nil {
		t.Fatalf("Native: %v", err)
	}
	native.Funcs[0].NewBlock("dangling")
	if err := m.Verify(); !errors.IsKind(err, errors.KindVerification) {
		t.Fatalf("Verify after direct edit = %v, want verification error", err)
	}
}

func TestBuilderErrors(t *testing.T) {
	m := newTestModule(t, "m")
	fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void))
	other, _ := m.AddFunction("g", irtypes.Func(irtypes.Void))
	blk, _ := fn.AppendBlock("entry")
	foreign, _ := other.AppendBlock("entry")

	t.Run("unpositioned", func(t *testing.T) {
		b := NewBuilder()
		if v := b.Add(irconst.Int32(1), irconst.Int32(2)); v != nil {
			t.Error("expected nil value")
		}
		if !errors.IsKind(b.Err(), errors.KindNullHandle) {
			t.Errorf("Err() = %v", b.Err())
		}
	})

	t.Run("nil operand", func(t *testing.T) {
		b := NewBuilder().PositionAtEnd(blk)
		b.Add(nil, irconst.Int32(2))
		if !errors.IsKind(b.Err(), errors.KindInvalidInput) {
			t.Errorf("Err() = %v", b.Err())
		}
	})

	t.Run("foreign branch target", func(t *testing.T) {
		b := NewBuilder().PositionAtEnd(blk)
		b.Br(foreign)
		if !errors.IsKind(b.Err(), errors.KindInvalidInput) {
			t.Errorf("Err() = %v", b.Err())
		}
		if blk.HasTerminator() {
			t.Error("failed Br must not terminate the block")
		}
	})

	t.Run("double terminator", func(t *testing.T) {
		b := NewBuilder().PositionAtEnd(blk)
		b.RetVoid()
		b.RetVoid()
		if !errors.IsKind(b.Err(), errors.KindInvalidInput) {
			t.Errorf("Err() = %v", b.Err())
		}
		b.Reset()
		if b.Err() != nil {
			t.Error("Reset did not clear the error")
		}
	})
}

func TestBuilderTypeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder, x value.Value)
	}{
		{
			name: "store of i64 through i32*",
			build: func(b *Builder, x value.Value) {
				b.Store(irconst.Int64(1), b.Alloca(irtypes.Int32))
			},
		},
		{
			name: "icmp on doubles",
			build: func(b *Builder, x value.Value) {
				b.ICmp(enum.IPredEQ, irconst.Double(1), irconst.Double(2))
			},
		},
		{
			name: "trunc to a wider type",
			build: func(b *Builder, x value.Value) {
				b.Trunc(irconst.Int8(1), irtypes.Int32)
			},
		},
		{
			name: "struct index not constant",
			build: func(b *Builder, x value.Value) {
				pair := types.NewStruct(irtypes.Int32, irtypes.Int64)
				b.GEP(pair, b.Alloca(pair), irconst.Int32(0), x)
			},
		},
		{
			name: "select arms differ",
			build: func(b *Builder, x value.Value) {
				b.Select(irconst.Bool(true), x, irconst.Int64(0))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModule(t, "m")
			fn, _ := m.AddFunction("f", irtypes.Func(irtypes.Void, irtypes.Int32))
			blk, _ := fn.AppendBlock("entry")
			x, _ := fn.Parameter(0)
			native, _ := blk.Native()

			b := NewBuilder().PositionAtEnd(blk)
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("builder panicked: %v", r)
					}
				}()
				tt.build(b, x)
			}()
			before := len(native.Insts)
			if v := b.Add(irconst.Int32(1), irconst.Int32(2)); v != nil {
				t.Error("builder must stay failed")
			}

			if !errors.IsKind(b.Err(), errors.KindTypeMismatch) {
				t.Fatalf("Err() = %v, want type mismatch", b.Err())
			}
			if len(native.Insts) != before {
				t.Error("calls after a failure must not append")
			}
			for _, inst := range native.Insts {
				if _, ok := inst.(*ir.InstAlloca); !ok {
					t.Errorf("unexpected instruction %s", inst.LLString())
				}
			}
		})
	}
}
