package irutil

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// diamond builds entry -> (left | right) -> join, plus an orphan block.
func diamond() (*ir.Func, []*ir.Block) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.I32, ir.NewParam("c", types.I1))
	entry := f.NewBlock("entry")
	left := f.NewBlock("left")
	right := f.NewBlock("right")
	join := f.NewBlock("join")
	orphan := f.NewBlock("orphan")

	entry.NewCondBr(f.Params[0], left, right)
	left.NewBr(join)
	right.NewBr(join)
	join.NewRet(constant.NewInt(types.I32, 1))
	orphan.NewBr(join)
	return f, []*ir.Block{entry, left, right, join, orphan}
}

func TestCFG_Diamond(t *testing.T) {
	f, _ := diamond()
	g := NewCFG(f)

	if len(g.Succs[0]) != 2 {
		t.Fatalf("entry succs = %v", g.Succs[0])
	}
	if len(g.Preds[3]) != 3 {
		t.Fatalf("join preds = %v, want left, right and orphan", g.Preds[3])
	}
	if g.Reachable(4) {
		t.Error("orphan should be unreachable")
	}
	if len(g.RPO) != 4 || g.RPO[0] != 0 {
		t.Errorf("RPO = %v", g.RPO)
	}

	tests := []struct {
		a, b int
		want bool
	}{
		{0, 3, true},
		{1, 3, false},
		{2, 3, false},
		{3, 3, true},
		{1, 4, true},
		{4, 0, false},
	}
	for _, tt := range tests {
		if got := g.Dominates(tt.a, tt.b); got != tt.want {
			t.Errorf("Dominates(%d, %d) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
	if g.Idom(3) != 0 {
		t.Errorf("Idom(join) = %d, want 0", g.Idom(3))
	}
	if g.Idom(0) != -1 || g.Idom(4) != -1 {
		t.Error("entry and unreachable blocks have no idom")
	}
}

func TestCFG_Loop(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("loop", types.Void, ir.NewParam("c", types.I1))
	entry := f.NewBlock("entry")
	head := f.NewBlock("head")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")
	entry.NewBr(head)
	head.NewCondBr(f.Params[0], body, exit)
	body.NewBr(head)
	exit.NewRet(nil)

	g := NewCFG(f)
	if !g.Dominates(1, 2) || !g.Dominates(1, 3) {
		t.Error("loop header should dominate body and exit")
	}
	if g.Dominates(2, 1) {
		t.Error("body must not dominate header")
	}
	if len(g.Preds[1]) != 2 {
		t.Errorf("header preds = %v", g.Preds[1])
	}
}

func TestSuccessors_Dedup(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void, ir.NewParam("c", types.I1))
	entry := f.NewBlock("entry")
	next := f.NewBlock("next")
	entry.NewCondBr(f.Params[0], next, next)
	next.NewRet(nil)

	if got := Successors(entry); len(got) != 1 || got[0] != next {
		t.Errorf("Successors = %v", got)
	}
	if got := Successors(next); len(got) != 0 {
		t.Errorf("ret has successors %v", got)
	}
}

func TestPureAndOperands(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.I32, ir.NewParam("x", types.I32))
	b := f.NewBlock("entry")
	x := f.Params[0]
	add := b.NewAdd(x, constant.NewInt(types.I32, 1))
	div := b.NewSDiv(add, x)
	ext := b.NewZExt(div, types.I64)
	call := b.NewCall(f, x)
	b.NewRet(add)

	if !Pure(add) || Pure(div) || !Pure(ext) || Pure(call) {
		t.Error("Pure classification mismatch")
	}
	if ops := Operands(call); len(ops) != 2 || ops[0] != f || ops[1] != x {
		t.Errorf("call operands = %v", ops)
	}
	if ops := Operands(ext); len(ops) != 1 || ops[0] != div {
		t.Errorf("zext operands = %v", ops)
	}
	if ops := TermOperands(b.Term); len(ops) != 1 || ops[0] != add {
		t.Errorf("ret operands = %v", ops)
	}
	if _, ok := ImplicitTerminator(f).(*ir.TermUnreachable); !ok {
		t.Error("non-void implicit terminator should be unreachable")
	}
}
