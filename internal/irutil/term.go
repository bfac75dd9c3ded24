package irutil

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"

	"github.com/wippyai/irkit/irconst"
)

// CondTargets returns the true and false destinations of a conditional
// branch.
func CondTargets(t *ir.TermCondBr) (ifTrue, ifFalse *ir.Block, ok bool) {
	succs := t.Succs()
	if len(succs) != 2 {
		return nil, nil, false
	}
	return succs[0], succs[1], true
}

// SwitchCase is one arm of a switch terminator.
type SwitchCase struct {
	Value  *constant.Int
	Target *ir.Block
}

// SwitchArms returns the default destination and the cases of a switch.
// ok is false if a case value is not an integer constant.
func SwitchArms(t *ir.TermSwitch) (def *ir.Block, cases []SwitchCase, ok bool) {
	succs := t.Succs()
	if len(succs) != len(t.Cases)+1 {
		return nil, nil, false
	}
	cases = make([]SwitchCase, len(t.Cases))
	for i, c := range t.Cases {
		v, isInt := any(c.X).(*constant.Int)
		if !isInt {
			return nil, nil, false
		}
		cases[i] = SwitchCase{Value: v, Target: succs[i+1]}
	}
	return succs[0], cases, true
}

// Target returns the destination a terminator takes when its selector is
// the constant sel. ok is false for terminators without a selector.
func Target(term ir.Terminator, sel *constant.Int) (*ir.Block, bool) {
	switch term := term.(type) {
	case *ir.TermCondBr:
		t, f, ok := CondTargets(term)
		if !ok {
			return nil, false
		}
		if irconst.Bits(sel) != 0 {
			return t, true
		}
		return f, true
	case *ir.TermSwitch:
		def, cases, ok := SwitchArms(term)
		if !ok {
			return nil, false
		}
		for _, c := range cases {
			if irconst.Bits(c.Value) == irconst.Bits(sel) {
				return c.Target, true
			}
		}
		return def, true
	}
	return nil, false
}
