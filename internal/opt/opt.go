// Package opt computes per-function optimization plans for the backends.
//
// A Plan never rewrites the IR. It records facts that a backend consults
// while lowering: values that fold to constants, instructions that can be
// skipped, branches whose direction is known and blocks that can no longer
// be reached. Modules stay byte-for-byte identical, so rendering and
// verification are unaffected by the codegen level.
package opt

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"

	"github.com/wippyai/irkit"
	"github.com/wippyai/irkit/internal/irutil"
)

// Plan is the result of analyzing one function.
type Plan struct {
	level     irkit.CodegenLevel
	folded    map[value.Value]constant.Constant
	dead      map[ir.Instruction]bool
	branch    map[*ir.Block]*ir.Block
	reachable map[*ir.Block]bool

	unreachable int
}

// Stats summarizes a plan.
type Stats struct {
	Folded      int
	Dead        int
	Branches    int
	Unreachable int
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Folded += o.Folded
	s.Dead += o.Dead
	s.Branches += o.Branches
	s.Unreachable += o.Unreachable
}

// Analyze builds the plan for f at the given level.
//
//	O0  nothing
//	O1  constant folding
//	O2+ folding through phis and known branches, dead code, unreachable blocks
func Analyze(f *ir.Func, level irkit.CodegenLevel) *Plan {
	p := &Plan{
		level:  level,
		folded: make(map[value.Value]constant.Constant),
		dead:   make(map[ir.Instruction]bool),
		branch: make(map[*ir.Block]*ir.Block),
	}
	if level == irkit.O0 || len(f.Blocks) == 0 {
		return p
	}

	g := irutil.NewCFG(f)
	flow := level >= irkit.O2
	for changed := true; changed; {
		changed = false
		live := p.liveBlocks(g, flow)
		for _, i := range g.RPO {
			if !live[i] {
				continue
			}
			blk := g.Blocks[i]
			for _, inst := range blk.Insts {
				v, ok := inst.(value.Value)
				if !ok {
					continue
				}
				if _, done := p.folded[v]; done {
					continue
				}
				var c constant.Constant
				if phi, isPhi := inst.(*ir.InstPhi); isPhi {
					if flow {
						c = p.foldPhi(g, i, phi, live)
					}
				} else {
					c = p.fold(inst)
				}
				if c != nil {
					p.folded[v] = c
					changed = true
				}
			}
			if flow && blk.Term != nil {
				if _, done := p.branch[blk]; !done {
					if target, ok := p.knownTarget(blk.Term); ok {
						p.branch[blk] = target
						changed = true
					}
				}
			}
		}
	}

	if !flow {
		return p
	}
	live := p.liveBlocks(g, true)
	p.reachable = make(map[*ir.Block]bool, len(g.Blocks))
	for i, blk := range g.Blocks {
		if live[i] {
			p.reachable[blk] = true
		} else {
			p.unreachable++
		}
	}
	p.eliminate(g, live)
	return p
}

// Level returns the level the plan was built for.
func (p *Plan) Level() irkit.CodegenLevel {
	if p == nil {
		return irkit.O0
	}
	return p.level
}

// Constant returns the constant v folds to.
func (p *Plan) Constant(v value.Value) (constant.Constant, bool) {
	if p == nil {
		return nil, false
	}
	c, ok := p.folded[v]
	return c, ok
}

// Skip reports whether inst needs no code: its result is folded or unused
// and it has no side effects.
func (p *Plan) Skip(inst ir.Instruction) bool {
	if p == nil {
		return false
	}
	if v, ok := inst.(value.Value); ok {
		if _, folded := p.folded[v]; folded {
			return true
		}
	}
	return p.dead[inst]
}

// Branch returns the only destination of blk's terminator when its
// selector is known.
func (p *Plan) Branch(blk *ir.Block) (*ir.Block, bool) {
	if p == nil {
		return nil, false
	}
	t, ok := p.branch[blk]
	return t, ok
}

// Reachable reports whether blk can still execute. Without flow analysis
// every block is considered reachable.
func (p *Plan) Reachable(blk *ir.Block) bool {
	if p == nil || p.reachable == nil {
		return true
	}
	return p.reachable[blk]
}

// Stats returns counters describing the plan.
func (p *Plan) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	return Stats{
		Folded:      len(p.folded),
		Dead:        len(p.dead),
		Branches:    len(p.branch),
		Unreachable: p.unreachable,
	}
}

// liveBlocks marks blocks reachable from the entry over edges that are not
// ruled out by a known branch.
func (p *Plan) liveBlocks(g *irutil.CFG, flow bool) []bool {
	live := make([]bool, len(g.Blocks))
	if len(g.Blocks) == 0 {
		return live
	}
	live[0] = true
	stack := []int{0}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range g.Succs[i] {
			if live[s] || (flow && !p.edgeLive(g, i, s)) {
				continue
			}
			live[s] = true
			stack = append(stack, s)
		}
	}
	return live
}

func (p *Plan) edgeLive(g *irutil.CFG, from, to int) bool {
	t, ok := p.branch[g.Blocks[from]]
	return !ok || t == g.Blocks[to]
}

func (p *Plan) knownTarget(term ir.Terminator) (*ir.Block, bool) {
	var sel value.Value
	switch term := term.(type) {
	case *ir.TermCondBr:
		sel = term.Cond
	case *ir.TermSwitch:
		sel = term.X
	default:
		return nil, false
	}
	c, ok := p.intOf(sel)
	if !ok {
		return nil, false
	}
	return irutil.Target(term, c)
}

// foldPhi folds a phi whose incoming values over live edges are one and the
// same constant.
func (p *Plan) foldPhi(g *irutil.CFG, bi int, phi *ir.InstPhi, live []bool) constant.Constant {
	var out constant.Constant
	for _, inc := range phi.Incs {
		pred, ok := irutil.PredBlock(inc)
		if !ok {
			return nil
		}
		pi, ok := g.Index[pred]
		if !ok {
			return nil
		}
		if !live[pi] || !p.edgeLive(g, pi, bi) {
			continue
		}
		c, ok := p.constOf(inc.X)
		if !ok {
			return nil
		}
		if out == nil {
			out = c
		} else if !sameConstant(out, c) {
			return nil
		}
	}
	return out
}

// eliminate marks pure instructions whose results are never used.
func (p *Plan) eliminate(g *irutil.CFG, live []bool) {
	used := make(map[value.Value]bool)
	var work []ir.Instruction
	mark := func(v value.Value) {
		inst, ok := v.(ir.Instruction)
		if !ok || used[v] {
			return
		}
		if _, folded := p.folded[v]; folded {
			return
		}
		used[v] = true
		work = append(work, inst)
	}

	for i, blk := range g.Blocks {
		if !live[i] {
			continue
		}
		for _, inst := range blk.Insts {
			if p.Skip(inst) || irutil.Pure(inst) {
				continue
			}
			for _, op := range irutil.Operands(inst) {
				mark(op)
			}
		}
		if blk.Term == nil {
			continue
		}
		if _, known := p.branch[blk]; known {
			continue
		}
		for _, op := range irutil.TermOperands(blk.Term) {
			mark(op)
		}
	}
	for len(work) > 0 {
		inst := work[len(work)-1]
		work = work[:len(work)-1]
		for _, op := range irutil.Operands(inst) {
			mark(op)
		}
	}

	for i, blk := range g.Blocks {
		if !live[i] {
			continue
		}
		for _, inst := range blk.Insts {
			v, ok := inst.(value.Value)
			if !ok || !irutil.Pure(inst) || used[v] {
				continue
			}
			if _, folded := p.folded[v]; folded {
				continue
			}
			p.dead[inst] = true
		}
	}
}
