// Package irutil holds control-flow and operand helpers shared by the
// verifier, the optimizer and the backends.
package irutil

import (
	"github.com/llir/llvm/ir"
)

// CFG is the control flow graph of one function body. Block 0 is the entry.
type CFG struct {
	Blocks []*ir.Block
	Index  map[*ir.Block]int
	Succs  [][]int
	Preds  [][]int
	// RPO lists reachable blocks in reverse postorder.
	RPO []int

	rpoNum []int
	idom   []int
}

// NewCFG builds the graph for f. Successors outside f are ignored.
func NewCFG(f *ir.Func) *CFG {
	n := len(f.Blocks)
	g := &CFG{
		Blocks: f.Blocks,
		Index:  make(map[*ir.Block]int, n),
		Succs:  make([][]int, n),
		Preds:  make([][]int, n),
		rpoNum: make([]int, n),
		idom:   make([]int, n),
	}
	for i, b := range f.Blocks {
		g.Index[b] = i
	}
	for i, b := range f.Blocks {
		for _, s := range Successors(b) {
			j, ok := g.Index[s]
			if !ok || contains(g.Succs[i], j) {
				continue
			}
			g.Succs[i] = append(g.Succs[i], j)
			g.Preds[j] = append(g.Preds[j], i)
		}
	}
	if n == 0 {
		return g
	}
	g.computeRPO()
	g.computeDominators()
	return g
}

// Successors returns the distinct successor blocks of b's terminator.
func Successors(b *ir.Block) []*ir.Block {
	if b.Term == nil {
		return nil
	}
	var out []*ir.Block
	for _, s := range b.Term.Succs() {
		dup := false
		for _, o := range out {
			if o == s {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, s)
		}
	}
	return out
}

// Reachable reports whether block i is reachable from the entry.
func (g *CFG) Reachable(i int) bool {
	return g.rpoNum[i] >= 0
}

// Idom returns the immediate dominator of block i, or -1 for the entry and
// unreachable blocks.
func (g *CFG) Idom(i int) int {
	if i == 0 || !g.Reachable(i) {
		return -1
	}
	return g.idom[i]
}

// Dominates reports whether block a dominates block b. Every block
// dominates an unreachable block.
func (g *CFG) Dominates(a, b int) bool {
	if !g.Reachable(b) {
		return true
	}
	if !g.Reachable(a) {
		return false
	}
	for {
		if a == b {
			return true
		}
		if b == 0 {
			return false
		}
		b = g.idom[b]
	}
}

func (g *CFG) computeRPO() {
	n := len(g.Blocks)
	for i := range g.rpoNum {
		g.rpoNum[i] = -1
	}
	visited := make([]bool, n)
	post := make([]int, 0, n)

	type frame struct{ block, next int }
	stack := []frame{{0, 0}}
	visited[0] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(g.Succs[top.block]) {
			s := g.Succs[top.block][top.next]
			top.next++
			if !visited[s] {
				visited[s] = true
				stack = append(stack, frame{s, 0})
			}
			continue
		}
		post = append(post, top.block)
		stack = stack[:len(stack)-1]
	}

	g.RPO = make([]int, len(post))
	for i := range post {
		b := post[len(post)-1-i]
		g.RPO[i] = b
		g.rpoNum[b] = i
	}
}

// computeDominators runs the Cooper-Harvey-Kennedy iterative algorithm.
func (g *CFG) computeDominators() {
	for i := range g.idom {
		g.idom[i] = -1
	}
	g.idom[0] = 0

	for changed := true; changed; {
		changed = false
		for _, b := range g.RPO[1:] {
			newIdom := -1
			for _, p := range g.Preds[b] {
				if g.idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = g.intersect(p, newIdom)
				}
			}
			if newIdom != -1 && g.idom[b] != newIdom {
				g.idom[b] = newIdom
				changed = true
			}
		}
	}
}

func (g *CFG) intersect(a, b int) int {
	for a != b {
		for g.rpoNum[a] > g.rpoNum[b] {
			a = g.idom[a]
		}
		for g.rpoNum[b] > g.rpoNum[a] {
			b = g.idom[b]
		}
	}
	return a
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
