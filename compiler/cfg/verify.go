package cfg

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// ============================================================================
// Graph checks
// ============================================================================

// computeUnreachable runs a DFS from the entry block and returns the ids
// of blocks no path reaches. Unreachable blocks stay in the graph and are
// still emitted: GOSUB and ON targets reach them by id at runtime.
func computeUnreachable(g *ControlFlowGraph) []int {
	visited := bitset.New(uint(len(g.Blocks)))
	stack := []int{g.Entry}
	visited.Set(uint(g.Entry))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, succ := range g.Blocks[id].Successors {
			if !visited.Test(uint(succ)) {
				visited.Set(uint(succ))
				stack = append(stack, succ)
			}
		}
	}
	var unreachable []int
	for id := range g.Blocks {
		if !visited.Test(uint(id)) {
			unreachable = append(unreachable, id)
		}
	}
	return unreachable
}

// Verify checks the structural invariants of a built graph: adjacency
// consistency, conditional-edge pairing, reachable blocks leaving
// somewhere, the GOSUB call/continuation pairing in both directions, and
// line-map completeness. It is used by tests and, under a pipeline flag,
// after every build. The returned list is empty for a well-formed graph.
func Verify(g *ControlFlowGraph) []error {
	var errs []error
	report := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	// adjacency lists must mirror the edge list
	for _, block := range g.Blocks {
		succs := map[int]int{}
		preds := map[int]int{}
		for _, e := range g.Edges {
			if e.To == NoTarget {
				continue
			}
			if e.From == block.ID {
				succs[e.To]++
			}
			if e.To == block.ID {
				preds[e.From]++
			}
		}
		if len(block.Successors) != sum(succs) {
			report("block %d: %d successors, %d out-edges", block.ID, len(block.Successors), sum(succs))
		}
		if len(block.Predecessors) != sum(preds) {
			report("block %d: %d predecessors, %d in-edges", block.ID, len(block.Predecessors), sum(preds))
		}
	}

	// conditional edges come in exactly one true/false pair per source
	for _, block := range g.Blocks {
		var nTrue, nFalse int
		for _, e := range g.OutEdges(block.ID) {
			switch e.Type {
			case EdgeCondTrue:
				nTrue++
			case EdgeCondFalse:
				nFalse++
			}
		}
		if nTrue != nFalse || nTrue > 1 {
			report("block %d: %d CONDITIONAL_TRUE vs %d CONDITIONAL_FALSE out-edges", block.ID, nTrue, nFalse)
		}
	}

	// every CALL source pairs with one sequential edge into a registered
	// return continuation
	for _, block := range g.Blocks {
		out := g.OutEdges(block.ID)
		nCall := 0
		for _, e := range out {
			if e.Type == EdgeCall {
				nCall++
			}
		}
		if nCall == 0 {
			continue
		}
		var conts []int
		for _, e := range out {
			if e.Type == EdgeFallthrough || e.Type == EdgeJump {
				conts = append(conts, e.To)
			}
		}
		if len(conts) != 1 {
			report("block %d: CALL edge with %d paired sequential edges", block.ID, len(conts))
			continue
		}
		if !g.GosubReturnBlocks[conts[0]] {
			report("block %d: GOSUB continuation %d is not registered", block.ID, conts[0])
		}
	}

	// every reachable block must leave somewhere: an out-edge (RETURN and
	// EXCEPTION edges count), a terminator, or being the callable's tail
	unreachable := bitset.New(uint(len(g.Blocks)))
	for _, id := range computeUnreachable(g) {
		unreachable.Set(uint(id))
	}
	for _, block := range g.Blocks {
		if unreachable.Test(uint(block.ID)) {
			continue
		}
		if len(g.OutEdges(block.ID)) > 0 || block.IsTerminated || block.ID == g.Tail {
			continue
		}
		report("block %d: reachable dead end with no out-edge", block.ID)
	}

	// the return dispatch domain is exactly the registered continuations:
	// each must exist and be the paired target of some CALL site
	for id := range g.GosubReturnBlocks {
		if id < 0 || id >= len(g.Blocks) {
			report("gosub return block %d out of range", id)
			continue
		}
		paired := false
		for _, block := range g.Blocks {
			hasCall := false
			feedsCont := false
			for _, e := range g.OutEdges(block.ID) {
				switch {
				case e.Type == EdgeCall:
					hasCall = true
				case e.To == id && (e.Type == EdgeFallthrough || e.Type == EdgeJump):
					feedsCont = true
				}
			}
			if hasCall && feedsCont {
				paired = true
				break
			}
		}
		if !paired {
			report("gosub return block %d is not the continuation of any CALL site", id)
		}
	}

	// every line-numbered statement placed in a block must be registered
	// as a jump-resolution entry
	for _, block := range g.Blocks {
		for _, line := range block.Lines {
			if line == 0 {
				continue
			}
			if _, ok := g.LineToBlock[line]; !ok {
				report("line %d has statements but no lineNumberToBlock entry", line)
			}
		}
	}

	// block ids are arena indices
	for i, block := range g.Blocks {
		if block.ID != i {
			report("block at index %d has id %d", i, block.ID)
		}
	}

	// loop roles must point at real blocks
	for header, loop := range g.Loops {
		if loop.Header != header {
			report("loop keyed %d has header %d", header, loop.Header)
		}
		for _, id := range []int{loop.Init, loop.Cond, loop.Increment, loop.Exit} {
			if id != NoTarget && (id < 0 || id >= len(g.Blocks)) {
				report("loop %d references block %d out of range", header, id)
			}
		}
	}

	// line map targets must exist
	for line, id := range g.LineToBlock {
		if id < 0 || id >= len(g.Blocks) {
			report("line %d maps to block %d out of range", line, id)
		}
	}

	return errs
}

// ReachableSet returns the blocks reachable from entry as a bitset.
func ReachableSet(g *ControlFlowGraph) *bitset.BitSet {
	visited := bitset.New(uint(len(g.Blocks)))
	unreachable := bitset.New(uint(len(g.Blocks)))
	for _, id := range computeUnreachable(g) {
		unreachable.Set(uint(id))
	}
	for id := range g.Blocks {
		if !unreachable.Test(uint(id)) {
			visited.Set(uint(id))
		}
	}
	return visited
}

func sum(m map[int]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
