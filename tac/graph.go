package tac

import (
	"strconv"

	"github.com/CloudDataLab/MadMax/evmasm"
	"github.com/CloudDataLab/MadMax/evmop"
)

// TACGraph is the analysed control-flow graph: a set of TACBasicBlocks
// linked by Preds/Succs, with Root the block entered at program counter 0
// (spec.md §3). It owns the PC-indexed lookups HookUpJumps needs and the
// orchestration passes (§4.5) that run every block's local pass and then
// restructure the graph itself.
type TACGraph struct {
	Blocks []*TACBasicBlock
	Root   *TACBasicBlock
}

// NewTACGraph builds a TACGraph from already-destackified blocks.
func NewTACGraph(blocks []*TACBasicBlock) *TACGraph {
	g := &TACGraph{Blocks: blocks}
	for _, b := range blocks {
		if b.Entry == 0 {
			g.Root = b
			break
		}
	}
	return g
}

// FromBytecode disassembles code, destackifies every resulting EVM block,
// and immediately propagates constants and connects whatever edges can
// already be inferred, leaving the iterative resolver (Analyze) to do the
// rest.
func FromBytecode(code []byte, cfg Config) (*TACGraph, error) {
	evmBlocks := evmasm.Disassemble(code)
	if len(evmBlocks) == 0 {
		return nil, ErrNoBlocks
	}

	d := NewDestackifier(cfg)
	blocks := make([]*TACBasicBlock, len(evmBlocks))
	for i, eb := range evmBlocks {
		delta, ops := d.Convert(eb)
		blocks[i] = NewTACBasicBlock(eb, delta, ops)
	}

	g := NewTACGraph(blocks)
	if _, err := g.ApplyOperations(cfg, cfg.SetValuedOps); err != nil {
		return nil, err
	}
	g.HookUpJumps(cfg.MutateJumps, cfg.GenerateThrows)
	return g, nil
}

// RefreshRoot re-derives Root after graph surgery: merging or splitting
// can replace the block entered at PC 0 with a fresh copy.
func (g *TACGraph) RefreshRoot() {
	for _, b := range g.Blocks {
		if b.Entry == 0 {
			g.Root = b
			return
		}
	}
	g.Root = nil
}

// GetBlocksByPC returns the blocks whose spans include the given program
// counter (normally at most one; merging and chain-splitting can leave
// several blocks covering the same span mid-convergence).
func (g *TACGraph) GetBlocksByPC(pc uint64) []*TACBasicBlock {
	var out []*TACBasicBlock
	for _, b := range g.Blocks {
		if b.Entry <= pc && pc <= b.Exit {
			out = append(out, b)
		}
	}
	return out
}

// GetOpsByPC returns the TAC operations recorded at pc across all blocks
// whose spans include it.
func (g *TACGraph) GetOpsByPC(pc uint64) []Instruction {
	var ops []Instruction
	for _, b := range g.GetBlocksByPC(pc) {
		for _, op := range b.Ops {
			if op.GetPC() == pc {
				ops = append(ops, op)
			}
		}
	}
	return ops
}

// IsValidJumpDest reports whether pc names a JUMPDEST (spec.md §4.4, §8).
func (g *TACGraph) IsValidJumpDest(pc uint64) bool {
	for _, op := range g.GetOpsByPC(pc) {
		if op.GetOpcode() == evmop.JUMPDEST {
			return true
		}
	}
	return false
}

// AddBlock inserts b into the graph.
func (g *TACGraph) AddBlock(b *TACBasicBlock) {
	g.Blocks = append(g.Blocks, b)
}

// RemoveBlock deletes b from the graph and unlinks it from every remaining
// predecessor and successor.
func (g *TACGraph) RemoveBlock(b *TACBasicBlock) {
	for _, p := range b.Preds {
		p.Succs = removeBlock(p.Succs, b)
	}
	for _, s := range b.Succs {
		s.Preds = removeBlock(s.Preds, b)
	}
	g.Blocks = removeBlock(g.Blocks, b)
}

// AddEdge links pred -> succ on both adjacency lists, if not already
// present.
func (g *TACGraph) AddEdge(pred, succ *TACBasicBlock) {
	if !containsBlock(pred.Succs, succ) {
		pred.Succs = append(pred.Succs, succ)
	}
	if !containsBlock(succ.Preds, pred) {
		succ.Preds = append(succ.Preds, pred)
	}
}

// RemoveEdge unlinks pred -> succ from both adjacency lists.
func (g *TACGraph) RemoveEdge(pred, succ *TACBasicBlock) {
	pred.Succs = removeBlock(pred.Succs, succ)
	succ.Preds = removeBlock(succ.Preds, pred)
}

func removeBlock(list []*TACBasicBlock, b *TACBasicBlock) []*TACBasicBlock {
	out := list[:0:0]
	for _, x := range list {
		if x != b {
			out = append(out, x)
		}
	}
	return out
}

// ApplyOperations delegates to every block's local pass (spec.md §4.5),
// summing how many foldings widened to Top.
func (g *TACGraph) ApplyOperations(cfg Config, useSets bool) (int, error) {
	widenCount := 0
	for _, b := range g.Blocks {
		n, err := b.ApplyOperations(cfg, useSets)
		widenCount += n
		if err != nil {
			return widenCount, err
		}
	}
	return widenCount, nil
}

// HookUpStackVars delegates to every block's local pass.
func (g *TACGraph) HookUpStackVars() {
	for _, b := range g.Blocks {
		b.HookUpStackVars()
	}
}

// HookUpJumps delegates to every block's local pass, returning true iff
// any block's successor set changed.
func (g *TACGraph) HookUpJumps(mutateJumps, generateThrows bool) bool {
	changed := false
	for _, b := range g.Blocks {
		if b.HookUpJumps(g, mutateJumps, generateThrows) {
			changed = true
		}
	}
	return changed
}

// RecalcPreds wipes every block's Preds and rebuilds it from the graph's
// Succs adjacency (spec.md §4.5).
func (g *TACGraph) RecalcPreds() {
	for _, b := range g.Blocks {
		b.Preds = nil
	}
	for _, b := range g.Blocks {
		for _, s := range b.Succs {
			s.Preds = append(s.Preds, b)
		}
	}
}

// transitiveClosure returns every block reachable from origins via Succs.
func (g *TACGraph) transitiveClosure(origins []*TACBasicBlock) map[*TACBasicBlock]bool {
	visited := map[*TACBasicBlock]bool{}
	queue := append([]*TACBasicBlock{}, origins...)
	for _, o := range origins {
		visited[o] = true
	}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		for _, s := range b.Succs {
			if !visited[s] {
				visited[s] = true
				queue = append(queue, s)
			}
		}
	}
	return visited
}

// TransitiveClosure returns the blocks reachable from any block whose span
// includes an origin PC (spec.md §4.5).
func (g *TACGraph) TransitiveClosure(originPCs []uint64) []*TACBasicBlock {
	var origins []*TACBasicBlock
	for _, pc := range originPCs {
		origins = append(origins, g.GetBlocksByPC(pc)...)
	}
	visited := g.transitiveClosure(origins)
	var out []*TACBasicBlock
	for b := range visited {
		out = append(out, b)
	}
	return sortBlocksByEntry(out)
}

// RemoveUnreachableCode drops every block not reachable from the blocks at
// originPCs (default just {0}), maintaining Preds/Succs on the survivors
// (spec.md §4.5). If not all jumps have been resolved, unreached blocks
// may actually be reachable.
func (g *TACGraph) RemoveUnreachableCode(originPCs []uint64) {
	if len(originPCs) == 0 {
		originPCs = []uint64{0}
	}
	var origins []*TACBasicBlock
	for _, pc := range originPCs {
		origins = append(origins, g.GetBlocksByPC(pc)...)
	}
	reachable := g.transitiveClosure(origins)

	for _, b := range append([]*TACBasicBlock{}, g.Blocks...) {
		if !reachable[b] {
			g.RemoveBlock(b)
		}
	}
}

// MergeDuplicateBlocks merges blocks sharing an entry PC — and, unless
// ignored, identical pred/succ sets — into a single block carrying the
// join of their stacks and the union of their edges (spec.md §4.5). The
// duplicate blocks' code is necessarily identical, as they can only have
// arisen by cloning, so only stacks and edges need reconciling. Iterates
// to a fixed point, since a merge changes the very pred/succ identities
// later grouping rounds compare.
func (g *TACGraph) MergeDuplicateBlocks(cfg Config, ignorePreds, ignoreSuccs bool) {
	equal := func(a, b *TACBasicBlock) bool {
		if a.Entry != b.Entry {
			return false
		}
		if !ignorePreds && !sameBlockSet(a.Preds, b.Preds) {
			return false
		}
		if !ignoreSuccs && !sameBlockSet(a.Succs, b.Succs) {
			return false
		}
		return true
	}

	for {
		var groups [][]*TACBasicBlock
		for _, b := range g.Blocks {
			placed := false
			for i := range groups {
				if equal(b, groups[i][0]) {
					groups[i] = append(groups[i], b)
					placed = true
					break
				}
			}
			if !placed {
				groups = append(groups, []*TACBasicBlock{b})
			}
		}

		modified := false
		for i, group := range groups {
			if len(group) > 1 {
				g.mergeGroup(cfg, group, i)
				modified = true
			}
		}
		if !modified {
			return
		}
	}
}

// mergeGroup collapses group into a single fresh block.
func (g *TACGraph) mergeGroup(cfg Config, group []*TACBasicBlock, ident int) {
	entryStack := NewVariableStack()
	exitStack := NewVariableStack()
	overflow := false
	unresolved := false
	var preds, succs []*TACBasicBlock
	for _, b := range group {
		entryStack = JoinStacks(entryStack, b.EntryStack)
		exitStack = JoinStacks(exitStack, b.ExitStack)
		overflow = overflow || b.SymbolicOverflow
		unresolved = unresolved || b.HasUnresolvedJump
		for _, p := range b.Preds {
			if !containsBlock(preds, p) && !containsBlock(group, p) {
				preds = append(preds, p)
			}
		}
		for _, s := range b.Succs {
			if !containsBlock(succs, s) && !containsBlock(group, s) {
				succs = append(succs, s)
			}
		}
	}
	entryStack.Metafy()
	exitStack.Metafy()

	merged := group[0].Clone("_" + strconv.Itoa(ident))
	merged.EntryStack = entryStack
	merged.ExitStack = exitStack
	merged.SymbolicOverflow = overflow
	merged.HasUnresolvedJump = unresolved

	g.AddBlock(merged)
	for _, p := range preds {
		g.AddEdge(p, merged)
	}
	for _, s := range succs {
		g.AddEdge(merged, s)
	}
	for _, b := range group {
		g.RemoveBlock(b)
	}

	if len(g.blocksAtEntry(merged.Entry)) == 1 {
		merged.IdentSuffix = ""
	}

	merged.HookUpStackVars()
	merged.ApplyOperations(cfg, false)
	merged.HookUpJumps(g, false, false)
}

func (g *TACGraph) blocksAtEntry(pc uint64) []*TACBasicBlock {
	var out []*TACBasicBlock
	for _, b := range g.Blocks {
		if b.Entry == pc {
			out = append(out, b)
		}
	}
	return out
}

// CloneAmbiguousJumpBlocks splits a block whose final jump destination was
// genuinely defined in multiple places: walk backward through the chain of
// single-predecessor blocks up to and including the nearest confluence
// point, then duplicate the chain once per confluence predecessor, each
// copy retaining exactly one incoming edge, disambiguating which upstream
// definition flowed to which exit (spec.md §4.5). Chains containing a
// cycle, or whose confluence predecessors sit inside the chain itself, are
// left alone. Iterates until no more chains split.
func (g *TACGraph) CloneAmbiguousJumpBlocks() {
	skip := map[*TACBasicBlock]bool{}
	for {
		modified := false
		for _, b := range append([]*TACBasicBlock{}, g.Blocks...) {
			if skip[b] {
				continue
			}
			if !jumpIsAmbiguous(b) {
				continue
			}
			if g.splitChain(b, skip) {
				modified = true
			}
		}
		if !modified {
			return
		}
	}
}

// jumpIsAmbiguous reports whether b ends in a jump whose destination has
// both multiple possible values and multiple possible definition sites: a
// const destination needs no split, a single def site means there is no
// provenance to disambiguate, and a fully unconstrained destination with
// unconstrained provenance offers nothing to split on.
func jumpIsAmbiguous(b *TACBasicBlock) bool {
	final := b.lastInstr()
	if final == nil {
		return false
	}
	if final.GetOpcode() != evmop.JUMP && final.GetOpcode() != evmop.JUMPI {
		return false
	}
	args := final.GetArgs()
	if len(args) == 0 {
		return false
	}
	dest := args[0].Value()
	if dest.IsConst() || defSiteConst(dest) {
		return false
	}
	if dest.IsUnconstrained() && dest.DefSites().IsTop() {
		return false
	}
	return true
}

// splitChain performs one chain split rooted at the ambiguous jump block
// target. Returns false if the chain could not be split safely.
func (g *TACGraph) splitChain(target *TACBasicBlock, skip map[*TACBasicBlock]bool) bool {
	chain := []*TACBasicBlock{target}
	cur := target
	for len(cur.Preds) == 1 {
		cur = cur.Preds[0]
		if containsBlock(chain, cur) {
			return false // cycle
		}
		chain = append(chain, cur)
	}

	chainPreds := append([]*TACBasicBlock{}, cur.Preds...)
	if len(chainPreds) == 0 {
		return false
	}
	for _, p := range chainPreds {
		if containsBlock(chain, p) {
			return false
		}
	}

	// chain[0] is the jumping block, chain[len-1] the confluence point.
	for _, p := range chainPreds {
		copies := make(map[*TACBasicBlock]*TACBasicBlock, len(chain))
		for _, orig := range chain {
			clone := orig.Clone(orig.IdentSuffix + "_" + p.Ident())
			copies[orig] = clone
			skip[clone] = true
			g.AddBlock(clone)
		}
		g.AddEdge(p, copies[chain[len(chain)-1]])
		for _, orig := range chain {
			clone := copies[orig]
			for _, s := range orig.Succs {
				if c, inChain := copies[s]; inChain {
					g.AddEdge(clone, c)
				} else {
					g.AddEdge(clone, s)
				}
			}
		}
	}

	for _, b := range chain {
		skip[b] = true
		g.RemoveBlock(b)
	}
	return true
}
