package tac

import (
	"fmt"
	"sort"
	"strings"

	"github.com/CloudDataLab/MadMax/evmasm"
	"github.com/CloudDataLab/MadMax/evmop"
)

// TACBasicBlock is one maximal straight-line run of TAC instructions, with
// the stack state the dataflow loop threads through it and the CFG edges
// it participates in (spec.md §3). It is created by the Destackifier with
// empty EntryStack/ExitStack; EntryStack is overwritten every outer
// iteration by joining predecessor ExitStacks, and ExitStack is re-derived
// from EntryStack and DeltaStack.
type TACBasicBlock struct {
	Entry uint64
	Exit  uint64

	Ops    []Instruction
	EVMOps []evmasm.EVMOp

	DeltaStack *VariableStack
	EntryStack *VariableStack
	ExitStack  *VariableStack

	Preds []*TACBasicBlock
	Succs []*TACBasicBlock

	HasUnresolvedJump bool
	SymbolicOverflow  bool

	// IdentSuffix distinguishes blocks that share an entry PC after
	// CloneAmbiguousJumpBlocks or MergeDuplicateBlocks has run (spec.md
	// §4.5). Empty for an original, un-split, un-merged block.
	IdentSuffix string
}

// NewTACBasicBlock constructs a block from a destackified EVM block.
func NewTACBasicBlock(evmBlock *evmasm.EVMBasicBlock, delta *VariableStack, ops []Instruction) *TACBasicBlock {
	b := &TACBasicBlock{
		Entry:      evmBlock.Entry,
		Exit:       evmBlock.Exit,
		EVMOps:     evmBlock.Ops,
		DeltaStack: delta,
		EntryStack: NewVariableStack(),
		ExitStack:  NewVariableStack(),
		Ops:        ops,
	}
	for _, op := range b.Ops {
		op.SetBlockRef(b)
	}
	return b
}

// Ident is the block's display identity: its entry PC, plus a
// disambiguating suffix for clones and merges.
func (b *TACBasicBlock) Ident() string {
	if b.IdentSuffix == "" {
		return fmt.Sprintf("%d", b.Entry)
	}
	return fmt.Sprintf("%d%s", b.Entry, b.IdentSuffix)
}

// String renders the block header plus its TAC listing.
func (b *TACBasicBlock) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- Block %s ---\n", b.Ident())
	fmt.Fprintf(&sb, "Entry stack: %s\n", b.EntryStack)
	fmt.Fprintf(&sb, "Exit stack: %s\n", b.ExitStack)
	for _, op := range b.Ops {
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// lastInstr returns the block's final instruction, or nil if the block has
// none (only possible after a mutated JUMPI was deleted from a
// single-instruction block).
func (b *TACBasicBlock) lastInstr() Instruction {
	if len(b.Ops) == 0 {
		return nil
	}
	return b.Ops[len(b.Ops)-1]
}

// BuildExitStack rebuilds ExitStack from EntryStack and DeltaStack: pop
// DeltaStack.EmptyPops() items off a copy of the entry stack, then push the
// delta values on top, resolving any MetaVariable in the delta against the
// entry stack it now composes with (spec.md §3, §4.6 step 1).
//
// Underflow past the entry stack returns ErrEmptyPop when
// cfg.DieOnEmptyPop is set. Overflow past MaxStackSize records
// SymbolicOverflow on the block and, with cfg.SkipStackOnOverflow, leaves
// the previous exit stack in place for this iteration (spec.md §7).
func (b *TACBasicBlock) BuildExitStack(cfg Config) error {
	if cfg.DieOnEmptyPop && b.EntryStack.Len() < b.DeltaStack.EmptyPops() {
		return fmt.Errorf("%w: block %s pops %d from an entry stack of %d",
			ErrEmptyPop, b.Ident(), b.DeltaStack.EmptyPops(), b.EntryStack.Len())
	}

	delta := b.DeltaStack.Len() - b.DeltaStack.EmptyPops()
	if b.DeltaStack.SymbolicOverflow() || b.EntryStack.Len()+delta > MaxStackSize {
		b.SymbolicOverflow = true
		if cfg.SkipStackOnOverflow {
			return nil
		}
	}

	out := b.EntryStack.Clone()
	for i := 0; i < b.DeltaStack.EmptyPops(); i++ {
		out.Pop()
	}
	for _, v := range b.DeltaStack.Values() {
		if m, ok := AsMetaVariable(v); ok {
			v = b.EntryStack.Peek(m.Payload)
		}
		out.Push(v)
	}
	b.ExitStack = out
	return nil
}

// ApplyOperations walks Ops once, propagating and folding constants
// through the block's CONST and arithmetic instructions (spec.md §4.4).
// With useSets, folding is also performed over multi-valued (but
// constrained) argument sets in all combinations. It returns how many of
// the foldings widened their result to Top, for Stats.WideningEvents.
//
// Variables are value-semantic here, so a definition does not silently
// update the copies of itself already sitting in later args or in the
// delta stack; defs carries each (re)definition forward through the walk
// and into the delta stack at the end.
func (b *TACBasicBlock) ApplyOperations(cfg Config, useSets bool) (int, error) {
	widenCount := 0
	defs := map[string]Variable{}
	for _, instr := range b.Ops {
		refreshArgs(instr, defs)
		assign, ok := instr.(*TACAssignOp)
		if !ok || assign.LHSLoc != nil {
			continue
		}
		switch {
		case assign.Opcode == evmop.CONST:
			assign.LHS = assign.LHS.SetValues(assign.Args[0].Value().Values())
			defs[assign.LHS.Name()] = assign.LHS

		case assign.Opcode.IsArithmetic():
			if !(assign.ConstantArgs() || (assign.ConstrainedArgs() && useSets)) {
				continue
			}
			args := assign.GetArgs()
			values := make([]Variable, len(args))
			for i, a := range args {
				values[i] = a.Value()
			}
			result, widened, err := arithOpWidening(cfg, assign.Opcode, values, assign.LHS.Name())
			if err != nil {
				return widenCount, fmt.Errorf("block %s: %w", b.Ident(), err)
			}
			if widened {
				widenCount++
			}
			assign.LHS = assign.LHS.SetValues(result.Values())
			defs[assign.LHS.Name()] = assign.LHS
		}
	}
	b.DeltaStack.applyDefs(defs)
	return widenCount, nil
}

// refreshArgs re-reads any plain Variable argument that a preceding
// instruction of this block has since redefined. Hooked-up stack arguments
// are refreshed by HookUpStackVars instead, and Location arguments are
// never refined.
func refreshArgs(instr Instruction, defs map[string]Variable) {
	args := instr.GetArgs()
	changed := false
	for i, a := range args {
		if a.StackVar != nil || a.Loc != nil || a.Var == nil {
			continue
		}
		if nv, ok := defs[a.Var.Name()]; ok {
			args[i].Var = &nv
			changed = true
		}
	}
	if changed {
		instr.SetArgs(args)
	}
}

// HookUpStackVars records, for every argument still carrying a
// MetaVariable at depth d < EntryStack.Len(), the actual Variable the entry
// stack holds at that depth (spec.md §4.4). MetaVariables past the bottom
// of the known entry stack are left alone, as replacing them would lose
// information.
func (b *TACBasicBlock) HookUpStackVars() {
	for _, instr := range b.Ops {
		args := instr.GetArgs()
		changed := false
		for i, a := range args {
			if a.StackVar == nil {
				continue
			}
			d := a.StackVar.Payload
			if d >= b.EntryStack.Len() {
				continue
			}
			resolved := b.EntryStack.Peek(d)
			args[i].Var = &resolved
			changed = true
		}
		if changed {
			instr.SetArgs(args)
		}
	}
}

// HookUpJumps connects this block up to any successors that can be
// inferred from its final instruction — the heart of CFG discovery
// (spec.md §4.4). With mutateJumps, JUMPIs with known conditions become
// JUMPs or are deleted; with generateThrows, jumps whose every destination
// is invalid become THROW/THROWI. Returns true iff the successor set
// changed.
func (b *TACBasicBlock) HookUpJumps(g *TACGraph, mutateJumps, generateThrows bool) bool {
	final := b.lastInstr()
	if final == nil {
		return false
	}

	// jumpdests maps each valid destination PC to the blocks addressed
	// there.
	jumpdests := map[uint64][]*TACBasicBlock{}
	var fallthru []*TACBasicBlock
	invalidJump := false
	unresolved := true

	// handleValidDests collects the valid destinations of d, returning
	// false iff d is unconstrained. A constrained jump with no valid
	// destinations at all is an invalid jump.
	handleValidDests := func(d Variable) bool {
		if d.IsUnconstrained() {
			return false
		}
		for _, v := range d.Values().Members() {
			pc := v.Uint64()
			if !g.IsValidJumpDest(pc) {
				continue
			}
			var targets []*TACBasicBlock
			for _, op := range g.GetOpsByPC(pc) {
				targets = append(targets, op.GetBlockRef())
			}
			jumpdests[pc] = targets
		}
		return true
	}

	switch final.GetOpcode() {
	case evmop.JUMPI:
		args := final.GetArgs()
		dest := args[0].Value()
		cond := args[1].Value()

		switch {
		// The condition cannot be true: delete the jump.
		case mutateJumps && cond.IsFalse():
			b.Ops = b.Ops[:len(b.Ops)-1]
			fallthru = g.GetBlocksByPC(final.GetPC() + 1)
			unresolved = false

		// The condition must be true: the JUMPI behaves like a JUMP.
		case mutateJumps && cond.IsTrue():
			setOpcode(final, evmop.JUMP)
			final.SetArgs(args[:1])
			if handleValidDests(dest) && len(jumpdests) == 0 {
				invalidJump = true
			}
			unresolved = false

		default:
			fallthru = g.GetBlocksByPC(final.GetPC() + 1)
			if handleValidDests(dest) && len(jumpdests) == 0 {
				invalidJump = true
			}
			if !dest.IsUnconstrained() || defSiteConst(dest) {
				unresolved = false
			}
		}

	case evmop.JUMP:
		dest := final.GetArgs()[0].Value()
		if handleValidDests(dest) && len(jumpdests) == 0 {
			invalidJump = true
		}
		if !dest.IsUnconstrained() || defSiteConst(dest) {
			unresolved = false
		}

	// Not a jump; this case also handles THROW and THROWI.
	default:
		unresolved = false
		if !final.GetOpcode().Halts() {
			fallthru = g.GetBlocksByPC(b.Exit + 1)
		}
	}

	if generateThrows && invalidJump {
		final.ConvertJumpToThrow()
	}
	b.HasUnresolvedJump = unresolved

	// Where an address maps to blocks some of which are already
	// successors, narrow to those: a previous definite resolution (e.g.
	// onto one clone of a split chain) must not be widened back out.
	for pc, list := range jumpdests {
		var keep []*TACBasicBlock
		for _, t := range list {
			if containsBlock(b.Succs, t) {
				keep = append(keep, t)
			}
		}
		if len(keep) != 0 {
			jumpdests[pc] = keep
		}
	}
	var keepFall []*TACBasicBlock
	for _, t := range fallthru {
		if containsBlock(b.Succs, t) {
			keepFall = append(keepFall, t)
		}
	}
	if len(keepFall) != 0 {
		fallthru = keepFall
	}

	oldSuccs := append([]*TACBasicBlock{}, b.Succs...)
	newSuccs := map[*TACBasicBlock]bool{}
	for _, list := range jumpdests {
		for _, t := range list {
			newSuccs[t] = true
		}
	}
	for _, t := range fallthru {
		newSuccs[t] = true
	}

	// Old successors at a PC the jump still targets, but which are no
	// longer among the chosen blocks there, are dropped; successors at
	// PCs the current (partial) information says nothing about are kept,
	// so edges only accumulate while resolution is incomplete.
	for _, s := range oldSuccs {
		if _, targeted := jumpdests[s.Entry]; targeted && !newSuccs[s] {
			g.RemoveEdge(b, s)
		}
	}
	for s := range newSuccs {
		if !containsBlock(b.Succs, s) {
			g.AddEdge(b, s)
		}
	}

	return !sameBlockSet(oldSuccs, b.Succs)
}

// defSiteConst implements the resolved-by-provenance rule: a destination
// with exactly one possible definition site is treated as resolved even
// when its value is not yet known (spec.md §9).
func defSiteConst(dest Variable) bool {
	return !dest.DefSites().IsTop() && dest.DefSites().Len() == 1
}

func setOpcode(instr Instruction, op evmop.OpCode) {
	switch t := instr.(type) {
	case *TACAssignOp:
		t.Opcode = op
	case *TACOp:
		t.Opcode = op
	}
}

func containsBlock(list []*TACBasicBlock, b *TACBasicBlock) bool {
	for _, x := range list {
		if x == b {
			return true
		}
	}
	return false
}

func sameBlockSet(a, b []*TACBasicBlock) bool {
	if len(a) != len(b) {
		return false
	}
	sa := map[*TACBasicBlock]bool{}
	for _, x := range a {
		sa[x] = true
	}
	for _, x := range b {
		if !sa[x] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of b with no graph linkage (preds/succs) and
// the given identity suffix; every copied op is re-targeted at the clone
// (spec.md §9: deep-copy during chain-splitting must re-target op.block as
// part of the clone's post-construction fixup).
func (b *TACBasicBlock) Clone(suffix string) *TACBasicBlock {
	ops := make([]Instruction, len(b.Ops))
	for i, op := range b.Ops {
		ops[i] = op.Clone()
	}
	clone := &TACBasicBlock{
		Entry:             b.Entry,
		Exit:              b.Exit,
		EVMOps:            b.EVMOps,
		DeltaStack:        b.DeltaStack.Clone(),
		EntryStack:        b.EntryStack.Clone(),
		ExitStack:         b.ExitStack.Clone(),
		HasUnresolvedJump: b.HasUnresolvedJump,
		SymbolicOverflow:  b.SymbolicOverflow,
		IdentSuffix:       suffix,
		Ops:               ops,
	}
	for _, op := range clone.Ops {
		op.SetBlockRef(clone)
	}
	return clone
}

// Accept dispatches to v for this block and every instruction it holds,
// the minimal "visitor interface that traverses blocks and TAC ops" spec.md
// §6 names as the downstream collaborator contract.
func (b *TACBasicBlock) Accept(v Visitor) {
	v.VisitBlock(b)
	for _, op := range b.Ops {
		v.VisitOp(op)
	}
}

// Visitor is the downstream-collaborator traversal contract; a decompiler
// or pattern visitor implements it to walk a finalised TACGraph.
type Visitor interface {
	VisitBlock(b *TACBasicBlock)
	VisitOp(op Instruction)
}

// sortBlocksByEntry returns blocks sorted by (Entry, IdentSuffix), the
// stable order diagnostic dumps use.
func sortBlocksByEntry(blocks []*TACBasicBlock) []*TACBasicBlock {
	out := append([]*TACBasicBlock{}, blocks...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entry != out[j].Entry {
			return out[i].Entry < out[j].Entry
		}
		return out[i].IdentSuffix < out[j].IdentSuffix
	})
	return out
}
