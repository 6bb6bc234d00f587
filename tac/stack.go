package tac

import "strings"

// MaxStackSize is the EVM's own 1024-element limit on the concrete stack;
// VariableStack enforces the same bound on its symbolic mirror (spec.md
// §4.2).
const MaxStackSize = 1024

// VariableStack is a finite sequence of Variables standing in for a basic
// block's symbolic operand stack. The stack is taken to be of infinite
// capacity, with empty slots extending indefinitely downwards; an empty
// slot is a Bottom Variable for the purposes of the lattice definition.
// Pops past the bottom of what has actually been pushed synthesise a
// MetaVariable rather than failing; EmptyPops counts how many such reads
// have happened, which keeps MetaVariable names stable as a block's entry
// stack is refined across fixed-point iterations (spec.md §4.2).
// values[len-1] is the top of the stack.
type VariableStack struct {
	values           []Variable
	emptyPops        int
	symbolicOverflow bool
}

// NewVariableStack returns an empty VariableStack.
func NewVariableStack() *VariableStack {
	return &VariableStack{}
}

// Len returns the number of concretely-held Variables (not counting any
// synthesised MetaVariables produced by underflowing pops).
func (s *VariableStack) Len() int { return len(s.values) }

// EmptyPops returns how many pops have underflowed so far.
func (s *VariableStack) EmptyPops() int { return s.emptyPops }

// SymbolicOverflow reports whether a push has ever been silently discarded
// because the stack was already at MaxStackSize.
func (s *VariableStack) SymbolicOverflow() bool { return s.symbolicOverflow }

// Values returns the stack's contents, bottom to top.
func (s *VariableStack) Values() []Variable {
	out := make([]Variable, len(s.values))
	copy(out, s.values)
	return out
}

// Clone returns an independent copy of s.
func (s *VariableStack) Clone() *VariableStack {
	return &VariableStack{values: s.Values(), emptyPops: s.emptyPops, symbolicOverflow: s.symbolicOverflow}
}

// Peek returns the Variable n positions below the top (Peek(0) is the top)
// without popping anything. Reading below what the stack actually holds
// returns a MetaVariable named S{m}, where m = n - Len() + EmptyPops();
// unlike Pop, a peek never counts as an underflow.
func (s *VariableStack) Peek(n int) Variable {
	if n < len(s.values) {
		return s.values[len(s.values)-1-n]
	}
	return NewMetaVariable(n - len(s.values) + s.emptyPops).Variable
}

// Pop removes and returns the top of the stack if one exists, otherwise
// generates a MetaVariable from past the bottom and counts the underflow.
func (s *VariableStack) Pop() Variable {
	if len(s.values) > 0 {
		v := s.values[len(s.values)-1]
		s.values = s.values[:len(s.values)-1]
		return v
	}
	s.emptyPops++
	return NewMetaVariable(s.emptyPops - 1).Variable
}

// PopMany removes and returns the top n Variables; first-popped elements
// inhabit low indices.
func (s *VariableStack) PopMany(n int) []Variable {
	out := make([]Variable, n)
	for i := 0; i < n; i++ {
		out[i] = s.Pop()
	}
	return out
}

// Push appends v to the top of the stack. Pushing past MaxStackSize sets
// SymbolicOverflow and silently discards the value; the block-level
// overflow handling decides what to do about it (spec.md §7).
func (s *VariableStack) Push(v Variable) {
	if len(s.values) >= MaxStackSize {
		s.symbolicOverflow = true
		return
	}
	s.values = append(s.values, v)
}

// PushMany pushes vs in order, so the last element of vs ends up on top.
func (s *VariableStack) PushMany(vs []Variable) {
	for _, v := range vs {
		s.Push(v)
	}
}

// Dup places a copy of the n-th element from the top (Dup(1) duplicates the
// top itself) onto the top of the stack. Reaching below the concrete stack
// synthesises MetaVariables and counts the underflow, as the pops it is
// built from do.
func (s *VariableStack) Dup(n int) {
	items := s.PopMany(n)
	for i := len(items) - 1; i >= 0; i-- {
		s.Push(items[i])
	}
	s.Push(items[n-1])
}

// Swap exchanges the top of the stack with the element n-1 positions below
// it: Swap(n) is the stack effect of SWAP(n-1), expressed as the opcode's
// full pop count the way the destackifier drives it.
func (s *VariableStack) Swap(n int) {
	items := s.PopMany(n)
	items[0], items[n-1] = items[n-1], items[0]
	for i := len(items) - 1; i >= 0; i-- {
		s.Push(items[i])
	}
}

// zipCombine builds the bottom-to-top slice produced by pairing a's and b's
// values top-down (zip_longest-style), filling missing positions on the
// shorter stack with Bottom, and combining each pair with combine. This is
// the shared shape behind both MeetStacks and JoinStacks.
func zipCombine(a, b *VariableStack, combine func(x, y Variable) Variable) []Variable {
	la, lb := len(a.values), len(b.values)
	n := la
	if lb > n {
		n = lb
	}
	result := make([]Variable, n)
	for i := 0; i < n; i++ {
		ia := la - n + i
		ib := lb - n + i
		av, bv := BottomVariable("_"), BottomVariable("_")
		if ia >= 0 {
			av = a.values[ia]
		}
		if ib >= 0 {
			bv = b.values[ib]
		}
		r := combine(av, bv)
		// A position present on only one side keeps that side's identity;
		// the Bottom filler is an alignment artifact, not a variable.
		if ia < 0 {
			r.name = bv.name
		} else if ib < 0 {
			r.name = av.name
		}
		result[i] = r
	}
	return result
}

// MeetStacks returns the element-wise meet of a and b, aligned at the top
// of the stack. Positions that exist in only one of the two input stacks
// meet against Bottom and so collapse to Bottom; a run of such Bottom
// positions at the bottom of the result is dropped, keeping the minimal
// canonical representation (spec.md §4.2).
func MeetStacks(a, b *VariableStack) *VariableStack {
	result := zipCombine(a, b, MeetVariable)
	start := 0
	for start < len(result) && result[start].IsBottom() {
		start++
	}
	return &VariableStack{values: result[start:]}
}

// JoinStacks returns the element-wise join of a and b, preserving every
// position: the shorter stack's missing entries join against Bottom and
// simply adopt the other side's value.
func JoinStacks(a, b *VariableStack) *VariableStack {
	return &VariableStack{values: zipCombine(a, b, JoinVariable)}
}

// Equals reports whether the two stacks hold the same value sets, position
// by position. Names are ignored: two stacks are the same dataflow fact
// when their value sets agree, whatever the variables happen to be called.
func (s *VariableStack) Equals(o *VariableStack) bool {
	if len(s.values) != len(o.values) {
		return false
	}
	for i := range s.values {
		if !s.values[i].values.Equals(o.values[i].values) {
			return false
		}
	}
	return true
}

// Metafy converts the MetaVariables on the stack into named slots keyed by
// their current depth from the top, so stacks produced by different
// predecessor paths refer to "the caller's n-th-from-top slot" with the
// same identifier once merged (spec.md §4.2).
func (s *VariableStack) Metafy() {
	for i := range s.values {
		if _, ok := AsMetaVariable(s.values[i]); !ok {
			continue
		}
		depth := len(s.values) - 1 - i
		s.values[i] = NewMetaVariable(depth).Variable
	}
}

// applyDefs replaces any slot whose Variable shares a name with a freshly
// (re)defined Variable in defs. Block-local constant folding uses this to
// keep the delta stack's view of a variable in step with the op that
// defines it.
func (s *VariableStack) applyDefs(defs map[string]Variable) {
	for i := range s.values {
		if nv, ok := defs[s.values[i].name]; ok {
			s.values[i] = nv
		}
	}
}

func (s *VariableStack) String() string {
	parts := make([]string, 0, len(s.values))
	for _, v := range s.values {
		parts = append(parts, v.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
