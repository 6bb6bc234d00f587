package tac

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/CloudDataLab/MadMax/evmasm"
	"github.com/CloudDataLab/MadMax/evmop"
)

// Destackifier translates a single EVM basic block into TAC form: a
// sequence of Instructions plus the block's delta-stack, the net symbolic
// effect the block has on whatever stack it is entered with (spec.md §4.3).
// Most instructions map over directly, except:
//
//	POP: pops the symbolic stack, generates no TAC op;
//	PUSH: generates a CONST assignment;
//	DUP, SWAP: permute the symbolic stack, generate no ops;
//	LOG0..LOG4: all become the generic LOG instruction;
//	MLOAD/MSTORE/MSTORE8/SLOAD/SSTORE: form symbolic Locations.
//
// A block containing EVM instructions with no corresponding TAC code gets
// a single NOP so every block carries at least one operation with its PC.
type Destackifier struct {
	cfg      Config
	varCount int
	entryPC  uint64
}

// NewDestackifier returns a Destackifier configured per cfg.
func NewDestackifier(cfg Config) *Destackifier {
	return &Destackifier{cfg: cfg}
}

// newVar constructs a fresh unconstrained variable with the next free
// identifier, defined at the current block's entry.
func (d *Destackifier) newVar() Variable {
	v := TopVariable(fmt.Sprintf("V%d", d.varCount), d.entryPC)
	d.varCount++
	return v
}

// Convert translates evmBlock into a delta-stack and TAC instruction
// sequence. The delta stack records what the block leaves behind: the
// Variables still on the simulated stack, plus how many slots it reached
// into its caller's stack for (EmptyPops), so the resolver can later
// compose it against a real entry stack.
func (d *Destackifier) Convert(evmBlock *evmasm.EVMBasicBlock) (*VariableStack, []Instruction) {
	d.varCount = 0
	d.entryPC = evmBlock.Entry
	stack := NewVariableStack()
	var ops []Instruction

	for _, op := range evmBlock.Ops {
		code := op.Opcode
		desc, _ := evmop.Describe(code)
		switch {
		case code.IsSwap():
			stack.Swap(desc.Pop)
		case code.IsDup():
			stack.Dup(desc.Pop)
		case code == evmop.POP:
			stack.Pop()
		default:
			ops = append(ops, d.genInstruction(stack, op, desc))
		}
	}

	if len(ops) == 0 {
		ops = append(ops, NewTACOp(evmop.NOP, nil, evmBlock.Entry))
	}

	return stack, ops
}

// genInstruction produces the TAC instruction for one EVM op, popping its
// operands and pushing its result variable, if it has one.
func (d *Destackifier) genInstruction(stack *VariableStack, op evmasm.EVMOp, desc evmop.Descriptor) Instruction {
	code := op.Opcode

	var lhs Variable
	hasLHS := desc.Push == 1
	if hasLHS {
		lhs = d.newVar()
	}

	var inst Instruction
	switch {
	case code.IsPush() || code == evmop.PUSH0:
		var v uint256.Int
		if op.Value != nil {
			v = *op.Value
		}
		// The pushed constant is known at translation time; it is carried
		// both in the CONST operand and on the LHS directly, so the delta
		// stack holds the resolved value without waiting for a folding
		// pass.
		lhs = ConstVariable(v, lhs.Name(), d.entryPC)
		assign := NewTACAssignOp(lhs, evmop.CONST, []TACArg{VarArg(ConstVariable(v, "C"))}, op.PC)
		assign.PrintName = false
		inst = assign

	case code.IsLog():
		inst = NewTACOp(evmop.LOG, d.popArgs(stack, desc.Pop), op.PC)

	case code == evmop.MLOAD:
		addr := NewArg(stack.Pop())
		assign := NewTACAssignOp(lhs, code, []TACArg{LocArg(MLoc32(addr))}, op.PC)
		assign.PrintName = false
		inst = assign

	case code == evmop.MSTORE:
		args := d.popArgs(stack, 2)
		inst = NewTACLocAssignOp(MLoc32(args[0]), code, args[1:], op.PC)

	case code == evmop.MSTORE8:
		args := d.popArgs(stack, 2)
		inst = NewTACLocAssignOp(MLoc1(args[0]), code, args[1:], op.PC)

	case code == evmop.SLOAD:
		addr := NewArg(stack.Pop())
		assign := NewTACAssignOp(lhs, code, []TACArg{LocArg(SLoc32(addr))}, op.PC)
		assign.PrintName = false
		inst = assign

	case code == evmop.SSTORE:
		args := d.popArgs(stack, 2)
		inst = NewTACLocAssignOp(SLoc32(args[0]), code, args[1:], op.PC)

	case hasLHS:
		inst = NewTACAssignOp(lhs, code, d.popArgs(stack, desc.Pop), op.PC)

	default:
		inst = NewTACOp(code, d.popArgs(stack, desc.Pop), op.PC)
	}

	if hasLHS {
		stack.Push(lhs)
	}
	return inst
}

// popArgs pops n operands off the stack and wraps them as TACArgs,
// preserving MetaVariable identities for later hook-up.
func (d *Destackifier) popArgs(stack *VariableStack, n int) []TACArg {
	args := make([]TACArg, n)
	for i, v := range stack.PopMany(n) {
		args[i] = NewArg(v)
	}
	return args
}
