package tac

import (
	"fmt"
	"strings"

	"github.com/CloudDataLab/MadMax/evmop"
)

// TACArg is one operand of a TACOp: a resolved Variable, a MetaVariable
// placeholder naming an as-yet-unknown caller stack slot, or a symbolic
// memory/storage Location (spec.md §3). Holding both the current value and
// the entry-stack position it came from lets refined stack data be
// propagated into the body of a block across iterations.
type TACArg struct {
	Var      *Variable
	StackVar *MetaVariable
	Loc      *Location
}

// VarArg wraps a resolved Variable as a TACArg.
func VarArg(v Variable) TACArg { return TACArg{Var: &v} }

// StackArg wraps a MetaVariable placeholder as a TACArg.
func StackArg(m MetaVariable) TACArg { return TACArg{StackVar: &m} }

// LocArg wraps a symbolic Location as a TACArg.
func LocArg(l Location) TACArg { return TACArg{Loc: &l} }

// NewArg wraps a Variable popped off a VariableStack, preserving its
// MetaVariable identity when it has one so the argument can later be hooked
// up against the block's real entry stack.
func NewArg(v Variable) TACArg {
	if m, ok := AsMetaVariable(v); ok {
		return StackArg(m)
	}
	return VarArg(v)
}

// Value returns the argument's current Variable: the hooked-up value if one
// has been recorded, else the MetaVariable placeholder, else the address
// Variable of a Location argument.
func (a TACArg) Value() Variable {
	if a.Var != nil {
		return *a.Var
	}
	if a.StackVar != nil {
		return a.StackVar.Variable
	}
	return a.Loc.Address.Value()
}

// IsStackVar reports whether this argument is an unresolved MetaVariable
// placeholder.
func (a TACArg) IsStackVar() bool { return a.StackVar != nil && a.Var == nil }

func (a TACArg) String() string {
	if a.Loc != nil {
		return a.Loc.String()
	}
	return a.Value().String()
}

// Clone returns a deep copy of a.
func (a TACArg) Clone() TACArg {
	out := TACArg{}
	if a.Var != nil {
		v := *a.Var
		out.Var = &v
	}
	if a.StackVar != nil {
		m := *a.StackVar
		out.StackVar = &m
	}
	if a.Loc != nil {
		l := a.Loc.Clone()
		out.Loc = &l
	}
	return out
}

// TACOp is one instruction of the three-address-code IR: an opcode plus its
// stack-resolved operands, tagged with the originating bytecode program
// counter and (once placed) its owning block (spec.md §3).
type TACOp struct {
	Opcode evmop.OpCode
	Args   []TACArg
	PC     uint64
	Block  *TACBasicBlock
}

// NewTACOp constructs a TACOp with no LHS (a side-effecting or
// control-flow instruction).
func NewTACOp(op evmop.OpCode, args []TACArg, pc uint64) *TACOp {
	return &TACOp{Opcode: op, Args: args, PC: pc}
}

// Instruction is the common interface TACOp and TACAssignOp both satisfy,
// letting a TACBasicBlock hold a single mixed slice of ops (spec.md §3).
type Instruction interface {
	GetPC() uint64
	GetArgs() []TACArg
	SetArgs([]TACArg)
	GetOpcode() evmop.OpCode
	SetBlockRef(b *TACBasicBlock)
	GetBlockRef() *TACBasicBlock
	ConvertJumpToThrow()
	Clone() Instruction
	String() string
}

// GetPC returns the instruction's originating bytecode program counter.
func (o *TACOp) GetPC() uint64 { return o.PC }

// GetArgs returns the instruction's operands.
func (o *TACOp) GetArgs() []TACArg { return o.Args }

// SetArgs replaces the instruction's operands.
func (o *TACOp) SetArgs(args []TACArg) { o.Args = args }

// GetOpcode returns the instruction's opcode.
func (o *TACOp) GetOpcode() evmop.OpCode { return o.Opcode }

// SetBlockRef sets the owning block, fixed up whenever an op is relocated
// (deep-copy during block cloning, or merging).
func (o *TACOp) SetBlockRef(b *TACBasicBlock) { o.Block = b }

// GetBlockRef returns the owning block.
func (o *TACOp) GetBlockRef() *TACBasicBlock { return o.Block }

func (o *TACOp) String() string {
	parts := make([]string, len(o.Args))
	for i, a := range o.Args {
		parts[i] = a.String()
	}
	return fmt.Sprintf("%d: %s %s", o.PC, o.Opcode, strings.Join(parts, " "))
}

// ConstantArgs reports whether every argument resolves to a constant
// Variable.
func (o *TACOp) ConstantArgs() bool {
	for _, a := range o.Args {
		if !a.Value().IsConst() {
			return false
		}
	}
	return true
}

// ConstrainedArgs reports whether no argument is value-unconstrained.
func (o *TACOp) ConstrainedArgs() bool {
	for _, a := range o.Args {
		if a.Value().IsUnconstrained() {
			return false
		}
	}
	return true
}

// ConvertJumpToThrow rewrites a JUMP/JUMPI op in place into the
// corresponding THROW/THROWI, preserving the condition argument of a JUMPI
// (spec.md §4.4). Non-jump opcodes are left untouched.
func (o *TACOp) ConvertJumpToThrow() {
	switch o.Opcode {
	case evmop.JUMP:
		o.Opcode = evmop.THROW
		o.Args = nil
	case evmop.JUMPI:
		o.Opcode = evmop.THROWI
		if len(o.Args) > 1 {
			o.Args = o.Args[1:]
		} else {
			o.Args = nil
		}
	}
}

// Clone returns a deep copy of o, with no owning block set (the caller is
// responsible for SetBlockRef once the copy is placed).
func (o *TACOp) Clone() Instruction {
	args := make([]TACArg, len(o.Args))
	for i, a := range o.Args {
		args[i] = a.Clone()
	}
	return &TACOp{Opcode: o.Opcode, Args: args, PC: o.PC}
}

// TACAssignOp is a TACOp that additionally assigns its result to a
// left-hand side: a Variable, or — for the store instructions — a symbolic
// memory/storage Location (spec.md §3, §4.3). PrintName controls whether
// the LHS name is shown when rendering a diagnostic listing.
type TACAssignOp struct {
	TACOp
	LHS       Variable
	LHSLoc    *Location
	PrintName bool
}

// NewTACAssignOp constructs a TACAssignOp assigning to a Variable.
func NewTACAssignOp(lhs Variable, op evmop.OpCode, args []TACArg, pc uint64) *TACAssignOp {
	return &TACAssignOp{
		TACOp:     TACOp{Opcode: op, Args: args, PC: pc},
		LHS:       lhs,
		PrintName: true,
	}
}

// NewTACLocAssignOp constructs a TACAssignOp assigning to a symbolic
// Location, the MSTORE/MSTORE8/SSTORE shape.
func NewTACLocAssignOp(lhs Location, op evmop.OpCode, args []TACArg, pc uint64) *TACAssignOp {
	return &TACAssignOp{
		TACOp:  TACOp{Opcode: op, Args: args, PC: pc},
		LHSLoc: &lhs,
	}
}

// Clone returns a deep copy of o.
func (o *TACAssignOp) Clone() Instruction {
	args := make([]TACArg, len(o.Args))
	for i, a := range o.Args {
		args[i] = a.Clone()
	}
	clone := &TACAssignOp{
		TACOp:     TACOp{Opcode: o.Opcode, Args: args, PC: o.PC},
		LHS:       o.LHS,
		PrintName: o.PrintName,
	}
	if o.LHSLoc != nil {
		l := o.LHSLoc.Clone()
		clone.LHSLoc = &l
	}
	return clone
}

func (o *TACAssignOp) String() string {
	parts := make([]string, len(o.Args))
	for i, a := range o.Args {
		parts[i] = a.String()
	}
	rhs := strings.TrimSpace(fmt.Sprintf("%s %s", o.Opcode, strings.Join(parts, " ")))
	lhs := o.LHS.Name()
	switch {
	case o.LHSLoc != nil:
		lhs = o.LHSLoc.String()
	case !o.PrintName:
		lhs = o.LHS.String()
	}
	return fmt.Sprintf("%d: %s = %s", o.PC, lhs, rhs)
}
