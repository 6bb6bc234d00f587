// Package evmasm provides the disassembler and linear EVM basic block
// representation that spec.md §6 treats as an out-of-scope upstream
// collaborator: "a disassembler yielding a sequence of EVM basic blocks,
// each carrying (entry_pc, exit_pc, evm_ops)".
package evmasm

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/CloudDataLab/MadMax/evmop"
)

// EVMOp is a single decoded EVM instruction: its opcode, program counter,
// and (for PUSH instructions) the immediate value it carries.
type EVMOp struct {
	Opcode OpcodeValue
	PC     uint64
	Value  *uint256.Int // non-nil only for PUSH instructions
}

// OpcodeValue aliases evmop.OpCode so this package's public API does not
// force every caller to also import evmop directly for the common case.
type OpcodeValue = evmop.OpCode

// String renders the instruction the way the original decompiler's
// disassembly listing does: "pc: MNEMONIC immediate?".
func (op EVMOp) String() string {
	if op.Value != nil {
		return fmt.Sprintf("%#x: %s %s", op.PC, op.Opcode, op.Value.Hex())
	}
	return fmt.Sprintf("%#x: %s", op.PC, op.Opcode)
}

// EVMBasicBlock is a maximal straight-line run of EVM instructions: no
// JUMPDEST except possibly at entry, and no jump/halt except possibly as
// the final instruction.
type EVMBasicBlock struct {
	Entry uint64
	Exit  uint64
	Ops   []EVMOp
}

// String renders a block's header and instruction listing.
func (b *EVMBasicBlock) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Block [%#x:%#x]\n", b.Entry, b.Exit)
	for _, op := range b.Ops {
		sb.WriteString(op.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}
