package evmasm

import (
	"github.com/holiman/uint256"

	"github.com/CloudDataLab/MadMax/evmop"
)

// Disassemble performs a single linear pass over raw EVM bytecode, grouping
// the decoded instructions into maximal basic blocks: a new block begins at
// program counter 0, at every JUMPDEST, and immediately after any
// instruction that can transfer control (JUMP, JUMPI) or halt execution.
//
// This mirrors the per-opcode linear walk of a bytecode stack validator:
// advance one opcode at a time, skipping PUSH immediate bytes, without
// attempting to resolve any jump destination — that is the CFG resolver's
// job, not the disassembler's.
func Disassemble(code []byte) []*EVMBasicBlock {
	var blocks []*EVMBasicBlock
	var current []EVMOp
	var entry uint64

	flush := func(exit uint64) {
		if len(current) == 0 {
			return
		}
		blocks = append(blocks, &EVMBasicBlock{
			Entry: entry,
			Exit:  exit,
			Ops:   current,
		})
		current = nil
	}

	pos := 0
	for pos < len(code) {
		pc := uint64(pos)
		op := evmop.OpCode(code[pos])

		if op == evmop.JUMPDEST && len(current) > 0 {
			flush(pc - 1)
			entry = pc
		}

		var imm *uint256.Int
		if op.IsPush() {
			n := op.PushLen()
			end := pos + 1 + n
			if end > len(code) {
				end = len(code)
			}
			imm = new(uint256.Int).SetBytes(code[pos+1 : end])
		}

		if len(current) == 0 {
			entry = pc
		}
		current = append(current, EVMOp{Opcode: op, PC: pc, Value: imm})

		if op == evmop.JUMP || op == evmop.JUMPI || op.Halts() {
			exitPC := pc + uint64(op.PushLen())
			flush(exitPC)
			pos = int(exitPC) + 1
			continue
		}

		pos += 1 + op.PushLen()
	}

	flush(uint64(len(code)) - 1)

	return blocks
}
