package tac

import (
	"testing"

	"github.com/CloudDataLab/MadMax/evmop"
)

func TestFromBytecodeConstantJump(t *testing.T) {
	// PUSH1 8; JUMP; STOP; <pad>; JUMPDEST; STOP  (scenario 2, spec.md §8)
	code := []byte{0x60, 0x08, 0x56, 0x00, 0x00, 0x00, 0x00, 0x00, 0x5b, 0x00}
	cfg := DefaultConfig()
	g, err := FromBytecode(code, cfg)
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	if _, err := Analyze(g, cfg); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	root := g.GetBlocksByPC(0)
	if len(root) != 1 {
		t.Fatalf("expected exactly one block at pc 0, got %d", len(root))
	}
	entry := root[0]
	if entry.HasUnresolvedJump {
		t.Fatalf("expected entry block's jump to resolve")
	}
	if len(entry.Succs) != 1 || entry.Succs[0].Entry != 8 {
		t.Fatalf("expected sole successor at pc 8 (the JUMPDEST), got %+v", entry.Succs)
	}
}

func TestIsValidJumpDest(t *testing.T) {
	code := []byte{0x60, 0x08, 0x56, 0x00, 0x00, 0x00, 0x00, 0x00, 0x5b, 0x00}
	g, err := FromBytecode(code, DefaultConfig())
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	if !g.IsValidJumpDest(8) {
		t.Fatalf("expected pc 8 (JUMPDEST) to be a valid jump destination")
	}
	if g.IsValidJumpDest(3) {
		t.Fatalf("expected pc 3 (not a JUMPDEST) to be invalid")
	}
}

func TestJUMPIWithConstantFalseConditionRemovesOp(t *testing.T) {
	// PUSH1 0 (cond=false); PUSH1 7; JUMPI; STOP; <pad>; JUMPDEST; STOP
	code := []byte{0x60, 0x00, 0x60, 0x07, 0x57, 0x00, 0x00, 0x5b, 0x00}
	cfg := DefaultConfig()
	cfg.MutateJumps = true
	g, err := FromBytecode(code, cfg)
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	if _, err := Analyze(g, cfg); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	entry := g.GetBlocksByPC(0)[0]
	for _, op := range entry.Ops {
		if op.GetOpcode() == evmop.JUMPI {
			t.Fatalf("expected JUMPI to be removed when its condition folds to false")
		}
	}
	if len(entry.Succs) != 1 || entry.Succs[0].Entry != 5 {
		t.Fatalf("expected sole fallthrough successor at pc 5, got %+v", entry.Succs)
	}
}

func TestRemoveUnreachableCode(t *testing.T) {
	// PUSH1 4; JUMP; STOP at 3; JUMPDEST at 4: STOP. The jump skips the
	// STOP at pc 3, so that block is unreachable and must be dropped, while
	// the JUMPDEST block it targets survives.
	code := []byte{0x60, 0x04, 0x56, 0x00, 0x5b, 0x00}
	cfg := DefaultConfig()
	cfg.RemoveUnreachable = true
	g, err := FromBytecode(code, cfg)
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	if _, err := Analyze(g, cfg); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(g.GetBlocksByPC(4)) == 0 {
		t.Fatalf("expected the JUMPDEST block at pc 4 to remain reachable")
	}
	if len(g.GetBlocksByPC(3)) != 0 {
		t.Fatalf("expected the unreachable STOP block at pc 3 to be removed")
	}
}

func TestMergeDuplicateBlocksCollapsesSharedEntry(t *testing.T) {
	a := &TACBasicBlock{Entry: 10, EntryStack: NewVariableStack(), ExitStack: NewVariableStack(), DeltaStack: NewVariableStack(), Ops: []Instruction{NewTACOp(evmop.STOP, nil, 10)}}
	b := &TACBasicBlock{Entry: 10, EntryStack: NewVariableStack(), ExitStack: NewVariableStack(), DeltaStack: NewVariableStack(), Ops: []Instruction{NewTACOp(evmop.STOP, nil, 10)}}
	g := NewTACGraph([]*TACBasicBlock{a, b})
	g.MergeDuplicateBlocks(DefaultConfig(), true, true)
	if len(g.Blocks) != 1 {
		t.Fatalf("expected the two same-entry blocks to merge into one, got %d", len(g.Blocks))
	}
}
