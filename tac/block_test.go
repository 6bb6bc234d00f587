package tac

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/CloudDataLab/MadMax/evmop"
)

func TestApplyOperationsFoldsPushAdd(t *testing.T) {
	// PUSH1 3; PUSH1 4; ADD (scenario 1, spec.md §8): after folding, the
	// ADD's result holds {7}, and so does the block's delta stack.
	g, err := FromBytecode([]byte{0x60, 0x03, 0x60, 0x04, 0x01}, DefaultConfig())
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	block := g.Blocks[0]

	var add *TACAssignOp
	for _, op := range block.Ops {
		if op.GetOpcode() == evmop.ADD {
			add = op.(*TACAssignOp)
		}
	}
	if add == nil {
		t.Fatalf("expected an ADD assignment in the block")
	}
	cv, ok := add.LHS.ConstValue()
	if !ok || cv.Uint64() != 7 {
		t.Fatalf("expected ADD to fold to 7, got %v ok=%v", cv, ok)
	}

	top := block.DeltaStack.Peek(0)
	cv, ok = top.ConstValue()
	if !ok || cv.Uint64() != 7 {
		t.Fatalf("expected the folded result on the delta stack, got %v ok=%v", cv, ok)
	}
}

func TestComputedJumpDestinationResolves(t *testing.T) {
	// PUSH1 3; PUSH1 5; ADD; JUMP with a JUMPDEST at 8 = 3+5: the
	// destination is never pushed literally, only computed.
	code := []byte{0x60, 0x03, 0x60, 0x05, 0x01, 0x56, 0x00, 0x00, 0x5b, 0x00}
	cfg := DefaultConfig()
	g, err := FromBytecode(code, cfg)
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	if _, err := Analyze(g, cfg); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	entry := g.GetBlocksByPC(0)[0]
	if entry.HasUnresolvedJump {
		t.Fatalf("expected the computed jump to resolve")
	}
	if len(entry.Succs) != 1 || entry.Succs[0].Entry != 8 {
		t.Fatalf("expected sole successor at pc 8, got %+v", entry.Succs)
	}
}

func TestBuildExitStackComposesDeltaWithEntry(t *testing.T) {
	// A block that is just ADD: delta pops two caller slots and pushes one
	// result. Composing against an entry stack of two constants must leave
	// exactly the folded sum.
	g, err := FromBytecode([]byte{0x01}, DefaultConfig())
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	block := g.Blocks[0]
	if block.DeltaStack.EmptyPops() != 2 {
		t.Fatalf("expected delta to record 2 empty pops, got %d", block.DeltaStack.EmptyPops())
	}

	cfg := DefaultConfig()
	block.EntryStack = NewVariableStack()
	block.EntryStack.Push(ConstVariable(*uint256.NewInt(1), "x"))
	block.EntryStack.Push(ConstVariable(*uint256.NewInt(2), "y"))
	block.HookUpStackVars()
	if _, err := block.ApplyOperations(cfg, cfg.SetValuedOps); err != nil {
		t.Fatalf("ApplyOperations: %v", err)
	}
	if err := block.BuildExitStack(cfg); err != nil {
		t.Fatalf("BuildExitStack: %v", err)
	}

	if block.ExitStack.Len() != 1 {
		t.Fatalf("expected exit stack of 1, got %d", block.ExitStack.Len())
	}
	cv, ok := block.ExitStack.Peek(0).ConstValue()
	if !ok || cv.Uint64() != 3 {
		t.Fatalf("expected exit stack top {3}, got %v ok=%v", cv, ok)
	}
}

func TestBuildExitStackDiesOnEmptyPop(t *testing.T) {
	g, err := FromBytecode([]byte{0x01}, DefaultConfig()) // bare ADD
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	block := g.Blocks[0]

	cfg := DefaultConfig()
	cfg.DieOnEmptyPop = true
	if err := block.BuildExitStack(cfg); !errors.Is(err, ErrEmptyPop) {
		t.Fatalf("expected ErrEmptyPop, got %v", err)
	}
}

func TestInvalidJumpBecomesThrow(t *testing.T) {
	// PUSH1 3; JUMP where pc 3 is not a JUMPDEST. The terminal pass runs
	// with FinalGenerateThrows and must rewrite the op.
	code := []byte{0x60, 0x03, 0x56, 0x00}
	cfg := DefaultConfig()
	g, err := FromBytecode(code, cfg)
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	if _, err := Analyze(g, cfg); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	entry := g.GetBlocksByPC(0)[0]
	last := entry.Ops[len(entry.Ops)-1]
	if last.GetOpcode() != evmop.THROW {
		t.Fatalf("expected the invalid jump to become THROW, got %s", last.GetOpcode())
	}
}

func TestJUMPIKeepsConditionWhenThrown(t *testing.T) {
	op := NewTACOp(evmop.JUMPI, []TACArg{
		VarArg(ConstVariable(*uint256.NewInt(3), "dest")),
		VarArg(ConstVariable(*uint256.NewInt(1), "cond")),
	}, 0)
	op.ConvertJumpToThrow()
	if op.Opcode != evmop.THROWI {
		t.Fatalf("expected THROWI, got %s", op.Opcode)
	}
	if len(op.Args) != 1 || op.Args[0].Value().Name() != "cond" {
		t.Fatalf("expected the condition argument to survive, got %+v", op.Args)
	}
}

func TestHookUpJumpsKeepsEdgesOnPartialInformation(t *testing.T) {
	// A JUMP whose destination has widened to Top must not drop the edges
	// discovered while it was still constrained (spec.md §4.4's monotone
	// edge-update rule).
	code := []byte{0x60, 0x08, 0x56, 0x00, 0x00, 0x00, 0x00, 0x00, 0x5b, 0x00}
	cfg := DefaultConfig()
	g, err := FromBytecode(code, cfg)
	if err != nil {
		t.Fatalf("FromBytecode: %v", err)
	}
	entry := g.GetBlocksByPC(0)[0]
	if len(entry.Succs) != 1 {
		t.Fatalf("expected the constant jump edge up front, got %+v", entry.Succs)
	}

	// Forcibly widen the jump's destination argument.
	last := entry.Ops[len(entry.Ops)-1]
	args := last.GetArgs()
	widened := TopVariable("d")
	args[0].Var = &widened
	last.SetArgs(args)

	entry.HookUpJumps(g, false, false)
	if len(entry.Succs) != 1 || entry.Succs[0].Entry != 8 {
		t.Fatalf("expected the previously discovered edge to survive widening, got %+v", entry.Succs)
	}
	if !entry.HasUnresolvedJump {
		t.Fatalf("expected the widened jump to be marked unresolved")
	}
}
