package tac

import (
	"testing"

	"github.com/holiman/uint256"

	"github.com/CloudDataLab/MadMax/evmop"
)

func constVar(v uint64, name string) Variable {
	return ConstVariable(*uint256.NewInt(v), name)
}

func TestArithOpAddWrapsModWordSize(t *testing.T) {
	cfg := DefaultConfig()
	maxWord := new(uint256.Int).SetAllOne()
	a := ConstVariable(*maxWord, "a")
	b := constVar(1, "b")
	result, err := ArithOp(cfg, evmop.ADD, []Variable{a, b}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	if !ok || cv.Uint64() != 0 {
		t.Fatalf("expected ADD to wrap to 0, got %v ok=%v", cv, ok)
	}
}

func TestArithOpArityMismatch(t *testing.T) {
	cfg := DefaultConfig()
	_, err := ArithOp(cfg, evmop.ADD, []Variable{constVar(1, "a")}, "r")
	if err != ErrOpArityMismatch {
		t.Fatalf("expected ErrOpArityMismatch, got %v", err)
	}
}

func TestArithOpSignExtendNoopAboveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	b := constVar(31, "b")
	v := constVar(0x80, "v")
	result, err := ArithOp(cfg, evmop.SIGNEXTEND, []Variable{b, v}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	if !ok || cv.Uint64() != 0x80 {
		t.Fatalf("SIGNEXTEND with b=31 should be a no-op, got %v ok=%v", cv, ok)
	}
}

func TestArithOpSignExtendExtendsNegative(t *testing.T) {
	cfg := DefaultConfig()
	b := constVar(0, "b")
	v := constVar(0xff, "v") // byte 0xff, sign bit set
	result, err := ArithOp(cfg, evmop.SIGNEXTEND, []Variable{b, v}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	if !ok {
		t.Fatalf("expected const result")
	}
	want := new(uint256.Int).Not(uint256.NewInt(0)) // all-ones, i.e. -1
	if cv != *want {
		t.Fatalf("SIGNEXTEND(0, 0xff) = %v, want all-ones (-1)", cv.Hex())
	}
}

func TestArithOpDivByZeroIsZero(t *testing.T) {
	cfg := DefaultConfig()
	a := constVar(5, "a")
	z := constVar(0, "z")
	result, err := ArithOp(cfg, evmop.DIV, []Variable{a, z}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	if !ok || cv.Uint64() != 0 {
		t.Fatalf("DIV by zero must be 0, got %v ok=%v", cv, ok)
	}
}

func TestArithOpCartesianMapOverMultipleValues(t *testing.T) {
	cfg := DefaultConfig()
	a := NewVariable([]uint256.Int{*uint256.NewInt(1), *uint256.NewInt(2)}, "a")
	b := constVar(10, "b")
	result, err := ArithOp(cfg, evmop.ADD, []Variable{a, b}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsTop() || result.IsConst() {
		t.Fatalf("expected a finite 2-element set, got %+v", result)
	}
	members := result.values.Members()
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}

func TestArithOpWidensPastThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WidenThreshold = 1
	a := NewVariable([]uint256.Int{*uint256.NewInt(1), *uint256.NewInt(2)}, "a")
	b := constVar(10, "b")
	result, err := ArithOp(cfg, evmop.ADD, []Variable{a, b}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsTop() {
		t.Fatalf("expected widening to Top once cardinality exceeds threshold")
	}
}

func TestArithOpCartesianMapTopPropagates(t *testing.T) {
	cfg := DefaultConfig()
	a := TopVariable("a")
	b := constVar(10, "b")
	result, err := ArithOp(cfg, evmop.ADD, []Variable{a, b}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsTop() {
		t.Fatalf("expected Top operand to propagate to Top result")
	}
}

func TestArithOpSDIVUsesSignedOperands(t *testing.T) {
	cfg := DefaultConfig()
	negEight := new(uint256.Int).Neg(uint256.NewInt(8)) // 2^256 - 8
	a := ConstVariable(*negEight, "a")
	b := constVar(2, "b")
	result, err := ArithOp(cfg, evmop.SDIV, []Variable{a, b}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	want := new(uint256.Int).Neg(uint256.NewInt(4))
	if !ok || cv != *want {
		t.Fatalf("SDIV(-8, 2) = %s, want -4", cv.Hex())
	}
}

func TestArithOpSMODSignFollowsDividend(t *testing.T) {
	cfg := DefaultConfig()
	negEight := new(uint256.Int).Neg(uint256.NewInt(8))
	a := ConstVariable(*negEight, "a")
	b := constVar(3, "b")
	result, err := ArithOp(cfg, evmop.SMOD, []Variable{a, b}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	want := new(uint256.Int).Neg(uint256.NewInt(2))
	if !ok || cv != *want {
		t.Fatalf("SMOD(-8, 3) = %s, want -2", cv.Hex())
	}
}

func TestArithOpSLT(t *testing.T) {
	cfg := DefaultConfig()
	negOne := new(uint256.Int).Neg(uint256.NewInt(1))
	a := ConstVariable(*negOne, "a")
	b := constVar(0, "b")
	result, err := ArithOp(cfg, evmop.SLT, []Variable{a, b}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	if !ok || cv.Uint64() != 1 {
		t.Fatalf("SLT(-1, 0) should be 1, got %v", cv)
	}
}

func TestArithOpByteExtractsFromMSB(t *testing.T) {
	cfg := DefaultConfig()
	// 0xab in the most significant byte.
	v := new(uint256.Int).Lsh(uint256.NewInt(0xab), 248)
	b0 := constVar(0, "b")
	result, err := ArithOp(cfg, evmop.BYTE, []Variable{b0, ConstVariable(*v, "v")}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok := result.ConstValue()
	if !ok || cv.Uint64() != 0xab {
		t.Fatalf("BYTE(0, v) should extract the most significant byte, got %v", cv)
	}

	result, err = ArithOp(cfg, evmop.BYTE, []Variable{constVar(31, "b"), constVar(0xcd, "v")}, "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cv, ok = result.ConstValue()
	if !ok || cv.Uint64() != 0xcd {
		t.Fatalf("BYTE(31, v) should extract the least significant byte, got %v", cv)
	}
}
