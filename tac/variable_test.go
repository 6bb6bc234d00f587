package tac

import (
	"testing"

	"github.com/holiman/uint256"
)

func TestConstVariableIsFiniteAndConst(t *testing.T) {
	v := ConstVariable(*uint256.NewInt(7), "v0")
	if !v.IsConst() || !v.IsFinite() {
		t.Fatalf("expected const finite variable, got %+v", v)
	}
	cv, ok := v.ConstValue()
	if !ok || cv.Uint64() != 7 {
		t.Fatalf("expected const value 7, got %v ok=%v", cv, ok)
	}
}

func TestTopVariableIsUnconstrained(t *testing.T) {
	v := TopVariable("v1")
	if !v.IsTop() || !v.IsUnconstrained() {
		t.Fatalf("expected top variable")
	}
	if v.IsConst() || v.IsFinite() {
		t.Fatalf("top variable must not report const or finite")
	}
}

func TestBottomVariableMeetAbsorbs(t *testing.T) {
	bot := BottomVariable("v2")
	top := TopVariable("v2")
	m := MeetVariable(bot, top)
	if !m.IsBottom() {
		t.Fatalf("meet with bottom must be bottom, got %+v", m)
	}
}

func TestJoinOfTopIsTop(t *testing.T) {
	a := ConstVariable(*uint256.NewInt(1), "a")
	top := TopVariable("b")
	j := JoinVariable(a, top)
	if !j.IsTop() {
		t.Fatalf("join with top must be top")
	}
}

func TestIsTrueIsFalse(t *testing.T) {
	zero := ConstVariable(*uint256.NewInt(0), "z")
	one := ConstVariable(*uint256.NewInt(1), "o")
	if !zero.IsFalse() || zero.IsTrue() {
		t.Fatalf("zero constant should be false only")
	}
	if !one.IsTrue() || one.IsFalse() {
		t.Fatalf("nonzero constant should be true only")
	}
}

func TestStringFormats(t *testing.T) {
	top := TopVariable("v3")
	if top.String() != "v3" {
		t.Fatalf("top string = %q, want v3", top.String())
	}
	c := ConstVariable(*uint256.NewInt(255), "v4")
	if c.String() != "0xff" {
		t.Fatalf("const string = %q, want 0xff", c.String())
	}
}
