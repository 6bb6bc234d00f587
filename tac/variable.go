package tac

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/CloudDataLab/MadMax/lattice"
)

// wordModulus implements the CARDINALITY = 2^256 reduction every
// concrete Variable member is kept under, per spec.md §3.
var wordModulus = new(big.Int).Lsh(big.NewInt(1), 256)

// halfRange is 2^255, used by the (correct) half-range-bit two's-complement
// test spec.md §9 requires Variable arithmetic to use.
var halfRange = new(big.Int).Lsh(big.NewInt(1), 255)

// Variable is a subset-lattice element over ℤ/2^256, carrying a stable name
// and a def-site set of the block-entry program counters where it may have
// been defined (spec.md §3).
type Variable struct {
	values   lattice.Subset[uint256.Int]
	name     string
	defSites lattice.Subset[uint64]
}

// NewVariable returns a Variable with the given concrete value set, name,
// and def-sites. Every member is already reduced modulo 2^256 (the
// SIZE/CARDINALITY invariant of spec.md §3) simply by virtue of uint256.Int
// being a fixed 4x64-bit word that cannot represent anything outside
// [0, 2^256).
func NewVariable(values []uint256.Int, name string, defSites ...uint64) Variable {
	return Variable{
		values:   lattice.NewSubset(values...),
		name:     name,
		defSites: lattice.NewSubset(defSites...),
	}
}

// TopVariable returns an unconstrained (⊤) Variable.
func TopVariable(name string, defSites ...uint64) Variable {
	return Variable{
		values:   lattice.TopSubset[uint256.Int](),
		name:     name,
		defSites: lattice.NewSubset(defSites...),
	}
}

// BottomVariable returns a Variable with the empty (⊥) value set.
func BottomVariable(name string, defSites ...uint64) Variable {
	return Variable{
		values:   lattice.BottomSubset[uint256.Int](),
		name:     name,
		defSites: lattice.NewSubset(defSites...),
	}
}

// ConstVariable returns a Variable constrained to the single value v.
func ConstVariable(v uint256.Int, name string, defSites ...uint64) Variable {
	return NewVariable([]uint256.Int{v}, name, defSites...)
}

// Name returns the Variable's stable identifier.
func (v Variable) Name() string { return v.name }

// WithName returns a copy of v under a different name, preserving value set
// and def-sites. Used when a MetaVariable is resolved into a real stack
// position's Variable but the destination arg still wants its own name.
func (v Variable) WithName(name string) Variable {
	v.name = name
	return v
}

// DefSites returns the subset-lattice element of possible definition sites.
func (v Variable) DefSites() lattice.Subset[uint64] { return v.defSites }

// Values returns the underlying value set.
func (v Variable) Values() lattice.Subset[uint256.Int] { return v.values }

// SetValues replaces v's value set (spec.md §5: treated as a redefinition,
// never a silent alias mutation of a previously shared Variable).
func (v Variable) SetValues(values lattice.Subset[uint256.Int]) Variable {
	v.values = values
	return v
}

// IsTop reports whether v is unconstrained.
func (v Variable) IsTop() bool { return v.values.IsTop() }

// IsBottom reports whether v's value set is empty.
func (v Variable) IsBottom() bool { return v.values.IsBottom() }

// IsUnconstrained is an alias for IsTop matching spec.md's naming.
func (v Variable) IsUnconstrained() bool { return v.IsTop() }

// IsFinite reports whether v has a finite, nonzero number of possible
// values (neither Top nor Bottom).
func (v Variable) IsFinite() bool { return !v.IsTop() && !v.IsBottom() }

// IsConst reports whether v is a concrete singleton.
func (v Variable) IsConst() bool { return v.IsFinite() && v.values.Len() == 1 }

// ConstValue returns v's sole value and true iff v.IsConst().
func (v Variable) ConstValue() (uint256.Int, bool) {
	if !v.IsConst() {
		return uint256.Int{}, false
	}
	return v.values.Members()[0], true
}

// IsTrue reports whether every member is nonzero (and the set is finite).
func (v Variable) IsTrue() bool {
	if !v.IsFinite() {
		return false
	}
	zero := uint256.Int{}
	for _, m := range v.values.Members() {
		if m == zero {
			return false
		}
	}
	return true
}

// IsFalse reports whether every member is zero (and the set is finite).
func (v Variable) IsFalse() bool {
	if !v.IsFinite() {
		return false
	}
	zero := uint256.Int{}
	for _, m := range v.values.Members() {
		if m != zero {
			return false
		}
	}
	return true
}

// MeetVariable returns the element-wise meet of a and b's value sets, under
// a's name and the meet of both def-site sets (the caller decides which
// side's identity wins; MeetStacks, via zipCombine, restores the real
// side's name wherever one side is only the Bottom alignment filler).
func MeetVariable(a, b Variable) Variable {
	return Variable{
		values:   lattice.Meet(a.values, b.values),
		name:     a.name,
		defSites: lattice.Meet(a.defSites, b.defSites),
	}
}

// JoinVariable returns the element-wise join of a and b's value sets.
func JoinVariable(a, b Variable) Variable {
	return Variable{
		values:   lattice.Join(a.values, b.values),
		name:     a.name,
		defSites: lattice.Join(a.defSites, b.defSites),
	}
}

// toBig converts a concrete word to an unsigned math/big integer.
func toBig(v uint256.Int) *big.Int {
	return v.ToBig()
}

// fromBig reduces a (possibly negative, possibly oversized) big.Int modulo
// 2^256 and returns the corresponding word.
func fromBig(v *big.Int) uint256.Int {
	r := new(big.Int).Mod(v, wordModulus)
	var out uint256.Int
	out.SetFromBig(r)
	return out
}

// twosComp returns the signed two's-complement interpretation of v: v -
// 2^256 if the top bit is set, else v. This is memtypes.py's Variable
// version of twos_comp (the half-range bit test), which spec.md §9
// explicitly requires over the separately-noted Constant.twos_compl mask
// bug.
func twosComp(v uint256.Int) *big.Int {
	b := toBig(v)
	if new(big.Int).And(b, halfRange).Sign() != 0 {
		return new(big.Int).Sub(b, wordModulus)
	}
	return b
}

// String renders v as its bare name when unconstrained, a bare hex literal
// when constant, or "name: {hex, hex, ...}" otherwise — tac_cfg.py's
// Variable.__str__ format, reproduced for decompiler-facing diagnostic
// parity.
func (v Variable) String() string {
	if v.IsUnconstrained() {
		return v.name
	}
	if cv, ok := v.ConstValue(); ok {
		return fmt.Sprintf("0x%x", cv.ToBig())
	}
	members := lattice.SortedMembers(v.values, func(a, b uint256.Int) bool {
		return a.Cmp(&b) < 0
	})
	hexes := make([]string, len(members))
	for i, m := range members {
		hexes[i] = fmt.Sprintf("0x%x", m.ToBig())
	}
	return fmt.Sprintf("%s: {%s}", v.name, strings.Join(hexes, ", "))
}
