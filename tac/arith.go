package tac

import (
	"math/big"

	"github.com/holiman/uint256"

	"github.com/CloudDataLab/MadMax/evmop"
	"github.com/CloudDataLab/MadMax/lattice"
)

// arity gives the number of Variable operands each opcode's pure function
// expects; ArithOp uses it to detect OpArityMismatch before dispatching.
var arity = map[evmop.OpCode]int{
	evmop.ADD: 2, evmop.MUL: 2, evmop.SUB: 2, evmop.DIV: 2, evmop.SDIV: 2,
	evmop.MOD: 2, evmop.SMOD: 2, evmop.ADDMOD: 3, evmop.MULMOD: 3,
	evmop.EXP: 2, evmop.SIGNEXTEND: 2,
	evmop.LT: 2, evmop.GT: 2, evmop.SLT: 2, evmop.SGT: 2, evmop.EQ: 2,
	evmop.ISZERO: 1, evmop.AND: 2, evmop.OR: 2, evmop.XOR: 2, evmop.NOT: 1,
	evmop.BYTE: 2,
}

// pureFn is a pure integer function over math/big operands, matching the
// per-opcode classmethods of memtypes.py's Variable (ADD, MUL, SUB, ...).
type pureFn func(args []*big.Int) *big.Int

var pureFns = map[evmop.OpCode]pureFn{
	evmop.ADD: func(a []*big.Int) *big.Int { return new(big.Int).Add(a[0], a[1]) },
	evmop.MUL: func(a []*big.Int) *big.Int { return new(big.Int).Mul(a[0], a[1]) },
	evmop.SUB: func(a []*big.Int) *big.Int { return new(big.Int).Sub(a[0], a[1]) },
	evmop.DIV: func(a []*big.Int) *big.Int {
		if a[1].Sign() == 0 {
			return big.NewInt(0)
		}
		return new(big.Int).Div(a[0], a[1])
	},
	evmop.SDIV: func(a []*big.Int) *big.Int {
		l, r := signedOf(a[0]), signedOf(a[1])
		if r.Sign() == 0 {
			return big.NewInt(0)
		}
		q := new(big.Int).Quo(l, r)
		return q
	},
	evmop.MOD: func(a []*big.Int) *big.Int {
		if a[1].Sign() == 0 {
			return big.NewInt(0)
		}
		return new(big.Int).Mod(a[0], a[1])
	},
	evmop.SMOD: func(a []*big.Int) *big.Int {
		v, m := signedOf(a[0]), signedOf(a[1])
		if m.Sign() == 0 {
			return big.NewInt(0)
		}
		r := new(big.Int).Rem(v, m)
		// Rem already takes the sign of the dividend v, matching
		// memtypes.py's SMOD ("the output takes the sign of v").
		return r
	},
	evmop.ADDMOD: func(a []*big.Int) *big.Int {
		if a[2].Sign() == 0 {
			return big.NewInt(0)
		}
		sum := new(big.Int).Add(a[0], a[1])
		return sum.Mod(sum, a[2])
	},
	evmop.MULMOD: func(a []*big.Int) *big.Int {
		if a[2].Sign() == 0 {
			return big.NewInt(0)
		}
		prod := new(big.Int).Mul(a[0], a[1])
		return prod.Mod(prod, a[2])
	},
	evmop.EXP: func(a []*big.Int) *big.Int {
		return new(big.Int).Exp(a[0], a[1], wordModulus)
	},
	evmop.SIGNEXTEND: func(a []*big.Int) *big.Int {
		return signExtend(a[0], a[1])
	},
	evmop.LT: func(a []*big.Int) *big.Int { return boolInt(a[0].Cmp(a[1]) < 0) },
	evmop.GT: func(a []*big.Int) *big.Int { return boolInt(a[0].Cmp(a[1]) > 0) },
	evmop.SLT: func(a []*big.Int) *big.Int {
		return boolInt(signedOf(a[0]).Cmp(signedOf(a[1])) < 0)
	},
	evmop.SGT: func(a []*big.Int) *big.Int {
		return boolInt(signedOf(a[0]).Cmp(signedOf(a[1])) > 0)
	},
	evmop.EQ:     func(a []*big.Int) *big.Int { return boolInt(a[0].Cmp(a[1]) == 0) },
	evmop.ISZERO: func(a []*big.Int) *big.Int { return boolInt(a[0].Sign() == 0) },
	evmop.AND:    func(a []*big.Int) *big.Int { return new(big.Int).And(a[0], a[1]) },
	evmop.OR:     func(a []*big.Int) *big.Int { return new(big.Int).Or(a[0], a[1]) },
	evmop.XOR:    func(a []*big.Int) *big.Int { return new(big.Int).Xor(a[0], a[1]) },
	evmop.NOT:    func(a []*big.Int) *big.Int { return new(big.Int).Not(a[0]) },
	evmop.BYTE: func(a []*big.Int) *big.Int {
		b, v := a[0], a[1]
		if b.Sign() < 0 || b.Cmp(big.NewInt(32)) >= 0 {
			return big.NewInt(0)
		}
		// Byte 0 is the most significant byte of the 32-byte word.
		shift := uint((31 - b.Int64()) * 8)
		shifted := new(big.Int).Rsh(v, shift)
		return shifted.And(shifted, big.NewInt(0xFF))
	},
}

func boolInt(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

func signedOf(v *big.Int) *big.Int {
	if new(big.Int).And(v, halfRange).Sign() != 0 {
		return new(big.Int).Sub(v, wordModulus)
	}
	return new(big.Int).Set(v)
}

// signExtend extends the sign bit of byte b (0 = least significant) across
// the upper bytes of a 32-byte word, per spec.md §4.1. b >= 31 is defined to
// leave v unchanged (spec.md §8), since there is no higher byte to extend
// from.
func signExtend(b, v *big.Int) *big.Int {
	if b.Sign() < 0 || b.Cmp(big.NewInt(31)) >= 0 {
		return new(big.Int).Set(v)
	}
	bi := b.Int64()
	signBitPos := uint(bi*8 + 7)
	signBit := new(big.Int).Rsh(v, signBitPos)
	signBit.And(signBit, big.NewInt(1))

	keepBits := uint(bi*8 + 8)
	mask := new(big.Int).Lsh(big.NewInt(1), keepBits)
	mask.Sub(mask, big.NewInt(1))

	if signBit.Sign() == 0 {
		return new(big.Int).And(v, mask)
	}
	highMask := new(big.Int).Not(mask)
	result := new(big.Int).Or(new(big.Int).And(v, mask), highMask)
	return new(big.Int).Mod(result, wordModulus)
}

// ArithOp applies the named EVM opcode to args' value sets via a
// Cartesian-product map (spec.md §4.1's umbrella arith_op), reducing every
// result modulo 2^256 and widening to Top if the result cardinality exceeds
// cfg.WidenThreshold. Returns ErrOpArityMismatch if len(args) disagrees with
// the opcode's declared arity.
func ArithOp(cfg Config, op evmop.OpCode, args []Variable, resultName string) (Variable, error) {
	v, _, err := arithOpWidening(cfg, op, args, resultName)
	return v, err
}

// arithOpWidening is ArithOp's internal form, additionally reporting whether
// this application widened its result to Top, so the driver can surface
// Stats.WideningEvents (spec.md §6's analytics option).
func arithOpWidening(cfg Config, op evmop.OpCode, args []Variable, resultName string) (Variable, bool, error) {
	wantArity, ok := arity[op]
	if !ok {
		return Variable{}, false, ErrOpArityMismatch
	}
	if len(args) != wantArity {
		return Variable{}, false, ErrOpArityMismatch
	}

	fn := pureFns[op]
	sets := make([]lattice.Subset[uint256.Int], len(args))
	for i, a := range args {
		sets[i] = a.values
	}

	result := lattice.CartesianMap(func(vals []uint256.Int) uint256.Int {
		bigArgs := make([]*big.Int, len(vals))
		for i, v := range vals {
			bigArgs[i] = toBig(v)
		}
		return fromBig(fn(bigArgs))
	}, sets)

	widened := false
	if cfg.WidenVariables && !result.IsTop() && result.Len() > cfg.WidenThreshold {
		result = lattice.TopSubset[uint256.Int]()
		widened = true
	}

	return Variable{values: result, name: resultName}, widened, nil
}
