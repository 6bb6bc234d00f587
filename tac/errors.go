package tac

import "errors"

// Sentinel errors for the conditions spec.md §7 names. OpArityMismatch is
// returned to callers, and EmptyPop is returned only under
// Config.DieOnEmptyPop. No code in this package returns the others: an
// invalid jump is rewritten to THROW/THROWI under GenerateThrows and
// otherwise left in place, symbolic overflow is recorded on the offending
// block, and hitting the iteration cap or the wall-clock bailout is
// recorded in Stats and logged by the driver.
var (
	// ErrOpArityMismatch is returned when a TAC op's argument count
	// disagrees with its opcode's declared arity.
	ErrOpArityMismatch = errors.New("tac: operand count disagrees with opcode arity")

	// ErrEmptyPop is raised only when Config.DieOnEmptyPop is set; by
	// default an empty pop synthesises a MetaVariable instead.
	ErrEmptyPop = errors.New("tac: pop from empty symbolic stack")

	// ErrSymbolicOverflow names a push past MaxStackSize; the analysis
	// records such an overflow in the block's SymbolicOverflow flag rather
	// than returning this error.
	ErrSymbolicOverflow = errors.New("tac: symbolic stack exceeded MaxStackSize")

	// ErrInvalidJump marks a jump whose destination set is constrained but
	// contains no valid JUMPDEST, and GenerateThrows is not set.
	ErrInvalidJump = errors.New("tac: jump destination is not a valid JUMPDEST")

	// ErrIterationCapExceeded signals the driver hit Config.MaxIterations.
	ErrIterationCapExceeded = errors.New("tac: analysis stopped at iteration cap")

	// ErrTimeoutReached signals the driver hit Config.BailoutSeconds.
	ErrTimeoutReached = errors.New("tac: analysis stopped at wall-clock bailout")

	// ErrNoBlocks is a fatal, non-recoverable error: the input bytecode
	// disassembled to no basic blocks at all.
	ErrNoBlocks = errors.New("tac: input bytecode yielded no basic blocks")
)
