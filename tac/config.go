package tac

// Config is the immutable analysis configuration threaded by the driver
// into every pass (spec.md §9: "global mutable configuration becomes an
// explicit immutable configuration record passed into the analysis
// driver"). It mirrors settings.py's option set and the teacher's own
// vm.Config-passed-to-NewEVM convention.
type Config struct {
	// MaxIterations caps the outer fixed-point loop; negative means
	// unlimited.
	MaxIterations int

	// BailoutSeconds caps wall-clock analysis time; negative means
	// unlimited. Checked between iterations, never mid-iteration.
	BailoutSeconds int

	// RemoveUnreachable drops post-analysis unreachable blocks.
	RemoveUnreachable bool

	// DieOnEmptyPop raises ErrEmptyPop instead of synthesising a
	// MetaVariable on stack underflow.
	DieOnEmptyPop bool

	// SkipStackOnOverflow suppresses the ExitStack update for a block in
	// the iteration where it overflowed.
	SkipStackOnOverflow bool

	// ReinitStacks clears every block's entry and exit stacks (and its
	// overflow marker) once at the start of an Analyze run, discarding
	// whatever a previous run left behind. The stacks are never wiped
	// mid-run: iteration N+1's entry stacks are joined from the exit
	// stacks iteration N computed.
	ReinitStacks bool

	// HookUpStackVars enables the MetaVariable-resolution post-pass.
	HookUpStackVars bool

	// HookUpJumps enables the edge-resolution post-pass.
	HookUpJumps bool

	// MutateJumps rewrites JUMPI with a known condition in-loop.
	MutateJumps bool

	// GenerateThrows rewrites invalid jumps to THROW/THROWI in-loop.
	GenerateThrows bool

	// FinalMutateJumps is MutateJumps for the terminal post-processing
	// pass only.
	FinalMutateJumps bool

	// FinalGenerateThrows is GenerateThrows for the terminal
	// post-processing pass only.
	FinalGenerateThrows bool

	// MutateBlockwise applies hook-up-jumps per block as each block is
	// visited, rather than once after a full sweep.
	MutateBlockwise bool

	// ClampLargeStacks enables the stability-window stack-size clamp.
	ClampLargeStacks bool

	// ClampStackMinimum is the size entry stacks are truncated to once
	// clamping triggers.
	ClampStackMinimum int

	// WidenVariables enables promotion of oversized value sets to Top.
	WidenVariables bool

	// WidenThreshold is the value-set cardinality above which a result is
	// widened to Top.
	WidenThreshold int

	// SetValuedOps folds arithmetic over non-singleton (but non-Top)
	// value sets, not just true constants.
	SetValuedOps bool

	// Analytics enables emission of per-run statistics via the analysis
	// logger.
	Analytics bool
}

// DefaultConfig returns the configuration spec.md §6 documents as the
// default, matching settings.py's shipped config.ini.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       -1,
		BailoutSeconds:      -1,
		RemoveUnreachable:   false,
		DieOnEmptyPop:       false,
		SkipStackOnOverflow: true,
		ReinitStacks:        true,
		HookUpStackVars:     true,
		HookUpJumps:         true,
		MutateJumps:         false,
		GenerateThrows:      false,
		FinalMutateJumps:    false,
		FinalGenerateThrows: true,
		MutateBlockwise:     true,
		ClampLargeStacks:    true,
		ClampStackMinimum:   20,
		WidenVariables:      true,
		WidenThreshold:      10,
		SetValuedOps:        true,
		Analytics:           false,
	}
}

// ConfigStack is an explicit push/pop stack of Configs, the
// caller-held replacement for settings.py's global save/restore stack
// (spec.md §9).
type ConfigStack struct {
	entries []Config
}

// NewConfigStack returns a ConfigStack seeded with base as its sole entry.
func NewConfigStack(base Config) *ConfigStack {
	return &ConfigStack{entries: []Config{base}}
}

// Current returns the Config on top of the stack.
func (s *ConfigStack) Current() Config {
	return s.entries[len(s.entries)-1]
}

// Push saves cfg as the new current configuration.
func (s *ConfigStack) Push(cfg Config) {
	s.entries = append(s.entries, cfg)
}

// Pop restores the previous configuration. It is a no-op on a stack holding
// only its base entry.
func (s *ConfigStack) Pop() {
	if len(s.entries) > 1 {
		s.entries = s.entries[:len(s.entries)-1]
	}
}
