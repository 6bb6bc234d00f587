package tac

import (
	"time"

	"github.com/CloudDataLab/MadMax/log"
)

// driverLog is the analysis driver's module-scoped logger.
var driverLog = log.Default().Module("analysis")

// Stats collects the per-run statistics Config.Analytics requests (spec.md
// §6): iteration count, widening activity, and why the loop stopped.
type Stats struct {
	Iterations      int
	WideningEvents  int
	HitIterationCap bool
	HitTimeout      bool
	FinalBlockCount int
}

// clampStabilityWindow is the number of consecutive iterations without a
// new edge after which growing stacks are taken to be diverging rather
// than mid-discovery, and the clamp engages.
const clampStabilityWindow = 3

// Analyze runs the outer fixed-point driver (spec.md §4.6) to completion
// against g, then its terminal post-processing pass, and returns run
// statistics. The dataflow lattice is monotone, so a timeout or iteration
// cap yields a well-formed, merely less-precise CFG (spec.md §5); the only
// errors surfaced are ErrEmptyPop under Config.DieOnEmptyPop and
// ErrOpArityMismatch from constant folding.
func Analyze(g *TACGraph, cfg Config) (Stats, error) {
	var stats Stats
	deadline := time.Time{}
	if cfg.BailoutSeconds >= 0 {
		deadline = time.Now().Add(time.Duration(cfg.BailoutSeconds) * time.Second)
	}

	// seenEdges records every (pred, succ) pair ever observed, so "the CFG
	// gained an edge" is distinguishable from mere edge churn.
	type edge struct{ from, to *TACBasicBlock }
	seenEdges := map[edge]bool{}
	recordEdges := func() bool {
		gained := false
		for _, b := range g.Blocks {
			for _, s := range b.Succs {
				if !seenEdges[edge{b, s}] {
					seenEdges[edge{b, s}] = true
					gained = true
				}
			}
		}
		return gained
	}
	recordEdges()

	// Stack reinitialisation happens once per Analyze call, never inside
	// the loop: each iteration's entry stacks are joined from the exit
	// stacks the previous iteration computed, which is the only channel a
	// back edge has for carrying stack information around a loop — and the
	// exit stack an overflowing block kept under SkipStackOnOverflow must
	// likewise survive into the next iteration.
	if cfg.ReinitStacks {
		for _, b := range g.Blocks {
			b.EntryStack = NewVariableStack()
			b.ExitStack = NewVariableStack()
			b.SymbolicOverflow = false
		}
	}

	stableRuns := 0
	clampApplied := false

	for {
		if cfg.MaxIterations >= 0 && stats.Iterations >= cfg.MaxIterations {
			stats.HitIterationCap = true
			driverLog.Warn("iteration cap reached", "cap", cfg.MaxIterations)
			break
		}
		stats.Iterations++

		order := sweepOrder(g)

		anyStackLarge := false
		stacksChanged := false
		for _, b := range order {
			oldEntry, oldExit := b.EntryStack, b.ExitStack
			b.EntryStack = joinPredExitStacks(b)
			if clampApplied && b.EntryStack.Len() > cfg.ClampStackMinimum {
				truncateStack(b.EntryStack, cfg.ClampStackMinimum)
			}
			if b.EntryStack.Len() > cfg.ClampStackMinimum {
				anyStackLarge = true
			}
			b.HookUpStackVars()
			if err := b.BuildExitStack(cfg); err != nil {
				return stats, err
			}
			if !b.EntryStack.Equals(oldEntry) || !b.ExitStack.Equals(oldExit) {
				stacksChanged = true
			}
		}

		widened, err := g.ApplyOperations(cfg, cfg.SetValuedOps)
		stats.WideningEvents += widened
		if err != nil {
			return stats, err
		}

		changed := false
		if cfg.MutateBlockwise {
			for _, b := range order {
				if b.HookUpJumps(g, cfg.MutateJumps, cfg.GenerateThrows) {
					changed = true
				}
			}
		} else {
			changed = g.HookUpJumps(cfg.MutateJumps, cfg.GenerateThrows)
		}
		g.RecalcPreds()

		g.MergeDuplicateBlocks(cfg, false, false)
		g.CloneAmbiguousJumpBlocks()
		g.RecalcPreds()
		g.RefreshRoot()

		if recordEdges() {
			stableRuns = 0
		} else {
			stableRuns++
		}
		if cfg.ClampLargeStacks && !clampApplied && anyStackLarge && stableRuns >= clampStabilityWindow {
			clampApplied = true
			driverLog.Debug("clamping large stacks", "minimum", cfg.ClampStackMinimum)
		}

		// Keep iterating while either the graph or any stack is still in
		// motion: edges can only stop appearing once the stacks that feed
		// jump destinations have themselves reached a fixed point.
		if !changed && !stacksChanged {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			stats.HitTimeout = true
			driverLog.Warn("wall-clock bailout reached", "seconds", cfg.BailoutSeconds)
			break
		}
	}

	driverLog.Info("analysis loop finished", "iterations", stats.Iterations)

	// Terminal post-processing: one final hook-up pass with the terminal
	// jump-rewriting policy, after which as much destination information
	// as possible has been propagated.
	if cfg.RemoveUnreachable {
		g.RemoveUnreachableCode([]uint64{0})
	}
	if cfg.HookUpStackVars {
		g.HookUpStackVars()
	}
	if cfg.HookUpJumps {
		g.HookUpJumps(cfg.FinalMutateJumps, cfg.FinalGenerateThrows)
		g.RecalcPreds()
	}

	stats.FinalBlockCount = len(g.Blocks)
	if cfg.Analytics {
		driverLog.Info("analytics",
			"blocks", stats.FinalBlockCount,
			"iterations", stats.Iterations,
			"widening_events", stats.WideningEvents,
			"hit_cap", stats.HitIterationCap,
			"hit_timeout", stats.HitTimeout,
		)
	}
	return stats, nil
}

// sweepOrder returns the driver's per-iteration block visitation order:
// breadth-first from the root, then any blocks not yet reachable, in slice
// order. Visiting a block's likely predecessors before the block itself
// lets one sweep push stack information all the way down an acyclic chain.
func sweepOrder(g *TACGraph) []*TACBasicBlock {
	if g.Root == nil {
		return append([]*TACBasicBlock{}, g.Blocks...)
	}
	order := make([]*TACBasicBlock, 0, len(g.Blocks))
	queue := []*TACBasicBlock{g.Root}
	seen := map[*TACBasicBlock]bool{g.Root: true}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		order = append(order, b)
		for _, s := range b.Succs {
			if !seen[s] {
				seen[s] = true
				queue = append(queue, s)
			}
		}
	}
	for _, b := range g.Blocks {
		if !seen[b] {
			order = append(order, b)
		}
	}
	return order
}

// joinPredExitStacks computes b's new entry stack as the join of every
// predecessor's exit stack (spec.md §4.6 step 1). A block with no
// predecessors keeps an empty entry stack.
func joinPredExitStacks(b *TACBasicBlock) *VariableStack {
	joined := NewVariableStack()
	for _, p := range b.Preds {
		joined = JoinStacks(joined, p.ExitStack)
	}
	return joined
}

// truncateStack drops everything below the top n entries, the
// clamp_large_stacks freeze of spec.md §4.6.
func truncateStack(s *VariableStack, n int) {
	if s.Len() <= n {
		return
	}
	top := s.Values()[s.Len()-n:]
	*s = *NewVariableStack()
	s.PushMany(top)
}
