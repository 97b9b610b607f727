package router

import (
	"github.com/fyrsmithlabs/ctxrouter/internal/analyzer"
	"github.com/fyrsmithlabs/ctxrouter/internal/capability"
)

// coordinate picks the strategy for chosen providers and returns them in
// execution order.
//
// A prerequisite edge between two chosen providers forces
// sequential_handoff, ordered prerequisites first and otherwise by rank.
// Otherwise two or more providers with pairwise disjoint tags run in
// parallel when the profile allows it. Everything else is single.
func coordinate(profile analyzer.RequestProfile, reg *capability.Registry, chosen []candidate) (Strategy, []candidate) {
	if len(chosen) < 2 {
		return StrategySingle, chosen
	}

	// before[j] lists i such that chosen[i] must precede chosen[j].
	before := make([][]int, len(chosen))
	edges := false
	for i := range chosen {
		for j := range chosen {
			if i != j && precedes(reg, chosen[i], chosen[j]) {
				before[j] = append(before[j], i)
				edges = true
			}
		}
	}
	if edges {
		return StrategySequential, handoffOrder(chosen, before)
	}

	if profile.Parallelizable && disjoint(chosen) {
		return StrategyParallel, chosen
	}
	return StrategySingle, chosen
}

// precedes reports whether some tag a serves is a prerequisite of some tag
// b serves.
func precedes(reg *capability.Registry, a, b candidate) bool {
	for _, ta := range a.relevant {
		for _, tb := range b.relevant {
			if ta != tb && reg.IsPrerequisite(ta, tb) {
				return true
			}
		}
	}
	return false
}

// handoffOrder is a stable topological sort: at each step the
// highest-ranked provider whose prerequisites are placed goes next.
// Providers caught in a cycle keep rank order.
func handoffOrder(chosen []candidate, before [][]int) []candidate {
	placed := make([]bool, len(chosen))
	out := make([]candidate, 0, len(chosen))
	for len(out) < len(chosen) {
		next := -1
		for j := range chosen {
			if placed[j] {
				continue
			}
			ready := true
			for _, i := range before[j] {
				if !placed[i] {
					ready = false
					break
				}
			}
			if ready {
				next = j
				break
			}
		}
		if next < 0 {
			// cycle: take the highest-ranked remaining provider
			for j := range chosen {
				if !placed[j] {
					next = j
					break
				}
			}
		}
		placed[next] = true
		out = append(out, chosen[next])
	}
	return out
}

func disjoint(chosen []candidate) bool {
	seen := make(map[analyzer.Capability]bool)
	for _, c := range chosen {
		for _, tag := range c.relevant {
			if seen[tag] {
				return false
			}
			seen[tag] = true
		}
	}
	return true
}
