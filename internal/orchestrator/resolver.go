package orchestrator

import (
	"slices"

	"github.com/rewindlabs/rewind/internal/rollback"
)

// tierOrder fixes the dependency order between service kinds: the data layer
// rolls back before the backends that depend on it, frontends after the
// backends they call, operator hooks last.
var tierOrder = map[rollback.Service]int{
	rollback.ServiceDatabase: 0,
	rollback.ServiceBackend:  1,
	rollback.ServiceFrontend: 2,
	rollback.ServiceCustom:   3,
}

// Tier returns the execution tier for a service kind. Lower tiers run first.
func Tier(service rollback.Service) int {
	if tier, ok := tierOrder[service]; ok {
		return tier
	}
	return len(tierOrder)
}

// ResolveOrder returns the targets sorted by ascending tier. The sort is
// stable, so input order is preserved within a tier, and the input slice is
// never mutated.
func ResolveOrder(targets []rollback.Target) []rollback.Target {
	ordered := slices.Clone(targets)
	slices.SortStableFunc(ordered, func(a, b rollback.Target) int {
		return Tier(a.Service) - Tier(b.Service)
	})
	return ordered
}

// TierBatches groups the resolved order into per-tier batches. Targets in
// one batch are independent and may run concurrently; batches run strictly
// in sequence.
func TierBatches(targets []rollback.Target) [][]rollback.Target {
	ordered := ResolveOrder(targets)

	var batches [][]rollback.Target
	for _, target := range ordered {
		tier := Tier(target.Service)
		if len(batches) > 0 && Tier(batches[len(batches)-1][0].Service) == tier {
			last := len(batches) - 1
			batches[last] = append(batches[last], target)
			continue
		}
		batches = append(batches, []rollback.Target{target})
	}
	return batches
}
