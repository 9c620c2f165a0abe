package orchestrator

import (
	"sort"

	"github.com/jivecore/jivecore/internal/corerr"
)

// orderDepth returns the depth metric that determines pi's position in
// the plan for mode: topoDepth (dependency order) for the two
// dependency-respecting modes, treeDepth (hierarchy nesting) for
// sequential, which linearises by hierarchy position alone.
func orderDepth(pi planItem, mode Mode) int {
	if mode == ModeSequential {
		return pi.treeDepth
	}
	return pi.topoDepth
}

// buildPlan linearises the induced sub-DAG per mode (§4.F "Planning").
func buildPlan(items []planItem, mode Mode) ([]planItem, error) {
	switch mode {
	case ModeDependencyBased, ModeParallel, ModeSequential:
		out := append([]planItem{}, items...)
		sort.Slice(out, func(i, j int) bool {
			di, dj := orderDepth(out[i], mode), orderDepth(out[j], mode)
			if di != dj {
				return di < dj
			}
			if !out[i].item.CreatedAt.Equal(out[j].item.CreatedAt) {
				return out[i].item.CreatedAt.Before(out[j].item.CreatedAt)
			}
			return out[i].item.ID < out[j].item.ID
		})
		return out, nil
	default:
		return nil, corerr.InvalidArgument("unknown execution mode %q", mode)
	}
}

// batchPlan groups a linearised plan into batches that dispatch together.
// dependency_based and parallel batch by dependency-topological depth
// (items whose dependencies are all satisfied run concurrently, up to the
// engine's maxParallel); sequential is one item per batch, preserving
// plan order, since it makes no dependency-readiness guarantee.
func batchPlan(plan []planItem, mode Mode) [][]planItem {
	if mode == ModeSequential {
		batches := make([][]planItem, len(plan))
		for i, pi := range plan {
			batches[i] = []planItem{pi}
		}
		return batches
	}

	var batches [][]planItem
	var current []planItem
	currentDepth := -1
	for _, pi := range plan {
		d := orderDepth(pi, mode)
		if d != currentDepth {
			if len(current) > 0 {
				batches = append(batches, current)
			}
			current = nil
			currentDepth = d
		}
		current = append(current, pi)
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
