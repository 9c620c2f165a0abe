// Package hierarchy implements the hierarchy & dependency engine of §4.D:
// parent/child tree rules, the dependency DAG, cycle detection, and
// bottom-up progress rollup.
package hierarchy

import (
	"context"
	"math"
	"sort"

	"github.com/jivecore/jivecore/internal/corerr"
	"github.com/jivecore/jivecore/internal/store"
	"github.com/jivecore/jivecore/internal/workitem"
)

// progressEpsilon is the minimum delta that makes a recalculated progress
// value worth writing back (§4.D "updating only nodes whose computed
// value differs by > 1e-9 from the stored value").
const progressEpsilon = 1e-9

// Engine implements the hierarchy & dependency operations over a storage
// core.
type Engine struct {
	store *store.Store
}

// New creates an Engine backed by the given storage core.
func New(s *store.Store) *Engine {
	return &Engine{store: s}
}

// GetChildren returns id's direct children, or its full descendant set
// when recursive is true (§S2: recursive result is a set, order
// unspecified).
func (e *Engine) GetChildren(ctx context.Context, id string, recursive bool) ([]*workitem.WorkItem, error) {
	direct, err := e.store.ListWorkItems(ctx, store.ListOptions{Filters: store.ListFilters{ParentID: id}})
	if err != nil {
		return nil, err
	}
	if !recursive {
		return direct, nil
	}

	seen := make(map[string]*workitem.WorkItem)
	queue := append([]*workitem.WorkItem{}, direct...)
	for _, item := range direct {
		seen[item.ID] = item
	}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		children, err := e.store.ListWorkItems(ctx, store.ListOptions{Filters: store.ListFilters{ParentID: next.ID}})
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = c
			queue = append(queue, c)
		}
	}

	out := make([]*workitem.WorkItem, 0, len(seen))
	for _, item := range seen {
		out = append(out, item)
	}
	return out, nil
}

// GetParentChain returns id's ancestors, nearest first (§S2:
// get_parent_chain(S1) -> [F1, E]).
func (e *Engine) GetParentChain(ctx context.Context, id string) ([]*workitem.WorkItem, error) {
	var chain []*workitem.WorkItem
	current := id
	visited := map[string]bool{id: true}

	for {
		item, err := e.store.GetWorkItem(ctx, current)
		if err != nil {
			return nil, err
		}
		if item == nil || item.ParentID == "" {
			break
		}
		if visited[item.ParentID] {
			// A cycle in parent_id would violate I5; stop rather than loop
			// forever if data somehow got into this state.
			break
		}
		parent, err := e.store.GetWorkItem(ctx, item.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			break
		}
		chain = append(chain, parent)
		visited[parent.ID] = true
		current = parent.ID
	}
	return chain, nil
}

// GetDependencies returns the ids id depends on, direct or transitive,
// optionally filtered to only blocking ones (§4.D).
func (e *Engine) GetDependencies(ctx context.Context, id string, transitive, onlyBlocking bool) ([]*workitem.WorkItem, error) {
	var ids []string
	if transitive {
		visited := map[string]bool{}
		var walk func(string) error
		walk = func(cur string) error {
			if visited[cur] {
				return nil
			}
			visited[cur] = true
			deps, err := e.store.DependenciesOf(ctx, cur)
			if err != nil {
				return err
			}
			for _, d := range deps {
				ids = append(ids, d)
				if err := walk(d); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(id); err != nil {
			return nil, err
		}
	} else {
		deps, err := e.store.DependenciesOf(ctx, id)
		if err != nil {
			return nil, err
		}
		ids = deps
	}

	seen := map[string]bool{}
	out := make([]*workitem.WorkItem, 0, len(ids))
	for _, depID := range ids {
		if seen[depID] {
			continue
		}
		seen[depID] = true
		item, err := e.store.GetWorkItem(ctx, depID)
		if err != nil || item == nil {
			continue
		}
		if onlyBlocking && (item.Status == workitem.StatusCompleted || item.Status == workitem.StatusApproved) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// MoveParent re-parents id, enforcing the rank rule of §4.D ("Moving a
// work item between parents is allowed only if the new parent's rank is
// exactly one less than the child's rank").
func (e *Engine) MoveParent(ctx context.Context, id, newParentID string) error {
	item, err := e.store.GetWorkItem(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return corerr.NotFound("work item %s not found", id)
	}

	if newParentID == "" {
		_, err := e.store.UpdateWorkItem(ctx, id, workitem.Patch{ParentIDSet: true})
		return err
	}

	parent, err := e.store.GetWorkItem(ctx, newParentID)
	if err != nil {
		return err
	}
	if parent == nil {
		return corerr.NotFound("work item %s not found", newParentID)
	}
	if parent.ItemType.Rank() != item.ItemType.Rank()-1 {
		return corerr.InvariantViolation("new parent rank must be exactly one less than %s's rank", item.ItemType)
	}

	newParent := newParentID
	_, err = e.store.UpdateWorkItem(ctx, id, workitem.Patch{ParentID: &newParent, ParentIDSet: true})
	return err
}

// AddDependency records that from depends on to, rejecting the write if
// it would create a cycle in the dependency DAG (§4.D, S3).
func (e *Engine) AddDependency(ctx context.Context, from, to string) error {
	if from == to {
		return corerr.InvariantViolation("dependencies must not reference itself")
	}

	fromItem, err := e.store.GetWorkItem(ctx, from)
	if err != nil {
		return err
	}
	if fromItem == nil {
		return corerr.NotFound("work item %s not found", from)
	}
	toItem, err := e.store.GetWorkItem(ctx, to)
	if err != nil {
		return err
	}
	if toItem == nil {
		return corerr.NotFound("work item %s not found", to)
	}

	edges, err := e.store.AllDependencyEdges(ctx)
	if err != nil {
		return err
	}
	adjacency := map[string][]string{}
	for _, edge := range edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	// Adding from->to creates a cycle iff `to` can already reach `from`.
	if path, found := findPath(adjacency, to, from); found {
		cycle := append([]string{from}, path...)
		return corerr.InvariantViolation("adding dependency would create a cycle").WithDetail(map[string]any{"cycle": cycle})
	}

	return e.store.AddDependencyEdge(ctx, from, to)
}

// RemoveDependency deletes the from->to edge if present.
func (e *Engine) RemoveDependency(ctx context.Context, from, to string) error {
	return e.store.RemoveDependencyEdge(ctx, from, to)
}

// findPath performs a DFS from start looking for target, returning the
// first path found (inclusive of both endpoints).
func findPath(adjacency map[string][]string, start, target string) ([]string, bool) {
	visited := map[string]bool{}
	var path []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		if visited[node] {
			return false
		}
		visited[node] = true
		path = append(path, node)
		if node == target {
			return true
		}
		for _, next := range adjacency[node] {
			if dfs(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if dfs(start) {
		return path, true
	}
	return nil, false
}

// RecalculateProgress recomputes progress bottom-up from root (or every
// root work item if rootID is empty), writing back only nodes whose
// value changed by more than progressEpsilon (§4.D).
func (e *Engine) RecalculateProgress(ctx context.Context, rootID string) ([]string, error) {
	roots := []string{rootID}
	if rootID == "" {
		all, err := e.store.ListWorkItems(ctx, store.ListOptions{})
		if err != nil {
			return nil, err
		}
		roots = roots[:0]
		for _, item := range all {
			if item.ParentID == "" {
				roots = append(roots, item.ID)
			}
		}
	}

	var updated []string
	seen := map[string]bool{}
	for _, root := range roots {
		ids, err := e.recalcSubtree(ctx, root, seen)
		if err != nil {
			return nil, err
		}
		updated = append(updated, ids...)
	}
	return updated, nil
}

func (e *Engine) recalcSubtree(ctx context.Context, id string, seen map[string]bool) ([]string, error) {
	if seen[id] {
		return nil, nil
	}
	seen[id] = true

	children, err := e.store.ListWorkItems(ctx, store.ListOptions{Filters: store.ListFilters{ParentID: id}})
	if err != nil {
		return nil, err
	}

	var updated []string
	if len(children) == 0 {
		return updated, nil
	}

	var sum float64
	for _, child := range children {
		childUpdated, err := e.recalcSubtree(ctx, child.ID, seen)
		if err != nil {
			return nil, err
		}
		updated = append(updated, childUpdated...)

		refreshed, err := e.store.GetWorkItem(ctx, child.ID)
		if err != nil {
			return nil, err
		}
		sum += refreshed.Progress
	}
	mean := sum / float64(len(children))

	self, err := e.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if self == nil {
		return updated, nil
	}
	if math.Abs(self.Progress-mean) > progressEpsilon {
		if _, err := e.store.UpdateWorkItem(ctx, id, workitem.Patch{Progress: &mean}); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}
	return updated, nil
}

// RankViolation reports a work item whose parent type isn't exactly one
// rank above its own (I4).
type RankViolation struct {
	ItemID   string
	ParentID string
	Reason   string
}

// ValidationReport is the result of ValidateDependencies (§4.D).
type ValidationReport struct {
	MissingIDs        []string
	Cycles            [][]string
	RankViolations    []RankViolation
	SuggestedRemovals []store.DependencyEdge
}

// ValidateDependenciesOptions configures ValidateDependencies.
type ValidateDependenciesOptions struct {
	IDs          []string // empty means "all"
	CheckCycles  bool
	CheckMissing bool
	SuggestFixes bool
}

// ValidateDependencies inspects the dependency graph (restricted to IDs,
// or the whole corpus if empty) for missing references, cycles, and rank
// violations (§4.D).
func (e *Engine) ValidateDependencies(ctx context.Context, opts ValidateDependenciesOptions) (*ValidationReport, error) {
	report := &ValidationReport{}

	items, err := e.scopedItems(ctx, opts.IDs)
	if err != nil {
		return nil, err
	}

	if opts.CheckMissing {
		for _, it := range items {
			if it.ParentID != "" {
				parent, err := e.store.GetWorkItem(ctx, it.ParentID)
				if err != nil {
					return nil, err
				}
				if parent == nil {
					report.MissingIDs = append(report.MissingIDs, it.ParentID)
				}
			}
			deps, err := e.store.DependenciesOf(ctx, it.ID)
			if err != nil {
				return nil, err
			}
			for _, depID := range deps {
				target, err := e.store.GetWorkItem(ctx, depID)
				if err != nil {
					return nil, err
				}
				if target == nil {
					report.MissingIDs = append(report.MissingIDs, depID)
				}
			}
		}
	}

	for _, it := range items {
		if it.ParentID == "" {
			continue
		}
		parent, err := e.store.GetWorkItem(ctx, it.ParentID)
		if err != nil || parent == nil {
			continue
		}
		if parent.ItemType.Rank() != it.ItemType.Rank()-1 {
			report.RankViolations = append(report.RankViolations, RankViolation{
				ItemID: it.ID, ParentID: it.ParentID,
				Reason: "parent rank must be exactly one less than child rank",
			})
		}
	}

	var edges []store.DependencyEdge
	if opts.CheckCycles || opts.SuggestFixes {
		edges, err = e.store.AllDependencyEdges(ctx)
		if err != nil {
			return nil, err
		}
		if opts.CheckCycles {
			report.Cycles = detectCycles(edges)
		}
		if opts.SuggestFixes && len(report.Cycles) > 0 {
			report.SuggestedRemovals = suggestFixes(edges, report.Cycles)
		}
	}

	return report, nil
}

func (e *Engine) scopedItems(ctx context.Context, ids []string) ([]*workitem.WorkItem, error) {
	if len(ids) == 0 {
		return e.store.ListWorkItems(ctx, store.ListOptions{})
	}
	items := make([]*workitem.WorkItem, 0, len(ids))
	for _, id := range ids {
		item, err := e.store.GetWorkItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, item)
		}
	}
	return items, nil
}

// colour is the three-colour DFS marking of standard cycle detection.
type colour int

const (
	white colour = iota
	grey
	black
)

// detectCycles runs three-colour DFS over the full edge set, reporting
// each grey->grey back-edge encountered as a cycle path (§4.D).
func detectCycles(edges []store.DependencyEdge) [][]string {
	adjacency := map[string][]string{}
	nodes := map[string]bool{}
	for _, e := range edges {
		adjacency[e.From] = append(adjacency[e.From], e.To)
		nodes[e.From] = true
		nodes[e.To] = true
	}

	colours := map[string]colour{}
	var cycles [][]string
	var stack []string

	var dfs func(node string)
	dfs = func(node string) {
		colours[node] = grey
		stack = append(stack, node)
		for _, next := range adjacency[node] {
			switch colours[next] {
			case white:
				dfs(next)
			case grey:
				// Found a back-edge into the current DFS stack: extract the
				// cycle portion of the stack starting at `next`.
				idx := 0
				for i, n := range stack {
					if n == next {
						idx = i
						break
					}
				}
				cycle := append([]string{}, stack[idx:]...)
				cycle = append(cycle, next)
				cycles = append(cycles, cycle)
			}
		}
		stack = stack[:len(stack)-1]
		colours[node] = black
	}

	ordered := make([]string, 0, len(nodes))
	for n := range nodes {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	for _, n := range ordered {
		if colours[n] == white {
			dfs(n)
		}
	}
	return cycles
}

// suggestFixes greedily removes the highest-out-degree edge that still
// participates in an open cycle until none remain (§4.D "suggest_fixes",
// grounded on original_source/scripts/fix_dependency_engine.py's
// feedback-edge heuristic).
func suggestFixes(edges []store.DependencyEdge, cycles [][]string) []store.DependencyEdge {
	remaining := append([]store.DependencyEdge{}, edges...)
	var removed []store.DependencyEdge

	for {
		open := detectCycles(remaining)
		if len(open) == 0 {
			return removed
		}

		// Candidates are only the edges lying on a still-open cycle; among
		// those, drop the one whose source has the highest out-degree.
		onCycle := map[store.DependencyEdge]bool{}
		for _, cycle := range open {
			for i := 0; i+1 < len(cycle); i++ {
				onCycle[store.DependencyEdge{From: cycle[i], To: cycle[i+1]}] = true
			}
		}
		outDegree := map[string]int{}
		for _, e := range remaining {
			outDegree[e.From]++
		}

		best := -1
		for i, e := range remaining {
			if !onCycle[e] {
				continue
			}
			if best == -1 || outDegree[e.From] > outDegree[remaining[best].From] {
				best = i
			}
		}
		if best == -1 {
			return removed
		}
		removed = append(removed, remaining[best])
		remaining = append(remaining[:best], remaining[best+1:]...)
	}
}
