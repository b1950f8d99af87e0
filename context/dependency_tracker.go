package context

import "goa.design/taskorchestrator/graph"

// dependencyChainTracker computes transitive predecessor sets within a
// sibling group and uses them to drop redundant context sources: if A's
// non-empty transitive-predecessor set is a proper subset of B's, A is
// dropped because B already carries everything A would contribute — unless
// B failed or was cancelled, in which case A is kept. Candidates with equal
// sets, or with no predecessors, are all kept. Rebuilt fresh per Resolve call so its
// cache never outlives one request.
type dependencyChainTracker struct {
	g     *graph.TaskGraph
	cache map[string]map[string]bool
}

func newDependencyChainTracker(g *graph.TaskGraph) *dependencyChainTracker {
	return &dependencyChainTracker{g: g, cache: make(map[string]map[string]bool)}
}

// transitiveDeps returns the set of task ids that n transitively depends on
// via predecessor edges in n's container graph.
func (t *dependencyChainTracker) transitiveDeps(n *graph.TaskNode) map[string]bool {
	snap := n.Snapshot()
	if cached, ok := t.cache[snap.TaskID]; ok {
		return cached
	}
	deps := make(map[string]bool)
	t.cache[snap.TaskID] = deps // break cycles defensively; graph is acyclic by construction

	containerID, ok := t.g.ContainerGraphID(snap.TaskID)
	if !ok {
		return deps
	}
	for _, pred := range t.g.GetPredecessors(containerID, snap.TaskID) {
		ps := pred.Snapshot()
		deps[ps.TaskID] = true
		for d := range t.transitiveDeps(pred) {
			deps[d] = true
		}
	}
	t.cache[snap.TaskID] = deps
	return deps
}

// filterRedundant drops candidates whose non-empty transitive-predecessor
// set is a proper subset of another candidate's, unless that other
// candidate failed or was cancelled.
func (t *dependencyChainTracker) filterRedundant(candidates []*graph.TaskNode) []*graph.TaskNode {
	if len(candidates) <= 1 {
		return candidates
	}

	type entry struct {
		node *graph.TaskNode
		snap graph.Snapshot
		deps map[string]bool
	}
	entries := make([]entry, 0, len(candidates))
	byID := make(map[string]*entry)
	for _, c := range candidates {
		e := entry{node: c, snap: c.Snapshot(), deps: t.transitiveDeps(c)}
		entries = append(entries, e)
	}
	for i := range entries {
		byID[entries[i].snap.TaskID] = &entries[i]
	}

	isSubset := func(a, b map[string]bool) bool {
		for id := range a {
			if !b[id] {
				return false
			}
		}
		return true
	}

	var out []*graph.TaskNode
	for _, a := range entries {
		redundant := false
		for _, b := range entries {
			if a.snap.TaskID == b.snap.TaskID {
				continue
			}
			if len(a.deps) == 0 {
				continue
			}
			if isSubset(a.deps, b.deps) && len(b.deps) > len(a.deps) {
				if b.snap.Status == graph.StatusFailed || b.snap.Status == graph.StatusCancelled {
					continue
				}
				redundant = true
				break
			}
		}
		if !redundant {
			out = append(out, a.node)
		}
	}
	return out
}
