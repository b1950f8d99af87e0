// Package state implements StateManager: pure predicates over a TaskGraph
// that decide whether a node may advance. Predicates have no side effects
// and never mutate the graph — CycleManager calls them before every
// transition.
package state

import (
	"goa.design/taskorchestrator/graph"
)

// Manager evaluates readiness/aggregation predicates against a TaskGraph.
type Manager struct {
	g *graph.TaskGraph
}

// New constructs a Manager bound to g.
func New(g *graph.TaskGraph) *Manager {
	return &Manager{g: g}
}

// CanBecomeReady reports whether a PENDING node may transition to READY:
// its parent (if any) must be in a status that implies it has had a chance
// to spawn children, its container graph must be locatable, and every
// predecessor in that container graph must be DONE.
func (m *Manager) CanBecomeReady(n *graph.TaskNode) bool {
	snap := n.Snapshot()
	if snap.Status != graph.StatusPending {
		return false
	}
	if !m.parentAllowsReady(snap.ParentNodeID) {
		return false
	}
	containerID, ok := m.g.ContainerGraphID(snap.TaskID)
	if !ok {
		return false
	}
	for _, pred := range m.g.GetPredecessors(containerID, snap.TaskID) {
		if pred.Snapshot().Status != graph.StatusDone {
			return false
		}
	}
	return true
}

func (m *Manager) parentAllowsReady(parentID string) bool {
	if parentID == "" {
		return true
	}
	parent := m.g.GetNode(parentID)
	if parent == nil {
		return false
	}
	switch parent.Snapshot().Status {
	case graph.StatusRunning, graph.StatusPlanDone, graph.StatusDone, graph.StatusAggregating:
		return true
	default:
		return false
	}
}

// CanAggregate reports whether a PLAN_DONE PLAN node may transition to
// AGGREGATING: it must have a SubGraphID, and every node in that subgraph
// must be terminal. An empty subgraph is trivially aggregatable.
func (m *Manager) CanAggregate(n *graph.TaskNode) bool {
	snap := n.Snapshot()
	if snap.Status != graph.StatusPlanDone || snap.NodeType != graph.NodePlan {
		return false
	}
	if snap.SubGraphID == "" {
		return false
	}
	children := m.g.GetNodesInGraph(snap.SubGraphID)
	if len(children) == 0 {
		return true
	}
	for _, c := range children {
		if !graph.Terminal(c.Snapshot().Status) {
			return false
		}
	}
	return true
}

// AnyChildFailed reports whether any node in subGraphID reached FAILED or
// CANCELLED — used by CycleManager to decide between AGGREGATING and
// NEEDS_REPLAN when advancing a PLAN_DONE node.
func (m *Manager) AnyChildFailed(subGraphID string) bool {
	for _, c := range m.g.GetNodesInGraph(subGraphID) {
		st := c.Snapshot().Status
		if st == graph.StatusFailed || st == graph.StatusCancelled {
			return true
		}
	}
	return false
}

// CanTransitionToDone reports whether n's current status legally permits a
// move to DONE.
func (m *Manager) CanTransitionToDone(n *graph.TaskNode) bool {
	return graph.CanTransition(n.Snapshot().Status, graph.StatusDone)
}

// CanTransitionToFailed reports whether n's current status legally permits
// a move to FAILED.
func (m *Manager) CanTransitionToFailed(n *graph.TaskNode) bool {
	return graph.CanTransition(n.Snapshot().Status, graph.StatusFailed)
}
