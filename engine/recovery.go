package engine

import (
	"context"
	"fmt"
	"time"

	"goa.design/taskorchestrator/graph"
)

// recover attempts a Warning/Soft/Hard escalation ladder across every
// active node and reports whether any targeted recovery made progress.
func (e *Engine) recover(ctx context.Context, active []*graph.TaskNode) bool {
	now := time.Now()
	progressed := false

	runningCount := 0
	for _, n := range active {
		if n.Snapshot().Status == graph.StatusRunning {
			runningCount++
		}
	}

	for _, n := range active {
		snap := n.Snapshot()
		elapsed := now.Sub(n.StatusEnteredAt())

		switch {
		case elapsed >= e.cfg.Recovery.Hard:
			if e.forceHard(n, snap) {
				progressed = true
			}
		case elapsed >= e.cfg.Recovery.Soft:
			if e.attemptSoftRecovery(n, snap, runningCount, len(active)) {
				progressed = true
			}
		case elapsed >= e.cfg.Recovery.Warning:
			e.log.Warn(ctx, "node stuck past warning threshold",
				"task_id", snap.TaskID, "status", string(snap.Status), "elapsed", elapsed.String())
		}
	}
	return progressed
}

// attemptSoftRecovery applies one of a small set of targeted recoveries
// for a node stuck past the Soft threshold and records the attempt.
func (e *Engine) attemptSoftRecovery(n *graph.TaskNode, snap graph.Snapshot, runningCount, activeCount int) bool {
	e.recoveryAttempts[snap.TaskID]++

	// A lone RUNNING node with no other active nodes is assumed hung.
	if snap.Status == graph.StatusRunning && runningCount == 1 && activeCount == 1 {
		return n.ForceStatus(graph.StatusNeedsReplan)
	}

	// A RUNNING PLAN node with PENDING children whose container graph
	// cannot be located: the SetSubGraphID/child-registration sync gap.
	if snap.Status == graph.StatusRunning && snap.NodeType == graph.NodePlan {
		if childGraphID, ok := e.findOrphanedChildGraph(snap.TaskID); ok {
			n.SetSubGraphID(childGraphID)
			return n.ForceStatus(graph.StatusPlanDone)
		}
	}

	// A PLAN_DONE node with a minority of stuck children: force AGGREGATING.
	if snap.Status == graph.StatusPlanDone && snap.SubGraphID != "" {
		children := e.g.GetNodesInGraph(snap.SubGraphID)
		if len(children) > 0 {
			stuck := 0
			for _, c := range children {
				if !graph.Terminal(c.Snapshot().Status) {
					stuck++
				}
			}
			if stuck > 0 && stuck*2 < len(children) {
				return n.ForceStatus(graph.StatusAggregating)
			}
		}
	}

	// A PENDING child whose parent is stuck RUNNING: handled at the
	// parent in forceHard below, since that case only applies past the
	// hard threshold per spec.
	return false
}

// forceHard applies the hard-threshold forcing rules: exhausted nodes fail
// outright, others are pushed to NEEDS_REPLAN; a PENDING child whose parent
// is stuck RUNNING past the hard threshold forces the parent to replan.
func (e *Engine) forceHard(n *graph.TaskNode, snap graph.Snapshot) bool {
	if snap.Status == graph.StatusPending && snap.ParentNodeID != "" {
		parent := e.g.GetNode(snap.ParentNodeID)
		if parent != nil {
			ps := parent.Snapshot()
			if ps.Status == graph.StatusRunning && time.Since(parent.StatusEnteredAt()) >= e.cfg.Recovery.Hard {
				return parent.ForceStatus(graph.StatusNeedsReplan)
			}
		}
		return false
	}

	if e.recoveryAttempts[snap.TaskID] >= e.cfg.Recovery.MaxRecoveryAttempts {
		n.Mu.Lock()
		n.Err = "exhausted recovery attempts past hard threshold"
		n.Mu.Unlock()
		return n.ForceStatus(graph.StatusFailed)
	}
	e.recoveryAttempts[snap.TaskID]++
	return n.ForceStatus(graph.StatusNeedsReplan)
}

// findOrphanedChildGraph looks for a DAG whose nodes are parented by
// parentID but that the parent has not yet recorded as its SubGraphID.
func (e *Engine) findOrphanedChildGraph(parentID string) (string, bool) {
	for _, n := range e.g.GetAllNodes() {
		snap := n.Snapshot()
		if snap.ParentNodeID != parentID {
			continue
		}
		if graphID, ok := e.g.ContainerGraphID(snap.TaskID); ok {
			return graphID, true
		}
	}
	return "", false
}

// diagnose produces the structured diagnosis text attached to the root
// node when neither step nor recovery advances the graph.
func (e *Engine) diagnose(active []*graph.TaskNode) string {
	byStatus := make(map[graph.Status]int)
	for _, n := range active {
		byStatus[n.Snapshot().Status]++
	}

	var patterns []string
	runningCount := 0
	for _, n := range active {
		if n.Snapshot().Status == graph.StatusRunning {
			runningCount++
		}
	}
	if runningCount == 1 && len(active) == 1 {
		patterns = append(patterns, "lone RUNNING hang")
	}
	for _, n := range active {
		snap := n.Snapshot()
		if snap.Status == graph.StatusRunning && snap.NodeType == graph.NodePlan {
			if _, ok := e.g.ContainerGraphID(snap.TaskID); !ok {
				patterns = append(patterns, fmt.Sprintf("parent-child sync failure at %s", snap.TaskID))
			}
		}
		if snap.Status == graph.StatusPlanDone {
			patterns = append(patterns, fmt.Sprintf("stuck aggregation at %s", snap.TaskID))
		}
		if snap.Status == graph.StatusPending && snap.ParentNodeID != "" {
			parent := e.g.GetNode(snap.ParentNodeID)
			if parent == nil || graph.Terminal(parent.Snapshot().Status) {
				patterns = append(patterns, fmt.Sprintf("orphaned PENDING at %s", snap.TaskID))
			}
		}
		if e.hasCircularParentChain(snap.TaskID) {
			patterns = append(patterns, fmt.Sprintf("circular parent chain at %s", snap.TaskID))
		}
	}

	sample := active
	if len(sample) > 5 {
		sample = sample[:5]
	}
	chains := ""
	for _, n := range sample {
		chains += fmt.Sprintf(" [%s parent=%s status=%s]", n.TaskID, n.ParentNodeID, n.Snapshot().Status)
	}

	return fmt.Sprintf("active_by_status=%v patterns=%v sample_chains=%s", byStatus, patterns, chains)
}

func (e *Engine) hasCircularParentChain(taskID string) bool {
	visited := make(map[string]bool)
	cur := taskID
	for i := 0; i < len(e.g.GetAllNodes())+1; i++ {
		n := e.g.GetNode(cur)
		if n == nil {
			return false
		}
		parentID := n.Snapshot().ParentNodeID
		if parentID == "" {
			return false
		}
		if visited[parentID] {
			return true
		}
		visited[parentID] = true
		cur = parentID
	}
	return true
}
