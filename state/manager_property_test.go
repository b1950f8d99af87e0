package state

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/taskorchestrator/graph"
)

func genParentStatus() gopter.Gen {
	return gen.OneConstOf(
		graph.StatusPending, graph.StatusReady, graph.StatusRunning,
		graph.StatusPlanDone, graph.StatusAggregating, graph.StatusDone,
		graph.StatusFailed, graph.StatusNeedsReplan, graph.StatusCancelled,
	)
}

// TestParentChildContractProperty verifies that a PENDING node with a parent
// may only become READY while the parent is in one of the statuses that
// imply it has had a chance to spawn children.
func TestParentChildContractProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	allowedParentStatuses := map[graph.Status]bool{
		graph.StatusRunning:     true,
		graph.StatusPlanDone:    true,
		graph.StatusDone:        true,
		graph.StatusAggregating: true,
	}

	properties.Property("CanBecomeReady matches the parent-status allow-list", prop.ForAll(
		func(parentStatus graph.Status) bool {
			g := graph.New("objective")
			if err := g.AddGraph("root", true); err != nil {
				return false
			}
			parent := graph.NewTaskNode("parent", "decompose", "objective", 0, graph.TaskThink, graph.NodePlan)
			parent.Status = parentStatus
			if err := g.AddNodeToGraph("root", parent); err != nil {
				return false
			}
			child := graph.NewTaskNode("child", "act", "objective", 1, graph.TaskThink, graph.NodeExecute)
			child.ParentNodeID = "parent"
			if err := g.AddGraph("sub", false); err != nil {
				return false
			}
			if err := g.AddNodeToGraph("sub", child); err != nil {
				return false
			}
			parent.SetSubGraphID("sub")

			sm := New(g)
			return sm.CanBecomeReady(child) == allowedParentStatuses[parentStatus]
		},
		genParentStatus(),
	))

	properties.Property("a node with a missing parent can never become ready", prop.ForAll(
		func(n int) bool {
			g := graph.New("objective")
			if err := g.AddGraph("root", true); err != nil {
				return false
			}
			child := graph.NewTaskNode(fmt.Sprintf("orphan-%d", n), "act", "objective", 1, graph.TaskThink, graph.NodeExecute)
			child.ParentNodeID = "no-such-parent"
			if err := g.AddNodeToGraph("root", child); err != nil {
				return false
			}
			sm := New(g)
			return !sm.CanBecomeReady(child)
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}

// TestPredecessorPrecedenceProperty verifies that a node can only become
// READY once every predecessor in its container graph is DONE, regardless of
// how many predecessors there are or which ones have finished.
func TestPredecessorPrecedenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("readiness requires every predecessor to be DONE", prop.ForAll(
		func(doneCount, pendingCount int) bool {
			if doneCount < 0 {
				doneCount = 0
			}
			if pendingCount < 0 {
				pendingCount = 0
			}
			if doneCount > 6 {
				doneCount = 6
			}
			if pendingCount > 6 {
				pendingCount = 6
			}

			g := graph.New("objective")
			if err := g.AddGraph("root", true); err != nil {
				return false
			}
			target := graph.NewTaskNode("target", "act", "objective", 0, graph.TaskThink, graph.NodeExecute)
			if err := g.AddNodeToGraph("root", target); err != nil {
				return false
			}

			for i := 0; i < doneCount; i++ {
				pred := graph.NewTaskNode(fmt.Sprintf("done-%d", i), "act", "objective", 0, graph.TaskThink, graph.NodeExecute)
				pred.Status = graph.StatusDone
				if err := g.AddNodeToGraph("root", pred); err != nil {
					return false
				}
				if err := g.AddEdge("root", pred.TaskID, "target"); err != nil {
					return false
				}
			}
			for i := 0; i < pendingCount; i++ {
				pred := graph.NewTaskNode(fmt.Sprintf("pending-%d", i), "act", "objective", 0, graph.TaskThink, graph.NodeExecute)
				if err := g.AddNodeToGraph("root", pred); err != nil {
					return false
				}
				if err := g.AddEdge("root", pred.TaskID, "target"); err != nil {
					return false
				}
			}

			sm := New(g)
			want := pendingCount == 0
			return sm.CanBecomeReady(target) == want
		},
		gen.IntRange(0, 6), gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
