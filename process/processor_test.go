package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskorchestrator/adapter"
	"goa.design/taskorchestrator/adapter/stub"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/hitl"
	"goa.design/taskorchestrator/knowledge"
	"goa.design/taskorchestrator/trace"
)

func newTestProcessor(t *testing.T, set adapter.Set) (*Processor, *graph.TaskGraph, func() string) {
	t.Helper()
	g := graph.New("objective")
	require.NoError(t, g.AddGraph("root-graph", true))
	ks := knowledge.New()
	resolver := orccontext.New(g, ks)
	registry := adapter.NewRegistry()
	registry.SetFallback(set)
	coord := hitl.New(hitl.DefaultConfig(), nil, nil)
	ledger := trace.NewLedger()
	counter := 0
	newGraphID := func() string {
		counter++
		return "sub-graph-" + string(rune('0'+counter))
	}
	p := New(g, resolver, ks, registry, coord, ledger, Config{MaxPlanningLayer: 6}, nil, nil, newGraphID)
	return p, g, newGraphID
}

func TestProcessExecuteReadyAtomicGoalCompletes(t *testing.T) {
	t.Parallel()
	p, g, _ := newTestProcessor(t, stub.New().AsSet())

	n := graph.NewTaskNode("root", "do a small thing", "objective", 0, graph.TaskThink, graph.NodePlan)
	require.NoError(t, g.AddNodeToGraph("root-graph", n))
	require.True(t, n.TrySetStatus(graph.StatusPending, graph.StatusReady))

	p.Process(context.Background(), n)

	snap := n.Snapshot()
	// An atomic PLAN node stops at PLAN_DONE; the cycle settles it to DONE.
	assert.Equal(t, graph.StatusPlanDone, snap.Status)
	assert.True(t, snap.WasExecutedAsAtomic)
	assert.NotEmpty(t, snap.OutputSummary)
	assert.NotNil(t, snap.Result)
}

func TestProcessPlanReadyCommitsChildren(t *testing.T) {
	t.Parallel()
	set := &stub.Set{
		PlanRules: []stub.Rule{
			{GoalContains: "report", SubTasks: []adapter.PlannedSubTask{
				{Goal: "gather data", TaskType: graph.TaskSearch, NodeType: graph.NodeExecute},
				{Goal: "write report", TaskType: graph.TaskWrite, NodeType: graph.NodeExecute, DependsOnIndices: []int{0}},
			}},
		},
	}
	p, g, _ := newTestProcessor(t, set.AsSet())

	n := graph.NewTaskNode("root", "produce a report", "objective", 0, graph.TaskThink, graph.NodePlan)
	require.NoError(t, g.AddNodeToGraph("root-graph", n))
	require.True(t, n.TrySetStatus(graph.StatusPending, graph.StatusReady))

	p.Process(context.Background(), n)

	snap := n.Snapshot()
	require.Equal(t, graph.StatusPlanDone, snap.Status)
	require.Len(t, snap.PlannedSubTaskIDs, 2)
	require.NotEmpty(t, snap.SubGraphID)

	children := g.GetNodesInGraph(snap.SubGraphID)
	assert.Len(t, children, 2)

	preds := g.GetPredecessors(snap.SubGraphID, snap.PlannedSubTaskIDs[1])
	require.Len(t, preds, 1)
	assert.Equal(t, snap.PlannedSubTaskIDs[0], preds[0].Snapshot().TaskID)
}

func TestProcessAggregatingProducesResultFromChildren(t *testing.T) {
	t.Parallel()
	p, g, _ := newTestProcessor(t, stub.New().AsSet())

	parent := graph.NewTaskNode("parent", "decompose", "objective", 0, graph.TaskThink, graph.NodePlan)
	require.NoError(t, g.AddNodeToGraph("root-graph", parent))
	require.NoError(t, g.AddGraph("parent-sub", false))
	parent.SetSubGraphID("parent-sub")
	require.True(t, parent.TrySetStatus(graph.StatusPending, graph.StatusReady))
	require.True(t, parent.TrySetStatus(graph.StatusReady, graph.StatusRunning))
	require.True(t, parent.TrySetStatus(graph.StatusRunning, graph.StatusPlanDone))
	require.True(t, parent.TrySetStatus(graph.StatusPlanDone, graph.StatusAggregating))

	child := graph.NewTaskNode("parent.0", "child goal", "objective", 1, graph.TaskThink, graph.NodeExecute)
	child.ParentNodeID = "parent"
	require.NoError(t, g.AddNodeToGraph("parent-sub", child))
	child.Mu.Lock()
	child.OutputSummary = "child done"
	child.Mu.Unlock()
	require.True(t, child.TrySetStatus(graph.StatusPending, graph.StatusReady))
	require.True(t, child.TrySetStatus(graph.StatusReady, graph.StatusRunning))
	require.True(t, child.TrySetStatus(graph.StatusRunning, graph.StatusDone))

	p.Process(context.Background(), parent)

	snap := parent.Snapshot()
	assert.Equal(t, graph.StatusDone, snap.Status)
	assert.NotEmpty(t, snap.OutputSummary)
}

func TestProcessFailsNodeWhenNoExecutorRegistered(t *testing.T) {
	t.Parallel()
	p, g, _ := newTestProcessor(t, adapter.Set{})

	n := graph.NewTaskNode("root", "anything", "objective", 0, graph.TaskThink, graph.NodeExecute)
	require.NoError(t, g.AddNodeToGraph("root-graph", n))
	require.True(t, n.TrySetStatus(graph.StatusPending, graph.StatusReady))

	p.Process(context.Background(), n)

	snap := n.Snapshot()
	assert.Equal(t, graph.StatusFailed, snap.Status)
	assert.NotEmpty(t, snap.Err)
}

type abortingTransport struct {
	reason string
}

func (a *abortingTransport) Request(ctx context.Context, review hitl.Review) (hitl.Response, error) {
	return hitl.Response{Verdict: hitl.VerdictAbort, Reason: a.reason}, nil
}

func TestProcessRoutesHITLAbortToCancelledNotFailed(t *testing.T) {
	t.Parallel()
	g := graph.New("objective")
	require.NoError(t, g.AddGraph("root-graph", true))
	ks := knowledge.New()
	resolver := orccontext.New(g, ks)
	registry := adapter.NewRegistry()
	registry.SetFallback(stub.New().AsSet())

	cfg := hitl.DefaultConfig()
	cfg.Enabled[hitl.CheckpointBeforeExecute] = true
	coord := hitl.New(cfg, &abortingTransport{reason: "reviewer rejected this step"}, nil)
	ledger := trace.NewLedger()
	p := New(g, resolver, ks, registry, coord, ledger, Config{MaxPlanningLayer: 6}, nil, nil, func() string { return "sub-graph" })

	n := graph.NewTaskNode("root", "do a small thing", "objective", 0, graph.TaskThink, graph.NodeExecute)
	require.NoError(t, g.AddNodeToGraph("root-graph", n))
	require.True(t, n.TrySetStatus(graph.StatusPending, graph.StatusReady))

	p.Process(context.Background(), n)

	snap := n.Snapshot()
	assert.Equal(t, graph.StatusCancelled, snap.Status)
	assert.NotEqual(t, graph.StatusFailed, snap.Status)
	assert.Contains(t, snap.OutputSummary, "reviewer rejected this step")
	assert.NotEmpty(t, snap.Err)
}

func TestSchemaValidationFailsBeforeExecutorDispatch(t *testing.T) {
	t.Parallel()
	p, g, _ := newTestProcessor(t, stub.New().AsSet())
	schemas := adapter.NewSchemaRegistry()
	require.NoError(t, schemas.Register(graph.TaskThink, []byte(`{
		"type": "object",
		"required": ["CurrentGoal"],
		"properties": {"CurrentGoal": {"type": "string", "minLength": 9999}}
	}`)))
	p.SetSchemaRegistry(schemas)

	n := graph.NewTaskNode("root", "too short", "objective", 0, graph.TaskThink, graph.NodeExecute)
	require.NoError(t, g.AddNodeToGraph("root-graph", n))
	require.True(t, n.TrySetStatus(graph.StatusPending, graph.StatusReady))

	p.Process(context.Background(), n)

	snap := n.Snapshot()
	assert.Equal(t, graph.StatusFailed, snap.Status)
}
