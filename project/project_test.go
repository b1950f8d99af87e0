package project

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskorchestrator/adapter"
	"goa.design/taskorchestrator/adapter/stub"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/engine"
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/hitl"
)

func newProject(t *testing.T, goal string, registry *adapter.Registry, transport hitl.Transport, hitlCfg hitl.Config, engineCfg engine.Config) *Context {
	t.Helper()
	if engineCfg.MaxSteps == 0 {
		engineCfg.MaxSteps = 200
	}
	return New("test-project", Options{
		OverallProjectGoal: goal,
		Registry:           registry,
		HITLConfig:         hitlCfg,
		HITLTransport:      transport,
		EngineConfig:       engineCfg,
	})
}

func registryWithFallback(set adapter.Set) *adapter.Registry {
	r := adapter.NewRegistry()
	r.SetFallback(set)
	return r
}

func TestProjectRunLinearPlanScenario(t *testing.T) {
	t.Parallel()
	set := (&stub.Set{
		PlanRules: []stub.Rule{
			{GoalContains: "publish the newsletter", SubTasks: []adapter.PlannedSubTask{
				{Goal: "draft content", TaskType: graph.TaskWrite, NodeType: graph.NodeExecute},
				{Goal: "send newsletter", TaskType: graph.TaskWrite, NodeType: graph.NodeExecute, DependsOnIndices: []int{0}},
			}},
		},
	}).AsSet()
	pc := newProject(t, "publish the newsletter", registryWithFallback(set), nil, hitl.DefaultConfig(), engine.Config{})

	root, err := pc.Run(context.Background(), "publish the newsletter", graph.TaskThink)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusDone, root.Snapshot().Status)

	children := pc.Graph.GetNodesInGraph(root.Snapshot().SubGraphID)
	require.Len(t, children, 2)
	for _, c := range children {
		assert.Equal(t, graph.StatusDone, c.Snapshot().Status)
	}
}

func TestProjectRunParallelPlanScenario(t *testing.T) {
	t.Parallel()
	set := (&stub.Set{
		PlanRules: []stub.Rule{
			{GoalContains: "research three vendors", SubTasks: []adapter.PlannedSubTask{
				{Goal: "research vendor a", TaskType: graph.TaskSearch, NodeType: graph.NodeExecute},
				{Goal: "research vendor b", TaskType: graph.TaskSearch, NodeType: graph.NodeExecute},
				{Goal: "research vendor c", TaskType: graph.TaskSearch, NodeType: graph.NodeExecute},
			}},
		},
	}).AsSet()
	pc := newProject(t, "research three vendors", registryWithFallback(set), nil, hitl.DefaultConfig(), engine.Config{})

	root, err := pc.Run(context.Background(), "research three vendors", graph.TaskThink)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusDone, root.Snapshot().Status)

	children := pc.Graph.GetNodesInGraph(root.Snapshot().SubGraphID)
	require.Len(t, children, 3)
	for _, c := range children {
		assert.Equal(t, graph.StatusDone, c.Snapshot().Status)
	}
}

func TestProjectRunChildFailureReplanScenario(t *testing.T) {
	t.Parallel()

	planSet := &stub.Set{
		PlanRules: []stub.Rule{
			{GoalContains: "launch the feature", SubTasks: []adapter.PlannedSubTask{
				{Goal: "flaky step", TaskType: graph.TaskThink, NodeType: graph.NodeExecute},
				{Goal: "stable step", TaskType: graph.TaskThink, NodeType: graph.NodeExecute},
			}},
		},
	}
	exec := &flakyExecutor{}
	set := adapter.Set{
		Planner:      planSet,
		Atomizer:     planSet,
		Aggregator:   planSet,
		PlanModifier: planSet,
		Executor:     exec,
	}
	pc := newProject(t, "launch the feature", registryWithFallback(set), nil, hitl.DefaultConfig(), engine.Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	root, err := pc.Run(ctx, "launch the feature", graph.TaskThink)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusDone, root.Snapshot().Status)
	assert.GreaterOrEqual(t, root.Snapshot().ReplanAttempts, 1)
}

// flakyExecutor fails any goal equal to exactly "flaky step" and succeeds
// on anything else, including the rewritten goal a plan modification
// produces once the parent replans.
type flakyExecutor struct {
	mu   sync.Mutex
	seen map[string]int
}

func (e *flakyExecutor) Execute(ctx context.Context, input orccontext.AgentTaskInput) (adapter.ExecuteResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seen == nil {
		e.seen = make(map[string]int)
	}
	goal := input.CurrentGoal
	e.seen[goal]++
	if goal == "flaky step" {
		return adapter.ExecuteResult{}, fmt.Errorf("transient failure on %q", goal)
	}
	return adapter.ExecuteResult{
		Result:        "ok: " + goal,
		OutputSummary: "completed " + goal,
	}, nil
}

type sequencedTransport struct {
	mu          sync.Mutex
	calls       int
	firstReturn hitl.Response
}

func (s *sequencedTransport) Request(ctx context.Context, review hitl.Review) (hitl.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls == 1 {
		return s.firstReturn, nil
	}
	return hitl.Response{Verdict: hitl.VerdictApprove}, nil
}

func TestProjectRunHITLModificationScenario(t *testing.T) {
	t.Parallel()
	set := (&stub.Set{
		PlanRules: []stub.Rule{
			{GoalContains: "redesign onboarding", SubTasks: []adapter.PlannedSubTask{
				{Goal: "sketch new flow", TaskType: graph.TaskThink, NodeType: graph.NodeExecute},
			}},
		},
	}).AsSet()

	transport := &sequencedTransport{firstReturn: hitl.Response{
		Verdict:                  hitl.VerdictRequestModification,
		ModificationInstructions: "add a user research step first",
	}}

	cfg := hitl.DefaultConfig()
	cfg.Enabled[hitl.CheckpointAfterPlanGeneration] = true
	cfg.Enabled[hitl.CheckpointAfterModifiedPlan] = true

	pc := newProject(t, "redesign onboarding", registryWithFallback(set), transport, cfg, engine.Config{})

	root, err := pc.Run(context.Background(), "redesign onboarding", graph.TaskThink)
	require.NoError(t, err)
	assert.Equal(t, graph.StatusDone, root.Snapshot().Status)
	assert.GreaterOrEqual(t, root.Snapshot().ReplanAttempts, 1)
	assert.GreaterOrEqual(t, transport.calls, 2)

	children := pc.Graph.GetNodesInGraph(root.Snapshot().SubGraphID)
	require.Len(t, children, 1)
	assert.Contains(t, children[0].Snapshot().Goal, "add a user research step first")
}

func TestProjectRunDeadlockScenario(t *testing.T) {
	t.Parallel()
	pc := newProject(t, "do a small thing", registryWithFallback(stub.New().AsSet()), nil, hitl.DefaultConfig(), engine.Config{
		MaxSteps: 50,
		Recovery: engine.RecoveryThresholds{Warning: time.Hour, Soft: time.Hour, Hard: time.Hour},
	})

	require.NoError(t, pc.Graph.AddGraph("root-graph", true))
	orphan := graph.NewTaskNode("orphan", "never becomes ready", "objective", 1, graph.TaskThink, graph.NodeExecute)
	orphan.ParentNodeID = "a-parent-that-was-never-added"
	require.NoError(t, pc.Graph.AddNodeToGraph("root-graph", orphan))

	root, err := pc.Run(context.Background(), "do a small thing", graph.TaskThink)
	require.Error(t, err)
	assert.Equal(t, graph.StatusFailed, root.Snapshot().Status)
	assert.Equal(t, graph.StatusPending, orphan.Snapshot().Status)
}

func TestProjectRunStuckNodeRecoveryScenario(t *testing.T) {
	t.Parallel()
	pc := newProject(t, "do a small thing", registryWithFallback(adapter.Set{}), nil, hitl.DefaultConfig(), engine.Config{
		MaxSteps: 50,
		Recovery: engine.RecoveryThresholds{
			Warning:             time.Millisecond,
			Soft:                2 * time.Millisecond,
			Hard:                4 * time.Millisecond,
			MaxRecoveryAttempts: 2,
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	root, err := pc.Run(ctx, "do a small thing", graph.TaskThink)
	require.Error(t, err)
	assert.Equal(t, graph.StatusFailed, root.Snapshot().Status)
}
