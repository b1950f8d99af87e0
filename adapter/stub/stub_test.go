package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goa.design/taskorchestrator/adapter"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
)

func TestAtomizeDefaultsToAtomicWithNoRules(t *testing.T) {
	t.Parallel()
	s := New()
	res, err := s.Atomize(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "write a poem"})
	require.NoError(t, err)
	assert.True(t, res.IsAtomic)
}

func TestPlanFallsBackToSingleAtomicChild(t *testing.T) {
	t.Parallel()
	s := &Set{PlanRules: []Rule{{GoalContains: "does not match anything"}}}
	res, err := s.Plan(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "research topic"})
	require.NoError(t, err)
	require.Len(t, res.SubTasks, 1)
	assert.Equal(t, "research topic", res.SubTasks[0].Goal)
	assert.Equal(t, graph.NodeExecute, res.SubTasks[0].NodeType)
}

func TestPlanUsesMatchingRule(t *testing.T) {
	t.Parallel()
	s := &Set{PlanRules: []Rule{
		{GoalContains: "report", SubTasks: []adapter.PlannedSubTask{
			{Goal: "gather data", TaskType: graph.TaskSearch, NodeType: graph.NodeExecute},
			{Goal: "write report", TaskType: graph.TaskWrite, NodeType: graph.NodeExecute, DependsOnIndices: []int{0}},
		}},
	}}
	res, err := s.Plan(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "produce a report"})
	require.NoError(t, err)
	require.Len(t, res.SubTasks, 2)
	assert.Equal(t, []int{0}, res.SubTasks[1].DependsOnIndices)
}

func TestModifyPlanAppendsInstructions(t *testing.T) {
	t.Parallel()
	s := &Set{PlanRules: []Rule{{GoalContains: "report", SubTasks: []adapter.PlannedSubTask{{Goal: "draft"}}}}}
	res, err := s.ModifyPlan(context.Background(), orccontext.AgentTaskInput{CurrentGoal: "produce a report"}, "add a summary")
	require.NoError(t, err)
	assert.Contains(t, res.SubTasks[0].Goal, "add a summary")
}

func TestAggregateJoinsChildContent(t *testing.T) {
	t.Parallel()
	s := New()
	res, err := s.Aggregate(context.Background(), orccontext.AgentTaskInput{
		RelevantContextItems: []orccontext.ContextItem{
			{Content: "a"},
			{Content: "b"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "a; b", res.Result)
}
