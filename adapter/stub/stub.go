// Package stub provides a deterministic, table-driven adapter set used by
// the engine's own tests: no network calls, no LLM, predictable output
// given a goal string.
package stub

import (
	"context"
	"fmt"
	"strings"

	"goa.design/taskorchestrator/adapter"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
)

// Rule maps a goal substring to a fixed decomposition, used by Planner to
// produce deterministic plans in tests without a real LLM.
type Rule struct {
	GoalContains string
	SubTasks     []adapter.PlannedSubTask
}

// Set is a fully deterministic implementation of adapter.Set. AtomicGoals
// lists goal substrings that should be treated as atomic by Atomize;
// anything else decomposes via PlanRules, or falls back to producing a
// single atomic child matching its own goal (guaranteeing termination even
// with no configured rules).
type Set struct {
	PlanRules   []Rule
	AtomicGoals []string
}

// New constructs a stub Set with no rules: every goal atomizes immediately.
func New() *Set {
	return &Set{}
}

func (s *Set) Plan(ctx context.Context, input orccontext.AgentTaskInput) (adapter.PlanResult, error) {
	for _, rule := range s.PlanRules {
		if strings.Contains(input.CurrentGoal, rule.GoalContains) {
			return adapter.PlanResult{SubTasks: rule.SubTasks}, nil
		}
	}
	return adapter.PlanResult{
		SubTasks: []adapter.PlannedSubTask{
			{Goal: input.CurrentGoal, TaskType: graph.TaskThink, NodeType: graph.NodeExecute},
		},
	}, nil
}

func (s *Set) Atomize(ctx context.Context, input orccontext.AgentTaskInput) (adapter.AtomizeResult, error) {
	for _, g := range s.AtomicGoals {
		if strings.Contains(input.CurrentGoal, g) {
			return adapter.AtomizeResult{IsAtomic: true, RefinedGoal: input.CurrentGoal}, nil
		}
	}
	if len(s.PlanRules) == 0 {
		return adapter.AtomizeResult{IsAtomic: true, RefinedGoal: input.CurrentGoal}, nil
	}
	return adapter.AtomizeResult{IsAtomic: false}, nil
}

func (s *Set) Execute(ctx context.Context, input orccontext.AgentTaskInput) (adapter.ExecuteResult, error) {
	return adapter.ExecuteResult{
		Result:        fmt.Sprintf("done: %s", input.CurrentGoal),
		OutputSummary: fmt.Sprintf("completed %q", input.CurrentGoal),
	}, nil
}

func (s *Set) Aggregate(ctx context.Context, input orccontext.AgentTaskInput) (adapter.AggregateResult, error) {
	parts := make([]string, 0, len(input.RelevantContextItems))
	for _, item := range input.RelevantContextItems {
		parts = append(parts, fmt.Sprintf("%v", item.Content))
	}
	summary := strings.Join(parts, "; ")
	return adapter.AggregateResult{
		Result:        summary,
		OutputSummary: fmt.Sprintf("aggregated %d children", len(input.RelevantContextItems)),
	}, nil
}

func (s *Set) ModifyPlan(ctx context.Context, input orccontext.AgentTaskInput, instructions string) (adapter.PlanResult, error) {
	base, err := s.Plan(ctx, input)
	if err != nil {
		return adapter.PlanResult{}, err
	}
	if instructions == "" || len(base.SubTasks) == 0 {
		return base, nil
	}
	base.SubTasks[0].Goal = base.SubTasks[0].Goal + " (" + instructions + ")"
	return base, nil
}

// AsSet converts s into an adapter.Set exposing every adapter role.
func (s *Set) AsSet() adapter.Set {
	return adapter.Set{
		Planner:      s,
		Atomizer:     s,
		Executor:     s,
		Aggregator:   s,
		PlanModifier: s,
	}
}
