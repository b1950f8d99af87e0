// Package adapter defines the external adapter contracts a NodeProcessor
// dispatches to: Planner, Atomizer, Executor, Aggregator, and PlanModifier.
// The core ships no opinion about what backs an adapter — an LLM client, a
// deterministic stub, a human — only the shape of the call: context-first
// methods returning a structured result plus error.
package adapter

import (
	"context"

	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
)

// Verb names the kind of adapter call being made: a typed identifier
// rather than a bare string scattered through call sites.
type Verb string

const (
	VerbPlan      Verb = "plan"
	VerbAtomize   Verb = "atomize"
	VerbExecute   Verb = "execute"
	VerbAggregate Verb = "aggregate"
	VerbModify    Verb = "modify_plan"
)

// PlannedSubTask is one child task a Planner proposes.
type PlannedSubTask struct {
	Goal              string
	TaskType          graph.TaskType
	NodeType          graph.NodeType
	DependsOnIndices  []int
}

// PlanResult is a Planner's structured return value.
type PlanResult struct {
	SubTasks []PlannedSubTask
}

// Planner decomposes a PLAN node's goal into child subtasks.
type Planner interface {
	Plan(ctx context.Context, input orccontext.AgentTaskInput) (PlanResult, error)
}

// AtomizeResult is an Atomizer's structured return value.
type AtomizeResult struct {
	IsAtomic    bool
	RefinedGoal string
}

// Atomizer decides whether a PLAN node's goal is small enough to execute
// directly instead of decomposing further.
type Atomizer interface {
	Atomize(ctx context.Context, input orccontext.AgentTaskInput) (AtomizeResult, error)
}

// ExecuteResult is an Executor's structured return value.
type ExecuteResult struct {
	Result        any
	OutputSummary string
}

// Executor performs an EXECUTE node's (or an atomic PLAN node's) goal and
// produces a result.
type Executor interface {
	Execute(ctx context.Context, input orccontext.AgentTaskInput) (ExecuteResult, error)
}

// AggregateResult is an Aggregator's structured return value. NeedsReplan
// signals the PLAN node's children did not, taken together, satisfy the
// parent goal even though none individually failed.
type AggregateResult struct {
	Result        any
	OutputSummary string
	NeedsReplan   bool
	ReplanReason  string
}

// Aggregator synthesizes a PLAN node's children's results into the PLAN
// node's own result.
type Aggregator interface {
	Aggregate(ctx context.Context, input orccontext.AgentTaskInput) (AggregateResult, error)
}

// PlanModifier re-plans a node given a human's modification instructions,
// replacing the prior PlanResult.
type PlanModifier interface {
	ModifyPlan(ctx context.Context, input orccontext.AgentTaskInput, instructions string) (PlanResult, error)
}

// Set bundles the five adapter roles a task type resolves to. Any field may
// be nil if that capability is unused for a given registry entry.
type Set struct {
	Planner      Planner
	Atomizer     Atomizer
	Executor     Executor
	Aggregator   Aggregator
	PlanModifier PlanModifier
}
