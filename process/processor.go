// Package process implements NodeProcessor: the dispatch table that sends
// one node to the right adapter for its current (status, node_type) pair
// and interprets the structured result. A status-keyed dispatch table
// drives a fixed stage sequence per node: build input, open trace,
// transition RUNNING, invoke, interpret, transition terminal, update the
// knowledge store, close trace.
package process

import (
	"context"
	"errors"
	"fmt"

	"goa.design/taskorchestrator/adapter"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/hitl"
	"goa.design/taskorchestrator/knowledge"
	"goa.design/taskorchestrator/orcerrors"
	"goa.design/taskorchestrator/telemetry"
	"goa.design/taskorchestrator/trace"
)

// Config bounds planning recursion.
type Config struct {
	MaxPlanningLayer int
}

// Processor dispatches individual nodes to adapters.
type Processor struct {
	g        *graph.TaskGraph
	resolver *orccontext.Resolver
	ks       *knowledge.Store
	registry *adapter.Registry
	coord    *hitl.Coordinator
	ledger   *trace.Ledger
	cfg      Config
	log      telemetry.Logger
	tracer   telemetry.Tracer
	schemas  *adapter.SchemaRegistry

	graphCounter func() string
}

// SetSchemaRegistry attaches an optional SchemaRegistry used to validate an
// EXECUTE node's input payload before dispatch. A nil registry (the
// default) skips validation entirely.
func (p *Processor) SetSchemaRegistry(schemas *adapter.SchemaRegistry) {
	p.schemas = schemas
}

// New constructs a Processor. newGraphID mints a fresh graph id each time a
// PLAN node commits to a subgraph of children.
func New(
	g *graph.TaskGraph,
	resolver *orccontext.Resolver,
	ks *knowledge.Store,
	registry *adapter.Registry,
	coord *hitl.Coordinator,
	ledger *trace.Ledger,
	cfg Config,
	log telemetry.Logger,
	tracer telemetry.Tracer,
	newGraphID func() string,
) *Processor {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Processor{
		g: g, resolver: resolver, ks: ks, registry: registry, coord: coord,
		ledger: ledger, cfg: cfg, log: log, tracer: tracer, graphCounter: newGraphID,
	}
}

// Process dispatches n according to its current (status, node_type). It
// never lets an adapter error propagate: failures transition n to FAILED
// with the error recorded.
func (p *Processor) Process(ctx context.Context, n *graph.TaskNode) {
	snap := n.Snapshot()
	ctx, span := p.tracer.Start(ctx, "process."+string(snap.Status))
	defer span.End()

	var err error
	switch {
	case snap.Status == graph.StatusReady && snap.NodeType == graph.NodePlan:
		err = p.processPlanReady(ctx, n)
	case snap.Status == graph.StatusReady && snap.NodeType == graph.NodeExecute:
		err = p.processExecuteReady(ctx, n)
	case snap.Status == graph.StatusAggregating:
		err = p.processAggregating(ctx, n)
	case snap.Status == graph.StatusNeedsReplan:
		err = p.processNeedsReplan(ctx, n)
	default:
		err = fmt.Errorf("process: no handler for status %s node_type %s", snap.Status, snap.NodeType)
	}

	if err != nil {
		span.SetError(err)
		p.fail(n, err)
	}
}

// fail records err on n and drives it to a terminal status. A reviewer
// abort is not a failure: it forces CANCELLED with the reviewer's reason
// recorded as the node's output summary instead of routing through FAILED.
func (p *Processor) fail(n *graph.TaskNode, err error) {
	var aborted *orcerrors.HITLAborted
	if errors.As(err, &aborted) {
		n.Mu.Lock()
		n.Err = err.Error()
		n.OutputSummary = fmt.Sprintf("aborted at checkpoint %s: %s", aborted.CheckpointName, aborted.Reason)
		n.Mu.Unlock()
		if !n.ForceStatus(graph.StatusCancelled) {
			p.log.Error(context.Background(), "failed to force CANCELLED transition", "task_id", n.TaskID, "err", err.Error())
		}
		p.ks.Upsert(n)
		return
	}

	n.Mu.Lock()
	n.Err = err.Error()
	n.Mu.Unlock()
	if !n.ForceStatus(graph.StatusFailed) {
		p.log.Error(context.Background(), "failed to force FAILED transition", "task_id", n.TaskID, "err", err.Error())
	}
	p.ks.Upsert(n)
}

// processPlanReady implements the READY/PLAN row: Atomizer decides whether
// to run directly as an EXECUTE node, else Planner produces children.
func (p *Processor) processPlanReady(ctx context.Context, n *graph.TaskNode) error {
	snap := n.Snapshot()
	input := p.resolver.Resolve(n, false)
	stage := p.ledger.Open(snap.TaskID, "atomize", input)

	if !n.TrySetStatus(graph.StatusReady, graph.StatusRunning) {
		stage.Close(nil, nil, fmt.Errorf("could not enter RUNNING"))
		return fmt.Errorf("process: node %s not in READY", snap.TaskID)
	}

	set := p.registry.Resolve(snap.TaskType)
	forcedAtomic := snap.Layer >= p.cfg.MaxPlanningLayer

	var atomize adapter.AtomizeResult
	var err error
	if forcedAtomic {
		atomize = adapter.AtomizeResult{IsAtomic: true, RefinedGoal: snap.Goal}
	} else if set.Atomizer != nil {
		resp, aerr := p.coord.Review(ctx, hitl.CheckpointAfterAtomizer, snap.Layer, hitl.Review{
			CheckpointName: hitl.CheckpointAfterAtomizer, NodeID: snap.TaskID, ContextMessage: snap.Goal,
		})
		if aerr != nil {
			stage.Close(nil, nil, aerr)
			return aerr
		}
		if resp.Verdict == hitl.VerdictAbort {
			stage.Close(nil, nil, nil)
			return hitl.AbortError(snap.TaskID, hitl.CheckpointAfterAtomizer, resp.Reason)
		}
		atomize, err = set.Atomizer.Atomize(ctx, input)
		if err != nil {
			wrapped := orcerrors.NewAdapterError(snap.TaskID, string(adapter.VerbAtomize), err)
			stage.Close(nil, nil, wrapped)
			return wrapped
		}
	} else {
		atomize = adapter.AtomizeResult{IsAtomic: true, RefinedGoal: snap.Goal}
	}
	stage.Close(atomize, nil, nil)

	if atomize.IsAtomic {
		n.Mu.Lock()
		n.NodeType = graph.NodeExecute
		if atomize.RefinedGoal != "" {
			n.Goal = atomize.RefinedGoal
		}
		n.WasExecutedAsAtomic = true
		n.Mu.Unlock()
		return p.runExecute(ctx, n, set)
	}

	return p.runPlan(ctx, n, set, input, "")
}

// processExecuteReady implements the READY/EXECUTE row.
func (p *Processor) processExecuteReady(ctx context.Context, n *graph.TaskNode) error {
	if !n.TrySetStatus(graph.StatusReady, graph.StatusRunning) {
		return fmt.Errorf("process: node %s not in READY", n.TaskID)
	}
	set := p.registry.Resolve(n.Snapshot().TaskType)
	return p.runExecute(ctx, n, set)
}

func (p *Processor) runExecute(ctx context.Context, n *graph.TaskNode, set adapter.Set) error {
	snap := n.Snapshot()
	input := p.resolver.Resolve(n, false)
	n.Mu.Lock()
	n.InputPayload = input
	n.Mu.Unlock()
	stage := p.ledger.Open(snap.TaskID, "execute", input)

	resp, err := p.coord.Review(ctx, hitl.CheckpointBeforeExecute, snap.Layer, hitl.Review{
		CheckpointName: hitl.CheckpointBeforeExecute, NodeID: snap.TaskID, ContextMessage: snap.Goal,
	})
	if err != nil {
		stage.Close(nil, nil, err)
		return err
	}
	if resp.Verdict == hitl.VerdictAbort {
		stage.Close(nil, nil, nil)
		return hitl.AbortError(snap.TaskID, hitl.CheckpointBeforeExecute, resp.Reason)
	}

	if p.schemas != nil {
		if verr := p.schemas.Validate(snap.TaskType, input); verr != nil {
			stage.Close(nil, nil, verr)
			return verr
		}
	}

	if set.Executor == nil {
		err := &orcerrors.AdapterError{TaskID: snap.TaskID, Verb: string(adapter.VerbExecute), Err: fmt.Errorf("no executor registered for task type %s", snap.TaskType)}
		stage.Close(nil, nil, err)
		return err
	}
	result, rerr := set.Executor.Execute(ctx, input)
	if rerr != nil {
		wrapped := orcerrors.NewAdapterError(snap.TaskID, string(adapter.VerbExecute), rerr)
		stage.Close(nil, nil, wrapped)
		return wrapped
	}
	stage.Close(result, nil, nil)

	n.Mu.Lock()
	n.Result = result.Result
	n.OutputSummary = result.OutputSummary
	n.Mu.Unlock()

	target := graph.StatusDone
	if n.Snapshot().WasExecutedAsAtomic {
		// A PLAN node that became atomic finishes through PLAN_DONE so
		// CycleManager's settle pass can route it straight to DONE.
		target = graph.StatusPlanDone
	}
	if !n.TrySetStatus(graph.StatusRunning, target) {
		return fmt.Errorf("process: node %s could not transition RUNNING -> %s", n.TaskID, target)
	}
	p.ks.Upsert(n)
	return nil
}

// runPlan implements the non-atomic branch of READY/PLAN: Planner produces
// children, which are added to a freshly minted subgraph.
func (p *Processor) runPlan(ctx context.Context, n *graph.TaskNode, set adapter.Set, input orccontext.AgentTaskInput, modificationInstructions string) error {
	snap := n.Snapshot()
	n.Mu.Lock()
	n.InputPayload = input
	n.Mu.Unlock()
	stageName := "plan"
	checkpoint := hitl.CheckpointAfterPlanGeneration
	if modificationInstructions != "" {
		stageName = "modify_plan"
		checkpoint = hitl.CheckpointAfterModifiedPlan
	}
	stage := p.ledger.Open(snap.TaskID, stageName, input)

	var planResult adapter.PlanResult
	var err error
	if modificationInstructions != "" {
		if set.PlanModifier == nil {
			e := &orcerrors.AdapterError{TaskID: snap.TaskID, Verb: string(adapter.VerbModify), Err: fmt.Errorf("no plan modifier registered")}
			stage.Close(nil, nil, e)
			return e
		}
		planResult, err = set.PlanModifier.ModifyPlan(ctx, input, modificationInstructions)
	} else {
		if set.Planner == nil {
			e := &orcerrors.AdapterError{TaskID: snap.TaskID, Verb: string(adapter.VerbPlan), Err: fmt.Errorf("no planner registered")}
			stage.Close(nil, nil, e)
			return e
		}
		planResult, err = set.Planner.Plan(ctx, input)
	}
	if err != nil {
		wrapped := orcerrors.NewAdapterError(snap.TaskID, string(adapter.VerbPlan), err)
		stage.Close(nil, nil, wrapped)
		return wrapped
	}
	stage.Close(planResult, nil, nil)

	resp, rerr := p.coord.Review(ctx, checkpoint, snap.Layer, hitl.Review{
		CheckpointName: checkpoint, NodeID: snap.TaskID, DataForReview: planResult,
	})
	if rerr != nil {
		return rerr
	}
	if resp.Verdict == hitl.VerdictAbort {
		return hitl.AbortError(snap.TaskID, checkpoint, resp.Reason)
	}
	if resp.Verdict == hitl.VerdictRequestModification {
		n.Mu.Lock()
		n.ReplanAttempts++
		n.Mu.Unlock()
		return p.runPlan(ctx, n, set, input, resp.ModificationInstructions)
	}

	if err := p.commitPlan(n, planResult); err != nil {
		return err
	}
	if !n.TrySetStatus(graph.StatusRunning, graph.StatusPlanDone) {
		return fmt.Errorf("process: node %s could not transition RUNNING -> PLAN_DONE", n.TaskID)
	}
	p.ks.Upsert(n)
	return nil
}

// commitPlan creates the child nodes, registers a new subgraph, adds
// dependency edges per depends_on_indices, and records the children's ids
// and the subgraph id on the parent.
func (p *Processor) commitPlan(n *graph.TaskNode, planResult adapter.PlanResult) error {
	snap := n.Snapshot()
	subGraphID := p.graphCounter()
	if err := p.g.AddGraph(subGraphID, false); err != nil {
		return fmt.Errorf("process: create subgraph: %w", err)
	}

	childIDs := make([]string, len(planResult.SubTasks))
	for i, st := range planResult.SubTasks {
		childID := fmt.Sprintf("%s.%d.%d", snap.TaskID, snap.ReplanAttempts, i)
		child := graph.NewTaskNode(childID, st.Goal, snap.OverallObjective, snap.Layer+1, st.TaskType, st.NodeType)
		child.ParentNodeID = snap.TaskID
		if err := p.g.AddNodeToGraph(subGraphID, child); err != nil {
			return fmt.Errorf("process: add child %s: %w", childID, err)
		}
		childIDs[i] = childID
		p.ks.Upsert(child)
	}
	for i, st := range planResult.SubTasks {
		for _, depIdx := range st.DependsOnIndices {
			if depIdx < 0 || depIdx >= len(childIDs) {
				continue
			}
			if err := p.g.AddEdge(subGraphID, childIDs[depIdx], childIDs[i]); err != nil {
				return fmt.Errorf("process: add edge: %w", err)
			}
		}
	}

	n.Mu.Lock()
	n.SubGraphID = subGraphID
	n.PlannedSubTaskIDs = childIDs
	n.Mu.Unlock()
	return nil
}

// processAggregating implements the AGGREGATING/PLAN row: Aggregator
// synthesizes the subgraph's children into this node's own result.
func (p *Processor) processAggregating(ctx context.Context, n *graph.TaskNode) error {
	snap := n.Snapshot()
	input := p.resolver.Resolve(n, true)
	n.Mu.Lock()
	n.InputPayload = input
	n.Mu.Unlock()
	stage := p.ledger.Open(snap.TaskID, "aggregate", input)

	set := p.registry.Resolve(snap.TaskType)
	if set.Aggregator == nil {
		err := &orcerrors.AdapterError{TaskID: snap.TaskID, Verb: string(adapter.VerbAggregate), Err: fmt.Errorf("no aggregator registered for task type %s", snap.TaskType)}
		stage.Close(nil, nil, err)
		return err
	}
	result, err := set.Aggregator.Aggregate(ctx, input)
	if err != nil {
		wrapped := orcerrors.NewAdapterError(snap.TaskID, string(adapter.VerbAggregate), err)
		stage.Close(nil, nil, wrapped)
		return wrapped
	}
	stage.Close(result, nil, nil)

	n.Mu.Lock()
	n.Result = result.Result
	n.OutputSummary = result.OutputSummary
	n.Mu.Unlock()

	if result.NeedsReplan {
		n.Mu.Lock()
		n.ReplanDetails = &graph.ReplanRequestDetails{Reason: result.ReplanReason}
		n.Mu.Unlock()
		if !n.TrySetStatus(graph.StatusAggregating, graph.StatusNeedsReplan) {
			return fmt.Errorf("process: node %s could not transition AGGREGATING -> NEEDS_REPLAN", n.TaskID)
		}
		p.ks.Upsert(n)
		return nil
	}
	if !n.TrySetStatus(graph.StatusAggregating, graph.StatusDone) {
		return fmt.Errorf("process: node %s could not transition AGGREGATING -> DONE", n.TaskID)
	}
	p.ks.Upsert(n)
	return nil
}

// processNeedsReplan re-enters planning for a node whose children failed or
// whose aggregation determined the plan was insufficient.
func (p *Processor) processNeedsReplan(ctx context.Context, n *graph.TaskNode) error {
	snap := n.Snapshot()
	set := p.registry.Resolve(snap.TaskType)
	input := p.resolver.Resolve(n, false)

	instructions := ""
	if snap.ReplanDetails != nil {
		instructions = snap.ReplanDetails.UserModificationInstructions
		if instructions == "" {
			instructions = snap.ReplanDetails.Reason
		}
	}
	if instructions == "" {
		instructions = "prior plan failed; revise"
	}

	if !n.TrySetStatus(graph.StatusNeedsReplan, graph.StatusRunning) {
		return fmt.Errorf("process: node %s not in NEEDS_REPLAN", snap.TaskID)
	}
	n.Mu.Lock()
	n.ReplanAttempts++
	n.Mu.Unlock()
	return p.runPlan(ctx, n, set, input, instructions)
}
