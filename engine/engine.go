// Package engine implements ExecutionEngine: the top-level run loop over
// cycle.Manager.Step, enforcing a step budget and wall-clock timeout, and
// escalating through stuck-node recovery before declaring deadlock.
// Deadline/cancellation propagation is carried end to end via
// context.Context rather than manual wall-clock polling.
package engine

import (
	"context"
	"fmt"
	"time"

	"goa.design/taskorchestrator/cycle"
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/knowledge"
	"goa.design/taskorchestrator/orcerrors"
	"goa.design/taskorchestrator/telemetry"
)

// RecoveryThresholds configures the escalation ladder for stuck nodes.
type RecoveryThresholds struct {
	Warning time.Duration
	Soft    time.Duration
	Hard    time.Duration
	// MaxRecoveryAttempts is the number of recovery attempts (soft or hard)
	// a node may receive before the hard threshold forces FAILED instead of
	// NEEDS_REPLAN.
	MaxRecoveryAttempts int
}

// DefaultRecoveryThresholds returns a conservative escalation ladder.
func DefaultRecoveryThresholds() RecoveryThresholds {
	return RecoveryThresholds{
		Warning:             30 * time.Second,
		Soft:                2 * time.Minute,
		Hard:                5 * time.Minute,
		MaxRecoveryAttempts: 3,
	}
}

// Config bounds one Run call.
type Config struct {
	MaxSteps   int
	Timeout    time.Duration
	Recovery   RecoveryThresholds
}

// Engine runs the top-level scheduling loop for one TaskGraph.
type Engine struct {
	g       *graph.TaskGraph
	ks      *knowledge.Store
	cyc     *cycle.Manager
	cfg     Config
	log     telemetry.Logger
	tracer  telemetry.Tracer

	recoveryAttempts map[string]int
}

// New constructs an Engine.
func New(g *graph.TaskGraph, ks *knowledge.Store, cyc *cycle.Manager, cfg Config, log telemetry.Logger, tracer telemetry.Tracer) *Engine {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 1000
	}
	return &Engine{g: g, ks: ks, cyc: cyc, cfg: cfg, log: log, tracer: tracer, recoveryAttempts: make(map[string]int)}
}

// Run creates the root node, attaches it to the root graph, and loops the
// cycle until the graph reaches a terminal state, the step budget is
// exhausted, or the timeout elapses.
func (e *Engine) Run(ctx context.Context, rootGoal string, rootTaskType graph.TaskType) (*graph.TaskNode, error) {
	ctx, span := e.tracer.Start(ctx, "engine.run")
	defer span.End()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	root := graph.NewTaskNode("root", rootGoal, rootGoal, 0, rootTaskType, graph.NodePlan)
	if err := e.ensureRootGraph(); err != nil {
		return nil, err
	}
	if err := e.g.AddNodeToGraph(e.rootGraphID(), root); err != nil {
		return nil, fmt.Errorf("engine: attach root: %w", err)
	}
	root.ForceStatus(graph.StatusPending)
	e.ks.Upsert(root)

	start := time.Now()
	for step := 0; step < e.cfg.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			return e.failRoot(root, &orcerrors.TimeoutError{Elapsed: time.Since(start).String(), Budget: e.cfg.Timeout.String()})
		default:
		}

		if e.cyc.Step(ctx) {
			continue
		}

		active := e.activeNodes()
		if len(active) == 0 {
			if snap := root.Snapshot(); snap.Status == graph.StatusFailed {
				return root, fmt.Errorf("engine: root task failed: %s", snap.Err)
			}
			return root, nil
		}

		if e.recover(ctx, active) {
			continue
		}

		diag := e.diagnose(active)
		return e.failRoot(root, &orcerrors.DeadlockError{ActiveNodeCount: len(active), Diagnosis: diag})
	}

	return e.failRoot(root, &orcerrors.StepBudgetExceededError{MaxSteps: e.cfg.MaxSteps})
}

func (e *Engine) ensureRootGraph() error {
	if e.g.RootGraphID() != "" {
		return nil
	}
	return e.g.AddGraph("root-graph", true)
}

func (e *Engine) rootGraphID() string {
	if id := e.g.RootGraphID(); id != "" {
		return id
	}
	return "root-graph"
}

func (e *Engine) failRoot(root *graph.TaskNode, err error) (*graph.TaskNode, error) {
	root.Mu.Lock()
	root.Err = err.Error()
	root.Mu.Unlock()
	if root.Snapshot().Status == graph.StatusDone {
		// DONE has no direct edge to FAILED; reopen through NEEDS_REPLAN.
		root.ForceStatus(graph.StatusNeedsReplan)
	}
	root.ForceStatus(graph.StatusFailed)
	e.ks.Upsert(root)
	return root, err
}

func (e *Engine) activeNodes() []*graph.TaskNode {
	var active []*graph.TaskNode
	for _, n := range e.g.GetAllNodes() {
		if !graph.Terminal(n.Snapshot().Status) {
			active = append(active, n)
		}
	}
	return active
}
