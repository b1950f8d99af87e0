// Package cycle implements CycleManager: one tick of the scheduler, five
// ordered phases per step, with the parallel phase fanned out across
// goroutines bounded by an errgroup.
package cycle

import (
	"context"

	"golang.org/x/sync/errgroup"

	"goa.design/taskorchestrator/broadcast"
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/knowledge"
	"goa.design/taskorchestrator/process"
	"goa.design/taskorchestrator/state"
	"goa.design/taskorchestrator/telemetry"
)

// settleBound caps the number of passes phase 4 makes to let cascades of
// PLAN_DONE -> AGGREGATING/DONE/NEEDS_REPLAN settle within one step.
const settleBound = 10

// Config bounds the parallel fan-out of phase 3.
type Config struct {
	MaxConcurrentNodes int
}

// Manager runs a single Step of the five-phase cycle against one TaskGraph.
type Manager struct {
	g       *graph.TaskGraph
	sm      *state.Manager
	ks      *knowledge.Store
	proc    *process.Processor
	bcast   broadcast.Broadcaster
	cfg     Config
	log     telemetry.Logger
}

// New constructs a Manager.
func New(g *graph.TaskGraph, sm *state.Manager, ks *knowledge.Store, proc *process.Processor, bcast broadcast.Broadcaster, cfg Config, log telemetry.Logger) *Manager {
	if bcast == nil {
		bcast = broadcast.NoopBroadcaster{}
	}
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if cfg.MaxConcurrentNodes <= 0 {
		cfg.MaxConcurrentNodes = 8
	}
	return &Manager{g: g, sm: sm, ks: ks, proc: proc, bcast: bcast, cfg: cfg, log: log}
}

// Step runs the five phases in order, stopping after the first phase that
// performs work, and reports whether anything changed.
func (m *Manager) Step(ctx context.Context) bool {
	if m.promotePendingToReady(ctx) {
		return true
	}
	if m.processOneAggregating(ctx) {
		return true
	}
	if m.processReadyFanOut(ctx) {
		return true
	}
	if m.advancePlanDone(ctx) {
		return true
	}
	if m.processOneNeedsReplan(ctx) {
		return true
	}
	return false
}

// promotePendingToReady is phase 1.
func (m *Manager) promotePendingToReady(ctx context.Context) bool {
	changed := false
	for _, n := range m.g.GetAllNodes() {
		if n.Snapshot().Status != graph.StatusPending {
			continue
		}
		if !m.sm.CanBecomeReady(n) {
			continue
		}
		if n.TrySetStatus(graph.StatusPending, graph.StatusReady) {
			changed = true
			m.notifyState(ctx, n.TaskID, string(graph.StatusPending), string(graph.StatusReady))
			m.ks.Upsert(n)
		}
	}
	return changed
}

// processOneAggregating is phase 2: aggregation is serialized to keep
// aggregator context coherent.
func (m *Manager) processOneAggregating(ctx context.Context) bool {
	for _, n := range m.g.GetAllNodes() {
		if n.Snapshot().Status != graph.StatusAggregating {
			continue
		}
		before := n.Snapshot().Status
		m.proc.Process(ctx, n)
		after := n.Snapshot().Status
		m.notifyState(ctx, n.TaskID, string(before), string(after))
		return true
	}
	return false
}

// processReadyFanOut is phase 3: every READY node runs concurrently,
// bounded by cfg.MaxConcurrentNodes.
func (m *Manager) processReadyFanOut(ctx context.Context) bool {
	var ready []*graph.TaskNode
	for _, n := range m.g.GetAllNodes() {
		if n.Snapshot().Status == graph.StatusReady {
			ready = append(ready, n)
		}
	}
	if len(ready) == 0 {
		return false
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(m.cfg.MaxConcurrentNodes)
	for _, n := range ready {
		n := n
		grp.Go(func() error {
			before := n.Snapshot().Status
			m.proc.Process(gctx, n)
			after := n.Snapshot().Status
			m.notifyState(ctx, n.TaskID, string(before), string(after))
			return nil
		})
	}
	_ = grp.Wait()
	return true
}

// advancePlanDone is phase 4: settle PLAN_DONE nodes up to settleBound
// passes, routing each to AGGREGATING, NEEDS_REPLAN, or directly to DONE.
func (m *Manager) advancePlanDone(ctx context.Context) bool {
	anyChanged := false
	for pass := 0; pass < settleBound; pass++ {
		changedThisPass := false
		for _, n := range m.g.GetAllNodes() {
			snap := n.Snapshot()
			if snap.Status != graph.StatusPlanDone {
				continue
			}
			if snap.WasExecutedAsAtomic {
				if n.TrySetStatus(graph.StatusPlanDone, graph.StatusDone) {
					changedThisPass = true
					m.notifyState(ctx, n.TaskID, string(graph.StatusPlanDone), string(graph.StatusDone))
					m.ks.Upsert(n)
				}
				continue
			}
			if snap.SubGraphID != "" && m.sm.AnyChildFailed(snap.SubGraphID) {
				n.Mu.Lock()
				if n.ReplanDetails == nil {
					n.ReplanDetails = &graph.ReplanRequestDetails{Reason: "one or more children failed"}
				}
				n.Mu.Unlock()
				if n.TrySetStatus(graph.StatusPlanDone, graph.StatusNeedsReplan) {
					changedThisPass = true
					m.notifyState(ctx, n.TaskID, string(graph.StatusPlanDone), string(graph.StatusNeedsReplan))
					m.ks.Upsert(n)
				}
				continue
			}
			if m.sm.CanAggregate(n) {
				if n.TrySetStatus(graph.StatusPlanDone, graph.StatusAggregating) {
					changedThisPass = true
					m.notifyState(ctx, n.TaskID, string(graph.StatusPlanDone), string(graph.StatusAggregating))
					m.ks.Upsert(n)
				}
			}
		}
		if changedThisPass {
			anyChanged = true
		} else {
			break
		}
	}
	return anyChanged
}

// processOneNeedsReplan is phase 5: serialized, like aggregation.
func (m *Manager) processOneNeedsReplan(ctx context.Context) bool {
	for _, n := range m.g.GetAllNodes() {
		if n.Snapshot().Status != graph.StatusNeedsReplan {
			continue
		}
		before := n.Snapshot().Status
		m.proc.Process(ctx, n)
		after := n.Snapshot().Status
		m.notifyState(ctx, n.TaskID, string(before), string(after))
		return true
	}
	return false
}

func (m *Manager) notifyState(ctx context.Context, taskID, from, to string) {
	if from == to {
		return
	}
	m.bcast.OnStateChanged(ctx, broadcast.StateChange{TaskID: taskID, From: from, To: to})
}
