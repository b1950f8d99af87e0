// Package project bundles one in-flight project's isolated state and
// exposes an ambient "current project id" carried via context.Context —
// never a goroutine-local, so the value flows with the call chain rather
// than with the goroutine that started it.
package project

import (
	"context"
	"fmt"
	"sync/atomic"

	"goa.design/taskorchestrator/adapter"
	"goa.design/taskorchestrator/broadcast"
	orccontext "goa.design/taskorchestrator/context"
	"goa.design/taskorchestrator/cycle"
	"goa.design/taskorchestrator/engine"
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/hitl"
	"goa.design/taskorchestrator/knowledge"
	"goa.design/taskorchestrator/process"
	"goa.design/taskorchestrator/state"
	"goa.design/taskorchestrator/telemetry"
	"goa.design/taskorchestrator/trace"
)

type projectIDKey struct{}

// WithProjectID returns a context carrying id as the ambient current
// project id.
func WithProjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, projectIDKey{}, id)
}

// ProjectIDFromContext returns the ambient project id, if any.
func ProjectIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(projectIDKey{}).(string)
	return id, ok
}

// Context is a per-project bundle of every scheduling component. Projects
// never share mutable state: each Context owns its own graph, stores, and
// loop.
type Context struct {
	ID    string
	Graph *graph.TaskGraph

	Knowledge *knowledge.Store
	State     *state.Manager
	Resolver  *orccontext.Resolver
	HITL      *hitl.Coordinator
	Registry  *adapter.Registry
	Trace     *trace.Ledger
	Processor *process.Processor
	Cycle     *cycle.Manager
	Engine    *engine.Engine

	subGraphCounter atomic.Int64
}

// Options configures a new Context's components.
type Options struct {
	OverallProjectGoal string
	Registry            *adapter.Registry
	HITLConfig          hitl.Config
	HITLTransport       hitl.Transport
	ProcessConfig       process.Config
	CycleConfig         cycle.Config
	EngineConfig        engine.Config
	Broadcaster         broadcast.Broadcaster
	Log                 telemetry.Logger
	Tracer              telemetry.Tracer
}

// New wires a fresh per-project bundle. id identifies the project for
// ambient lookup via WithProjectID/ProjectIDFromContext.
func New(id string, opts Options) *Context {
	g := graph.New(opts.OverallProjectGoal)
	ks := knowledge.New()
	sm := state.New(g)
	resolver := orccontext.New(g, ks)
	coord := hitl.New(opts.HITLConfig, opts.HITLTransport, opts.Log)
	ledger := trace.NewLedger()

	pc := &Context{
		ID:        id,
		Graph:     g,
		Knowledge: ks,
		State:     sm,
		Resolver:  resolver,
		HITL:      coord,
		Registry:  opts.Registry,
		Trace:     ledger,
	}

	proc := process.New(g, resolver, ks, opts.Registry, coord, ledger, opts.ProcessConfig, opts.Log, opts.Tracer, pc.nextSubGraphID)
	pc.Processor = proc

	cyc := cycle.New(g, sm, ks, proc, opts.Broadcaster, opts.CycleConfig, opts.Log)
	pc.Cycle = cyc

	eng := engine.New(g, ks, cyc, opts.EngineConfig, opts.Log, opts.Tracer)
	pc.Engine = eng

	return pc
}

// nextSubGraphID mints a unique subgraph id. Called concurrently from
// CycleManager's parallel READY fan-out, so the counter is advanced
// atomically rather than guarded by a field increment.
func (pc *Context) nextSubGraphID() string {
	next := pc.subGraphCounter.Add(1)
	return fmt.Sprintf("%s-subgraph-%d", pc.ID, next)
}

// Run executes the project's root goal to completion via its Engine,
// carrying this project's id on ctx for the duration of the call.
func (pc *Context) Run(ctx context.Context, rootGoal string, rootTaskType graph.TaskType) (*graph.TaskNode, error) {
	ctx = WithProjectID(ctx, pc.ID)
	return pc.Engine.Run(ctx, rootGoal, rootTaskType)
}
