// Command orchestrator-cli runs a single project to completion against a
// goal given on the command line, always using the in-memory stub adapter
// set; a config file may select the HITL transport (noop or gRPC). A short,
// self-contained wiring example rather than a full server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"goa.design/taskorchestrator/adapter"
	"goa.design/taskorchestrator/adapter/stub"
	"goa.design/taskorchestrator/broadcast"
	"goa.design/taskorchestrator/config"
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/hitl"
	"goa.design/taskorchestrator/hitl/grpctransport"
	"goa.design/taskorchestrator/project"
	"goa.design/taskorchestrator/telemetry"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	var (
		goal       = flag.String("goal", "", "root goal to execute")
		taskType   = flag.String("task-type", string(graph.TaskThink), "root task type")
		configPath = flag.String("config", "", "path to a YAML config file (defaults omitted fields)")
	)
	flag.Parse()

	if *goal == "" {
		fmt.Fprintln(os.Stderr, "orchestrator-cli: -goal is required")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "orchestrator-cli: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	log := telemetry.NewNoopLogger()
	tracer := telemetry.NewNoopTracer()

	transport := resolveTransport(cfg)

	registry := adapter.NewRegistry()
	registry.SetFallback(stub.New().AsSet())

	pc := project.New("cli-run", project.Options{
		OverallProjectGoal: *goal,
		Registry:           registry,
		HITLConfig:         cfg.HITLCoordinatorConfig(),
		HITLTransport:      transport,
		ProcessConfig:      cfg.ProcessConfig(),
		CycleConfig:        cfg.CycleConfig(),
		EngineConfig:       cfg.EngineConfig(),
		Broadcaster:        broadcast.NewLogBroadcaster(log),
		Log:                log,
		Tracer:             tracer,
	})

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout+time.Second)
		defer cancel()
	}

	root, err := pc.Run(ctx, *goal, graph.TaskType(*taskType))
	if err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator-cli: run failed: %v\n", err)
		os.Exit(1)
	}

	snap := root.Snapshot()
	fmt.Printf("root task %s finished as %s\n", snap.TaskID, snap.Status)
	fmt.Printf("summary: %s\n", snap.OutputSummary)
	if snap.Result != nil {
		fmt.Printf("result: %v\n", snap.Result)
	}
}

func resolveTransport(cfg config.Config) hitl.Transport {
	switch cfg.HITL.Transport {
	case "grpc":
		conn, err := grpc.NewClient(cfg.HITL.GRPCAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "orchestrator-cli: grpc dial %s: %v, falling back to noop\n", cfg.HITL.GRPCAddress, err)
			return hitl.NoopTransport{}
		}
		return grpctransport.NewTransport(conn)
	default:
		return hitl.NoopTransport{}
	}
}
