// Package persistence defines Snapshotter: the structural round-trip
// contract a storage backend implements to persist and restore a project's
// graph, knowledge records, and trace entries.
package persistence

import (
	"context"
	"fmt"
	"time"

	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/knowledge"
	"goa.design/taskorchestrator/trace"
)

// NodeSnapshot is the serializable form of a graph.TaskNode.
type NodeSnapshot struct {
	graph.Snapshot
	InputPayload any
	AuxData      map[string]any
}

// EdgeSnapshot records one predecessor -> successor edge within a graph.
type EdgeSnapshot struct {
	GraphID string
	From    string
	To      string
}

// GraphMembershipSnapshot records which nodes belong to which DAG.
type GraphMembershipSnapshot struct {
	GraphID string
	IsRoot  bool
	NodeIDs []string
}

// Snapshot is a full structural capture of one project's state, sufficient
// to reconstruct an equivalent graph.TaskGraph, knowledge.Store, and
// trace.Ledger.
type Snapshot struct {
	ProjectID          string
	OverallProjectGoal string
	RootGraphID        string
	TakenAt            time.Time

	Nodes      []NodeSnapshot
	Graphs     []GraphMembershipSnapshot
	Edges      []EdgeSnapshot
	Knowledge  []knowledge.Record
	TraceByTaskID map[string][]trace.Entry
}

// Snapshotter persists and restores a Snapshot. Implementations need not be
// transactional across Nodes/Graphs/Edges/Knowledge — callers call Save
// once per checkpoint with a fully assembled Snapshot.
type Snapshotter interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context, projectID string) (Snapshot, error)
}

// BuildSnapshot walks g, ks, and ledger to assemble a Snapshot for projectID.
func BuildSnapshot(projectID string, g *graph.TaskGraph, ks *knowledge.Store, ledger *trace.Ledger) Snapshot {
	nodes := g.GetAllNodes()
	snap := Snapshot{
		ProjectID:          projectID,
		OverallProjectGoal: g.OverallProjectGoal,
		RootGraphID:        g.RootGraphID(),
		TakenAt:            time.Now(),
		TraceByTaskID:      make(map[string][]trace.Entry, len(nodes)),
	}
	for _, n := range nodes {
		s := n.Snapshot()
		n.Mu.Lock()
		inputPayload, aux := n.InputPayload, n.AuxData
		n.Mu.Unlock()
		snap.Nodes = append(snap.Nodes, NodeSnapshot{Snapshot: s, InputPayload: inputPayload, AuxData: aux})
		snap.TraceByTaskID[s.TaskID] = ledger.For(s.TaskID)
	}
	for _, summary := range g.ExportGraphs() {
		snap.Graphs = append(snap.Graphs, GraphMembershipSnapshot{
			GraphID: summary.ID,
			IsRoot:  summary.IsRoot,
			NodeIDs: summary.NodeIDs,
		})
		for _, e := range summary.Edges {
			snap.Edges = append(snap.Edges, EdgeSnapshot{GraphID: summary.ID, From: e[0], To: e[1]})
		}
	}
	for _, v := range ks.All() {
		snap.Knowledge = append(snap.Knowledge, v)
	}
	return snap
}

// Restore is the inverse of BuildSnapshot: it rebuilds a live TaskGraph,
// Store, and Ledger from a Snapshot, giving the serialize/reload round trip
// a typed Go equivalent. The rebuilt TaskGraph's RootGraphID matches
// snap.RootGraphID because graph membership (including which GraphSummary
// carries IsRoot) is replayed verbatim from snap.Graphs.
func Restore(snap Snapshot) (*graph.TaskGraph, *knowledge.Store, *trace.Ledger, error) {
	nodeInputs := make([]graph.RestoreNodeInput, len(snap.Nodes))
	for i, ns := range snap.Nodes {
		nodeInputs[i] = graph.RestoreNodeInput{
			Snapshot:     ns.Snapshot,
			InputPayload: ns.InputPayload,
			AuxData:      ns.AuxData,
		}
	}

	graphSummaries := make([]graph.GraphSummary, len(snap.Graphs))
	edgesByGraph := make(map[string][][2]string, len(snap.Graphs))
	for _, e := range snap.Edges {
		edgesByGraph[e.GraphID] = append(edgesByGraph[e.GraphID], [2]string{e.From, e.To})
	}
	for i, gm := range snap.Graphs {
		graphSummaries[i] = graph.GraphSummary{
			ID:      gm.GraphID,
			IsRoot:  gm.IsRoot,
			NodeIDs: gm.NodeIDs,
			Edges:   edgesByGraph[gm.GraphID],
		}
	}

	g, err := graph.Restore(snap.OverallProjectGoal, nodeInputs, graphSummaries)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("persistence: restore graph: %w", err)
	}

	ks := knowledge.Restore(snap.Knowledge)
	ledger := trace.Restore(snap.TraceByTaskID)

	return g, ks, ledger, nil
}
