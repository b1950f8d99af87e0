package graph

import (
	"fmt"
	"sync"

	"goa.design/taskorchestrator/orcerrors"
)

// DAG is one dependency subgraph: a set of member node ids plus directed
// predecessor -> successor edges expressing execution order (never
// parent/child — that relationship lives on TaskNode.ParentNodeID).
type DAG struct {
	ID    string
	IsRoot bool

	nodes        map[string]struct{}
	predecessors map[string]map[string]struct{}
	successors   map[string]map[string]struct{}
}

func newDAG(id string, isRoot bool) *DAG {
	return &DAG{
		ID:           id,
		IsRoot:       isRoot,
		nodes:        make(map[string]struct{}),
		predecessors: make(map[string]map[string]struct{}),
		successors:   make(map[string]map[string]struct{}),
	}
}

// TaskGraph is the thread-safe collection of nodes and subgraphs. All
// mutations serialize through mu; reads may take the same lock or work from
// a Snapshot.
type TaskGraph struct {
	mu sync.RWMutex

	nodes       map[string]*TaskNode
	graphs      map[string]*DAG
	rootGraphID string

	OverallProjectGoal string
}

// New constructs an empty TaskGraph.
func New(overallProjectGoal string) *TaskGraph {
	return &TaskGraph{
		nodes:              make(map[string]*TaskNode),
		graphs:             make(map[string]*DAG),
		OverallProjectGoal: overallProjectGoal,
	}
}

// AddGraph creates an empty DAG under id. Fails if id already exists, or if
// isRoot is true while a root graph is already registered.
func (g *TaskGraph) AddGraph(id string, isRoot bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.graphs[id]; ok {
		return fmt.Errorf("%w: %s", orcerrors.ErrDuplicateGraph, id)
	}
	if isRoot && g.rootGraphID != "" {
		return fmt.Errorf("%w: existing root %s", orcerrors.ErrDuplicateRoot, g.rootGraphID)
	}
	g.graphs[id] = newDAG(id, isRoot)
	if isRoot {
		g.rootGraphID = id
	}
	return nil
}

// RootGraphID returns the id of the DAG containing the root node.
func (g *TaskGraph) RootGraphID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rootGraphID
}

// AddNodeToGraph places node in graphID's DAG and in the flat lookup. Fails
// if graphID is unknown or node.TaskID already exists.
func (g *TaskGraph) AddNodeToGraph(graphID string, node *TaskNode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	dag, ok := g.graphs[graphID]
	if !ok {
		return fmt.Errorf("%w: %s", orcerrors.ErrGraphNotFound, graphID)
	}
	if _, ok := g.nodes[node.TaskID]; ok {
		return fmt.Errorf("%w: %s", orcerrors.ErrDuplicateNode, node.TaskID)
	}
	g.nodes[node.TaskID] = node
	dag.nodes[node.TaskID] = struct{}{}
	return nil
}

// AddEdge records a u -> v dependency in graphID: v may not start until u is
// DONE. Fails if either node is missing from that graph, or if the edge
// would create a cycle.
func (g *TaskGraph) AddEdge(graphID, u, v string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	dag, ok := g.graphs[graphID]
	if !ok {
		return fmt.Errorf("%w: %s", orcerrors.ErrGraphNotFound, graphID)
	}
	if _, ok := dag.nodes[u]; !ok {
		return &orcerrors.GraphIntegrityError{GraphID: graphID, Reason: fmt.Sprintf("edge source %s not in graph", u)}
	}
	if _, ok := dag.nodes[v]; !ok {
		return &orcerrors.GraphIntegrityError{GraphID: graphID, Reason: fmt.Sprintf("edge target %s not in graph", v)}
	}
	if u == v {
		return &orcerrors.GraphIntegrityError{GraphID: graphID, Reason: "self edge"}
	}
	if reachable(dag.predecessors, u, v) {
		return &orcerrors.GraphIntegrityError{GraphID: graphID, Reason: fmt.Sprintf("edge %s -> %s would create a cycle", u, v)}
	}
	if dag.successors[u] == nil {
		dag.successors[u] = make(map[string]struct{})
	}
	dag.successors[u][v] = struct{}{}
	if dag.predecessors[v] == nil {
		dag.predecessors[v] = make(map[string]struct{})
	}
	dag.predecessors[v][u] = struct{}{}
	return nil
}

// reachable reports whether target is reachable from start by following
// edges in the predecessor direction already recorded (i.e. whether adding
// start -> target would close a cycle, detected by asking "can we already
// get from target back to start?").
func reachable(predecessors map[string]map[string]struct{}, start, target string) bool {
	if start == target {
		return true
	}
	visited := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == target {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for pred := range predecessors[cur] {
			stack = append(stack, pred)
		}
	}
	return false
}

// GetNode returns the node with the given id, or nil if it does not exist.
func (g *TaskGraph) GetNode(id string) *TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[id]
}

// GetAllNodes returns every node in the graph, in no particular order.
func (g *TaskGraph) GetAllNodes() []*TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*TaskNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// GetNodesInGraph returns every node that is a member of graphID.
func (g *TaskGraph) GetNodesInGraph(graphID string) []*TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dag, ok := g.graphs[graphID]
	if !ok {
		return nil
	}
	out := make([]*TaskNode, 0, len(dag.nodes))
	for id := range dag.nodes {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// GraphExists reports whether graphID has been registered.
func (g *TaskGraph) GraphExists(graphID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.graphs[graphID]
	return ok
}

// GetPredecessors returns the direct predecessors of nodeID within graphID.
func (g *TaskGraph) GetPredecessors(graphID, nodeID string) []*TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dag, ok := g.graphs[graphID]
	if !ok {
		return nil
	}
	out := make([]*TaskNode, 0, len(dag.predecessors[nodeID]))
	for id := range dag.predecessors[nodeID] {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// GetSuccessors returns the direct successors of nodeID within graphID.
func (g *TaskGraph) GetSuccessors(graphID, nodeID string) []*TaskNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	dag, ok := g.graphs[graphID]
	if !ok {
		return nil
	}
	out := make([]*TaskNode, 0, len(dag.successors[nodeID]))
	for id := range dag.successors[nodeID] {
		if n, ok := g.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// ContainerGraphID locates the DAG that owns nodeID: the parent's
// SubGraphID, or the root graph for a node with no parent. It tolerates the
// transient window in which a parent has spawned children but has not yet
// recorded its own SubGraphID by falling back to a membership search across
// every registered DAG — the graph is authoritative by membership.
func (g *TaskGraph) ContainerGraphID(nodeID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[nodeID]
	if !ok {
		return "", false
	}
	if node.ParentNodeID != "" {
		parent, ok := g.nodes[node.ParentNodeID]
		if !ok {
			return "", false
		}
		if parent.SubGraphID != "" {
			if dag, ok := g.graphs[parent.SubGraphID]; ok {
				if _, member := dag.nodes[nodeID]; member {
					return parent.SubGraphID, true
				}
			}
		}
		// Sync-gap fallback: search every graph for membership.
		for id, dag := range g.graphs {
			if _, member := dag.nodes[nodeID]; member {
				return id, true
			}
		}
		return "", false
	}
	if g.rootGraphID != "" {
		if dag, ok := g.graphs[g.rootGraphID]; ok {
			if _, member := dag.nodes[nodeID]; member {
				return g.rootGraphID, true
			}
		}
	}
	for id, dag := range g.graphs {
		if _, member := dag.nodes[nodeID]; member {
			return id, true
		}
	}
	return "", false
}

// GraphSummary describes one registered DAG's membership and edges, for
// structural persistence.
type GraphSummary struct {
	ID      string
	IsRoot  bool
	NodeIDs []string
	Edges   [][2]string // [from, to]
}

// ExportGraphs returns a GraphSummary for every registered DAG, in no
// particular order.
func (g *TaskGraph) ExportGraphs() []GraphSummary {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]GraphSummary, 0, len(g.graphs))
	for id, dag := range g.graphs {
		s := GraphSummary{ID: id, IsRoot: dag.IsRoot}
		for nodeID := range dag.nodes {
			s.NodeIDs = append(s.NodeIDs, nodeID)
		}
		for u, succs := range dag.successors {
			for v := range succs {
				s.Edges = append(s.Edges, [2]string{u, v})
			}
		}
		out = append(out, s)
	}
	return out
}

// RestoreNodeInput bundles a node's persisted Snapshot with the input
// payload and auxiliary data Snapshot omits, the shape Restore needs to
// rebuild one TaskNode.
type RestoreNodeInput struct {
	Snapshot
	InputPayload any
	AuxData      map[string]any
}

// Restore rebuilds a TaskGraph from a prior ExportGraphs/GetAllNodes
// capture: one DAG per GraphSummary (root graph included), each summary's
// nodes placed into it via RestoreNode, then each summary's edges replayed
// in order. It trusts the capture's prior acyclicity rather than
// re-deriving it — the TaskGraph that produced the capture already enforced
// DAG invariants — but AddEdge still runs, so a corrupted capture still
// fails loudly rather than silently reconstructing a broken graph.
func Restore(overallProjectGoal string, nodeInputs []RestoreNodeInput, graphs []GraphSummary) (*TaskGraph, error) {
	g := New(overallProjectGoal)

	for _, gs := range graphs {
		if err := g.AddGraph(gs.ID, gs.IsRoot); err != nil {
			return nil, fmt.Errorf("graph: restore graph %s: %w", gs.ID, err)
		}
	}

	byID := make(map[string]RestoreNodeInput, len(nodeInputs))
	for _, ni := range nodeInputs {
		byID[ni.TaskID] = ni
	}

	for _, gs := range graphs {
		for _, nodeID := range gs.NodeIDs {
			ni, ok := byID[nodeID]
			if !ok {
				return nil, fmt.Errorf("graph: restore graph %s: node %s has no snapshot", gs.ID, nodeID)
			}
			node := RestoreNode(ni.Snapshot, ni.InputPayload, ni.AuxData)
			if err := g.AddNodeToGraph(gs.ID, node); err != nil {
				return nil, fmt.Errorf("graph: restore node %s: %w", nodeID, err)
			}
		}
	}

	for _, gs := range graphs {
		for _, e := range gs.Edges {
			if err := g.AddEdge(gs.ID, e[0], e[1]); err != nil {
				return nil, fmt.Errorf("graph: restore edge %s -> %s in %s: %w", e[0], e[1], gs.ID, err)
			}
		}
	}

	return g, nil
}

// SetSubGraphID records graphID as node's SubGraphID under the node's own
// lock, used when a PLAN node commits to a freshly created DAG of children
// or when stuck-node recovery backfills a parent's sub-graph reference.
func (n *TaskNode) SetSubGraphID(graphID string) {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	n.SubGraphID = graphID
}
