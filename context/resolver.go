// Package context builds the AgentTaskInput payload handed to an adapter
// immediately before dispatch: the node's own goal plus a pruned set of
// context items drawn from predecessors, ancestors, and (for aggregation)
// children. Redundant upstream sources are pruned by transitive-dependency
// subset comparison, recomputed fresh for each resolve call.
package context

import (
	"goa.design/taskorchestrator/graph"
	"goa.design/taskorchestrator/knowledge"
)

// ContentType describes what a ContextItem's Content holds.
type ContentType string

const (
	ContentSummary ContentType = "summary"
	ContentResult  ContentType = "result"
	ContentGoal    ContentType = "goal"
)

// ContextItem is one piece of upstream information folded into a node's
// input.
type ContextItem struct {
	SourceTaskID            string
	SourceTaskGoal          string
	ContentTypeDescription  ContentType
	Content                 any
}

// AgentTaskInput is the payload built for a single adapter invocation.
type AgentTaskInput struct {
	CurrentGoal          string
	OverallObjective     string
	RelevantContextItems []ContextItem
}

// Resolver builds AgentTaskInput values against a fixed TaskGraph and
// KnowledgeStore.
type Resolver struct {
	g  *graph.TaskGraph
	ks *knowledge.Store
}

// New constructs a Resolver.
func New(g *graph.TaskGraph, ks *knowledge.Store) *Resolver {
	return &Resolver{g: g, ks: ks}
}

// Resolve assembles the input for node n. isAggregation selects whether
// children (rather than predecessors/ancestors) are the primary context
// source.
func (r *Resolver) Resolve(n *graph.TaskNode, isAggregation bool) AgentTaskInput {
	snap := n.Snapshot()
	tracker := newDependencyChainTracker(r.g)

	var items []ContextItem
	seen := make(map[string]bool)
	add := func(src *graph.TaskNode) {
		s := src.Snapshot()
		if seen[s.TaskID] {
			return
		}
		seen[s.TaskID] = true
		items = append(items, r.itemFor(s))
	}

	if isAggregation {
		if snap.SubGraphID != "" {
			children := r.g.GetNodesInGraph(snap.SubGraphID)
			for _, c := range tracker.filterRedundant(children) {
				add(c)
			}
		}
	} else {
		if containerID, ok := r.g.ContainerGraphID(snap.TaskID); ok {
			preds := r.g.GetPredecessors(containerID, snap.TaskID)
			for _, c := range tracker.filterRedundant(preds) {
				add(c)
			}
		}
		r.walkAncestors(snap.ParentNodeID, &items, seen)
	}

	return AgentTaskInput{
		CurrentGoal:          snap.Goal,
		OverallObjective:     snap.OverallObjective,
		RelevantContextItems: items,
	}
}

// walkAncestors collects the parent's goal and continues upward through the
// hierarchy tree.
func (r *Resolver) walkAncestors(parentID string, items *[]ContextItem, seen map[string]bool) {
	for parentID != "" {
		parent := r.g.GetNode(parentID)
		if parent == nil {
			return
		}
		s := parent.Snapshot()
		if !seen[s.TaskID] {
			seen[s.TaskID] = true
			*items = append(*items, ContextItem{
				SourceTaskID:           s.TaskID,
				SourceTaskGoal:         s.Goal,
				ContentTypeDescription: ContentGoal,
				Content:                s.Goal,
			})
		}
		parentID = s.ParentNodeID
	}
}

// itemFor builds a ContextItem for src, preferring the KnowledgeStore's
// authoritative post-completion summary and falling back to live node
// fields when no record exists yet.
func (r *Resolver) itemFor(s graph.Snapshot) ContextItem {
	if rec, ok := r.ks.Get(s.TaskID); ok && rec.OutputSummary != "" {
		return ContextItem{
			SourceTaskID:           s.TaskID,
			SourceTaskGoal:         rec.Goal,
			ContentTypeDescription: ContentSummary,
			Content:                rec.OutputSummary,
		}
	}
	if s.OutputSummary != "" {
		return ContextItem{
			SourceTaskID:           s.TaskID,
			SourceTaskGoal:         s.Goal,
			ContentTypeDescription: ContentSummary,
			Content:                s.OutputSummary,
		}
	}
	return ContextItem{
		SourceTaskID:           s.TaskID,
		SourceTaskGoal:         s.Goal,
		ContentTypeDescription: ContentResult,
		Content:                s.Result,
	}
}
