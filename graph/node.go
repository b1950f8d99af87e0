// Package graph defines TaskNode and TaskGraph: the data model and
// structural invariants of the task hierarchy/dependency graph. The package
// performs structural checks (duplicate ids, missing references, cycles)
// and enforces the status transition table; readiness and aggregation
// predicates are the state package's concern.
package graph

import (
	"sync"
	"time"
)

// Status is a TaskNode lifecycle state. See transitions and CanTransition
// for the legal transition table.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusReady        Status = "READY"
	StatusRunning      Status = "RUNNING"
	StatusPlanDone     Status = "PLAN_DONE"
	StatusAggregating  Status = "AGGREGATING"
	StatusDone         Status = "DONE"
	StatusFailed       Status = "FAILED"
	StatusNeedsReplan  Status = "NEEDS_REPLAN"
	StatusCancelled    Status = "CANCELLED"
)

// Terminal reports whether s is one of the terminal statuses {DONE, FAILED, CANCELLED}.
func Terminal(s Status) bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions enumerates the legal (from, to) pairs, plus the explicit
// retry edges (DONE/FAILED -> NEEDS_REPLAN style reopening).
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusReady: true, StatusRunning: true, StatusFailed: true, StatusCancelled: true,
	},
	StatusReady: {
		StatusRunning: true, StatusFailed: true, StatusCancelled: true,
	},
	StatusRunning: {
		StatusDone: true, StatusPlanDone: true, StatusFailed: true, StatusNeedsReplan: true, StatusCancelled: true,
	},
	StatusPlanDone: {
		StatusAggregating: true, StatusFailed: true, StatusNeedsReplan: true, StatusDone: true,
	},
	StatusAggregating: {
		StatusDone: true, StatusFailed: true, StatusNeedsReplan: true,
	},
	StatusNeedsReplan: {
		StatusReady: true, StatusRunning: true, StatusFailed: true, StatusCancelled: true,
	},
	StatusDone: {
		StatusNeedsReplan: true,
	},
	StatusFailed: {
		StatusReady: true, StatusNeedsReplan: true,
	},
	StatusCancelled: {},
}

// CanTransition reports whether moving from -> to is legal per the status
// table. PLAN_DONE -> DONE is a direct atomic-execution shortcut, taken by
// a PLAN node the atomizer decided not to decompose, rather than routing
// every PLAN node through AGGREGATING.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// TaskType names the kind of work a node performs.
type TaskType string

const (
	TaskWrite           TaskType = "WRITE"
	TaskThink           TaskType = "THINK"
	TaskSearch          TaskType = "SEARCH"
	TaskAggregate       TaskType = "AGGREGATE"
	TaskCodeInterpret   TaskType = "CODE_INTERPRET"
	TaskImageGeneration TaskType = "IMAGE_GENERATION"
)

// NodeType distinguishes decomposing PLAN nodes from acting EXECUTE nodes.
type NodeType string

const (
	NodePlan    NodeType = "PLAN"
	NodeExecute NodeType = "EXECUTE"
)

// ReplanRequestDetails is carried on a node that has transitioned to
// NEEDS_REPLAN, describing why and (optionally) what a human asked to change.
type ReplanRequestDetails struct {
	Reason                       string
	FailedChildIDs               []string
	UserModificationInstructions string
}

// TaskNode is the atom of work: one subtask in the hierarchy/dependency
// graph. Status transitions are guarded by Mu; readers that only need a
// point-in-time view should prefer Snapshot over touching fields directly
// under a held lock elsewhere.
type TaskNode struct {
	Mu sync.Mutex

	TaskID       string
	Layer        int
	ParentNodeID string
	SubGraphID   string

	Goal             string
	OverallObjective string
	TaskType         TaskType
	NodeType         NodeType

	Status              Status
	Result              any
	OutputSummary       string
	Err                 string
	AgentName           string
	InputPayload        any
	PlannedSubTaskIDs   []string
	ReplanAttempts      int
	ReplanDetails       *ReplanRequestDetails
	WasExecutedAsAtomic bool
	AuxData             map[string]any

	Created   time.Time
	Updated   time.Time
	Completed time.Time

	// statusEnteredAt is the instant Status last changed; the engine's
	// stuck-node recovery reads this via StatusEnteredAt while holding Mu.
	statusEnteredAt time.Time
}

// NewTaskNode constructs a node in PENDING status with timestamps set to now.
func NewTaskNode(taskID, goal, overallObjective string, layer int, taskType TaskType, nodeType NodeType) *TaskNode {
	now := time.Now()
	return &TaskNode{
		TaskID:           taskID,
		Layer:            layer,
		Goal:             goal,
		OverallObjective: overallObjective,
		TaskType:         taskType,
		NodeType:         nodeType,
		Status:           StatusPending,
		AuxData:          make(map[string]any),
		Created:          now,
		Updated:          now,
		statusEnteredAt:  now,
	}
}

// Snapshot is an immutable, lock-free copy of a node's fields taken under
// the node's lock. Callers walking many nodes (ContextResolver, diagnostics)
// should snapshot rather than hold many locks at once.
type Snapshot struct {
	TaskID              string
	Layer               int
	ParentNodeID        string
	SubGraphID          string
	Goal                string
	OverallObjective    string
	TaskType            TaskType
	NodeType            NodeType
	Status              Status
	Result              any
	OutputSummary       string
	Err                 string
	AgentName           string
	PlannedSubTaskIDs   []string
	ReplanAttempts      int
	ReplanDetails       *ReplanRequestDetails
	WasExecutedAsAtomic bool
	Created             time.Time
	Updated             time.Time
	Completed           time.Time
	StatusEnteredAt     time.Time
}

// Snapshot takes a point-in-time, lock-free copy of the node.
func (n *TaskNode) Snapshot() Snapshot {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	return Snapshot{
		TaskID:              n.TaskID,
		Layer:               n.Layer,
		ParentNodeID:        n.ParentNodeID,
		SubGraphID:          n.SubGraphID,
		Goal:                n.Goal,
		OverallObjective:    n.OverallObjective,
		TaskType:            n.TaskType,
		NodeType:            n.NodeType,
		Status:              n.Status,
		Result:              n.Result,
		OutputSummary:       n.OutputSummary,
		Err:                 n.Err,
		AgentName:           n.AgentName,
		PlannedSubTaskIDs:   append([]string(nil), n.PlannedSubTaskIDs...),
		ReplanAttempts:      n.ReplanAttempts,
		ReplanDetails:       n.ReplanDetails,
		WasExecutedAsAtomic: n.WasExecutedAsAtomic,
		Created:             n.Created,
		Updated:             n.Updated,
		Completed:           n.Completed,
		StatusEnteredAt:     n.statusEnteredAt,
	}
}

// RestoreNode reconstructs a TaskNode directly in a previously captured
// Snapshot's state, together with the input payload and auxiliary data that
// live outside Snapshot. Unlike NewTaskNode it does not start the node at
// PENDING: used by Restore to rebuild nodes from persisted state without
// replaying the transition table that governs live status changes.
func RestoreNode(s Snapshot, inputPayload any, auxData map[string]any) *TaskNode {
	if auxData == nil {
		auxData = make(map[string]any)
	}
	statusEnteredAt := s.StatusEnteredAt
	if statusEnteredAt.IsZero() {
		statusEnteredAt = s.Updated
	}
	return &TaskNode{
		TaskID:              s.TaskID,
		Layer:               s.Layer,
		ParentNodeID:        s.ParentNodeID,
		SubGraphID:          s.SubGraphID,
		Goal:                s.Goal,
		OverallObjective:    s.OverallObjective,
		TaskType:            s.TaskType,
		NodeType:            s.NodeType,
		Status:              s.Status,
		Result:              s.Result,
		OutputSummary:       s.OutputSummary,
		Err:                 s.Err,
		AgentName:           s.AgentName,
		InputPayload:        inputPayload,
		PlannedSubTaskIDs:   append([]string(nil), s.PlannedSubTaskIDs...),
		ReplanAttempts:      s.ReplanAttempts,
		ReplanDetails:       s.ReplanDetails,
		WasExecutedAsAtomic: s.WasExecutedAsAtomic,
		AuxData:             auxData,
		Created:             s.Created,
		Updated:             s.Updated,
		Completed:           s.Completed,
		statusEnteredAt:     statusEnteredAt,
	}
}

// StatusEnteredAt returns the instant the node's current status began,
// used by the engine's stuck-node escalation.
func (n *TaskNode) StatusEnteredAt() time.Time {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	return n.statusEnteredAt
}

// TrySetStatus atomically transitions the node from `from` to `to` if the
// node's current status still equals `from` and the transition is legal.
// Returns false (no mutation) otherwise — callers use this to implement a
// compare-and-set pattern without taking a separate lock.
func (n *TaskNode) TrySetStatus(from, to Status) bool {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	if n.Status != from {
		return false
	}
	if !CanTransition(from, to) {
		return false
	}
	n.Status = to
	now := time.Now()
	n.Updated = now
	n.statusEnteredAt = now
	if Terminal(to) {
		n.Completed = now
	}
	return true
}

// ForceStatus transitions the node to `to` regardless of a specific expected
// `from`, but still rejects the move if it is not legal from the node's
// current status. Used by stuck-node recovery, which acts on a status it
// observed moments earlier rather than one it is required to still hold.
func (n *TaskNode) ForceStatus(to Status) bool {
	n.Mu.Lock()
	defer n.Mu.Unlock()
	if !CanTransition(n.Status, to) {
		return false
	}
	n.Status = to
	now := time.Now()
	n.Updated = now
	n.statusEnteredAt = now
	if Terminal(to) {
		n.Completed = now
	}
	return true
}
