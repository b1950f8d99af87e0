// Package knowledge implements the project's KnowledgeStore: an
// append/update log of completed-node summaries keyed by task id, queried
// by the ContextResolver when assembling a node's input. An in-memory,
// mutex-guarded, last-write-wins store.
package knowledge

import (
	"sync"
	"time"

	"goa.design/taskorchestrator/graph"
)

// Record is derived from a node at each status change.
type Record struct {
	TaskID        string
	Goal          string
	Status        graph.Status
	OutputSummary string
	Result        any
	Created       time.Time
	Updated       time.Time
	Completed     time.Time
}

// Store is a concurrent map keyed by task id with last-writer-wins
// semantics.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

// New constructs an empty Store.
func New() *Store {
	return &Store{records: make(map[string]Record)}
}

// Restore rebuilds a Store directly from previously captured records, as
// produced by All, without replaying Upsert against live nodes.
func Restore(records []Record) *Store {
	s := &Store{records: make(map[string]Record, len(records))}
	for _, r := range records {
		s.records[r.TaskID] = r
	}
	return s
}

// Upsert writes (or overwrites) the record for a node's current state.
func (s *Store) Upsert(n *graph.TaskNode) {
	snap := n.Snapshot()
	rec := Record{
		TaskID:        snap.TaskID,
		Goal:          snap.Goal,
		Status:        snap.Status,
		OutputSummary: snap.OutputSummary,
		Result:        snap.Result,
		Created:       snap.Created,
		Updated:       snap.Updated,
		Completed:     snap.Completed,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[snap.TaskID] = rec
}

// Get returns the record for taskID, if any.
func (s *Store) Get(taskID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[taskID]
	return r, ok
}

// All returns a snapshot copy of every record, keyed by task id.
func (s *Store) All() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}
