// Package trace records diagnostic TraceEntry sequences per node. Purely
// diagnostic: never read by the scheduler. An append-only, mutex-guarded
// ledger keyed by task id.
package trace

import (
	"sync"
	"time"
)

// Entry is one stage of adapter invocation recorded for a node.
type Entry struct {
	StageName      string
	Started        time.Time
	Completed      time.Time
	InputContext   any
	Response       any
	AdditionalData map[string]any
	Err            string
}

// Ledger accumulates Entry records per task id.
type Ledger struct {
	mu      sync.Mutex
	entries map[string][]*Entry
}

// NewLedger constructs an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[string][]*Entry)}
}

// Restore rebuilds a Ledger from previously captured per-task entries, as
// produced by repeated calls to For. Entries are copied in so the restored
// Ledger does not alias the caller's slices.
func Restore(byTaskID map[string][]Entry) *Ledger {
	l := &Ledger{entries: make(map[string][]*Entry, len(byTaskID))}
	for taskID, entries := range byTaskID {
		copied := make([]*Entry, len(entries))
		for i, e := range entries {
			cp := e
			copied[i] = &cp
		}
		l.entries[taskID] = copied
	}
	return l
}

// Stage represents an open trace stage; callers must call Close exactly once.
type Stage struct {
	ledger *Ledger
	taskID string
	entry  *Entry
}

// Open begins a new stage for taskID and returns a handle used to close it.
func (l *Ledger) Open(taskID, stageName string, inputContext any) *Stage {
	e := &Entry{StageName: stageName, Started: time.Now(), InputContext: inputContext}
	l.mu.Lock()
	l.entries[taskID] = append(l.entries[taskID], e)
	l.mu.Unlock()
	return &Stage{ledger: l, taskID: taskID, entry: e}
}

// Close completes the stage, recording the adapter response and/or error.
func (s *Stage) Close(response any, additional map[string]any, err error) {
	s.entry.Completed = time.Now()
	s.entry.Response = response
	s.entry.AdditionalData = additional
	if err != nil {
		s.entry.Err = err.Error()
	}
}

// For returns a copy of the recorded entries for taskID.
func (l *Ledger) For(taskID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	src := l.entries[taskID]
	out := make([]Entry, len(src))
	for i, e := range src {
		out[i] = *e
	}
	return out
}
