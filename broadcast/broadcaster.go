// Package broadcast defines UpdateBroadcaster: the sink every state change
// and graph mutation is reported to, with a subscriber-registry-plus-
// fan-out implementation for streaming those events out to listeners.
package broadcast

import (
	"context"
	"sync"

	"goa.design/taskorchestrator/telemetry"
)

// StateChange describes one node transition.
type StateChange struct {
	TaskID string
	From   string
	To     string
}

// GraphChange describes a structural graph mutation (a new graph, node, or edge).
type GraphChange struct {
	GraphID string
	Kind    string
	Detail  string
}

// Broadcaster receives notifications of scheduler activity. Implementations
// must not block the caller for long — CycleManager calls these
// synchronously, and during its parallel READY fan-out the calls come
// concurrently from the worker goroutines, so implementations must be safe
// for concurrent use.
type Broadcaster interface {
	OnStateChanged(ctx context.Context, change StateChange)
	OnGraphChanged(ctx context.Context, change GraphChange)
}

// NoopBroadcaster discards every notification.
type NoopBroadcaster struct{}

func (NoopBroadcaster) OnStateChanged(ctx context.Context, change StateChange) {}
func (NoopBroadcaster) OnGraphChanged(ctx context.Context, change GraphChange) {}

// LogBroadcaster logs every notification via a telemetry.Logger.
type LogBroadcaster struct {
	Log telemetry.Logger
}

// NewLogBroadcaster constructs a LogBroadcaster.
func NewLogBroadcaster(log telemetry.Logger) *LogBroadcaster {
	return &LogBroadcaster{Log: log}
}

func (b *LogBroadcaster) OnStateChanged(ctx context.Context, change StateChange) {
	b.Log.Info(ctx, "node state changed", "task_id", change.TaskID, "from", change.From, "to", change.To)
}

func (b *LogBroadcaster) OnGraphChanged(ctx context.Context, change GraphChange) {
	b.Log.Info(ctx, "graph changed", "graph_id", change.GraphID, "kind", change.Kind, "detail", change.Detail)
}

// ChannelBroadcaster fans out notifications to any number of subscriber
// channels, dropping a notification for a subscriber whose channel is full
// rather than blocking the step loop: register/unregister under a mutex,
// fan out by iterating a snapshot of subscribers.
type ChannelBroadcaster struct {
	mu          sync.Mutex
	stateSubs   map[int]chan StateChange
	graphSubs   map[int]chan GraphChange
	nextID      int
}

// NewChannelBroadcaster constructs an empty ChannelBroadcaster.
func NewChannelBroadcaster() *ChannelBroadcaster {
	return &ChannelBroadcaster{
		stateSubs: make(map[int]chan StateChange),
		graphSubs: make(map[int]chan GraphChange),
	}
}

// SubscribeState registers a channel to receive StateChange notifications
// and returns an id usable with Unsubscribe.
func (b *ChannelBroadcaster) SubscribeState(ch chan StateChange) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.stateSubs[id] = ch
	return id
}

// SubscribeGraph registers a channel to receive GraphChange notifications
// and returns an id usable with Unsubscribe.
func (b *ChannelBroadcaster) SubscribeGraph(ch chan GraphChange) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.graphSubs[id] = ch
	return id
}

// Unsubscribe removes a previously registered subscriber.
func (b *ChannelBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stateSubs, id)
	delete(b.graphSubs, id)
}

func (b *ChannelBroadcaster) OnStateChanged(ctx context.Context, change StateChange) {
	b.mu.Lock()
	subs := make([]chan StateChange, 0, len(b.stateSubs))
	for _, ch := range b.stateSubs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (b *ChannelBroadcaster) OnGraphChanged(ctx context.Context, change GraphChange) {
	b.mu.Lock()
	subs := make([]chan GraphChange, 0, len(b.graphSubs))
	for _, ch := range b.graphSubs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- change:
		default:
		}
	}
}
