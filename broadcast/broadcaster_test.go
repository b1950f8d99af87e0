package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	infos []string
}

func (r *recordingLogger) Debug(context.Context, string, ...any) {}
func (r *recordingLogger) Info(_ context.Context, msg string, _ ...any) {
	r.infos = append(r.infos, msg)
}
func (r *recordingLogger) Warn(context.Context, string, ...any)  {}
func (r *recordingLogger) Error(context.Context, string, ...any) {}

func TestNoopBroadcasterDiscardsNotifications(t *testing.T) {
	t.Parallel()
	var b NoopBroadcaster
	b.OnStateChanged(context.Background(), StateChange{TaskID: "task-1"})
	b.OnGraphChanged(context.Background(), GraphChange{GraphID: "graph-1"})
}

func TestLogBroadcasterLogsBothKinds(t *testing.T) {
	t.Parallel()
	log := &recordingLogger{}
	b := NewLogBroadcaster(log)

	b.OnStateChanged(context.Background(), StateChange{TaskID: "task-1", From: "PENDING", To: "READY"})
	b.OnGraphChanged(context.Background(), GraphChange{GraphID: "graph-1", Kind: "node_added"})

	require.Len(t, log.infos, 2)
	assert.Equal(t, "node state changed", log.infos[0])
	assert.Equal(t, "graph changed", log.infos[1])
}

func TestChannelBroadcasterFansOutToSubscribers(t *testing.T) {
	t.Parallel()
	b := NewChannelBroadcaster()
	ch1 := make(chan StateChange, 1)
	ch2 := make(chan StateChange, 1)
	b.SubscribeState(ch1)
	id2 := b.SubscribeState(ch2)

	b.OnStateChanged(context.Background(), StateChange{TaskID: "task-1", To: "RUNNING"})

	select {
	case got := <-ch1:
		assert.Equal(t, "task-1", got.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch1")
	}
	select {
	case got := <-ch2:
		assert.Equal(t, "task-1", got.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch2")
	}

	b.Unsubscribe(id2)
	b.OnStateChanged(context.Background(), StateChange{TaskID: "task-2"})
	select {
	case got := <-ch1:
		assert.Equal(t, "task-2", got.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ch1 second notification")
	}
	select {
	case <-ch2:
		t.Fatal("unsubscribed channel should not receive further notifications")
	default:
	}
}

func TestChannelBroadcasterDropsOnFullChannelWithoutBlocking(t *testing.T) {
	t.Parallel()
	b := NewChannelBroadcaster()
	ch := make(chan StateChange) // unbuffered, never drained
	b.SubscribeState(ch)

	done := make(chan struct{})
	go func() {
		b.OnStateChanged(context.Background(), StateChange{TaskID: "task-1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnStateChanged blocked on a full subscriber channel")
	}
}

func TestChannelBroadcasterGraphFanOut(t *testing.T) {
	t.Parallel()
	b := NewChannelBroadcaster()
	ch := make(chan GraphChange, 1)
	b.SubscribeGraph(ch)

	b.OnGraphChanged(context.Background(), GraphChange{GraphID: "graph-1", Kind: "edge_added", Detail: "a->b"})

	select {
	case got := <-ch:
		assert.Equal(t, "edge_added", got.Kind)
		assert.Equal(t, "a->b", got.Detail)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for graph notification")
	}
}
