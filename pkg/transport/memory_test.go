package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainEvents(b *MemoryBus) []NodeEvent {
	var out []NodeEvent
	for {
		ev, ok := b.TryEvent()
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func drainMsgs(b *MemoryBus) []Envelope {
	var out []Envelope
	for {
		env, ok := b.TryRecv()
		if !ok {
			return out
		}
		out = append(out, env)
	}
}

func TestNetwork_AttachReportsPeers(t *testing.T) {
	net := NewNetwork(10 * time.Millisecond)
	a := net.Attach("a")
	b := net.Attach("b")

	assert.Equal(t, []NodeEvent{{Node: "b", Status: StatusActive}}, drainEvents(a))
	assert.Equal(t, []NodeEvent{{Node: "a", Status: StatusActive}}, drainEvents(b))
	assert.Equal(t, StatusActive, a.NodeStatus("b"))
	assert.Equal(t, StatusDead, a.NodeStatus("c"))
	assert.Equal(t, 10*time.Millisecond, a.Keepalive())
}

func TestMemoryBus_BroadcastLoopsBack(t *testing.T) {
	net := NewNetwork(time.Millisecond)
	a := net.Attach("a")
	b := net.Attach("b")

	require.NoError(t, a.Broadcast([]byte("hello")))

	gotA := drainMsgs(a)
	gotB := drainMsgs(b)
	require.Len(t, gotA, 1)
	require.Len(t, gotB, 1)
	assert.Equal(t, "a", gotA[0].From)
	assert.Equal(t, []byte("hello"), gotB[0].Payload)
	assert.Empty(t, gotB[0].To)
}

func TestMemoryBus_SendTo(t *testing.T) {
	net := NewNetwork(time.Millisecond)
	a := net.Attach("a")
	b := net.Attach("b")
	c := net.Attach("c")

	require.NoError(t, a.SendTo("b", []byte("x")))
	assert.Len(t, drainMsgs(b), 1)
	assert.Empty(t, drainMsgs(c))
	assert.Empty(t, drainMsgs(a))

	// Unreachable peers swallow unicast without an error.
	require.NoError(t, a.SendTo("nobody", []byte("x")))
}

func TestNetwork_PartitionAndHeal(t *testing.T) {
	net := NewNetwork(time.Millisecond)
	a := net.Attach("a")
	b := net.Attach("b")
	c := net.Attach("c")
	drainEvents(a)
	drainEvents(b)
	drainEvents(c)

	require.NoError(t, c.Broadcast([]byte("in flight")))
	net.Partition([]string{"a", "b"}, []string{"c"})

	assert.Equal(t, []NodeEvent{{Node: "c", Status: StatusDead}}, drainEvents(a))
	assert.Equal(t, []NodeEvent{{Node: "a", Status: StatusDead}, {Node: "b", Status: StatusDead}}, drainEvents(c))
	assert.Empty(t, drainMsgs(a), "queued frames from the far side are lost")
	assert.False(t, net.Reachable("a", "c"))
	assert.True(t, net.Reachable("a", "b"))

	require.NoError(t, a.Broadcast([]byte("ab only")))
	assert.Len(t, drainMsgs(b), 1)
	assert.Len(t, drainMsgs(c), 1, "c still sees its own broadcast")

	net.Heal()
	assert.Equal(t, []NodeEvent{{Node: "c", Status: StatusActive}}, drainEvents(a))
	assert.True(t, net.Reachable("a", "c"))
}

func TestNetwork_DetachAndFailSends(t *testing.T) {
	net := NewNetwork(time.Millisecond)
	a := net.Attach("a")
	b := net.Attach("b")
	drainEvents(a)

	net.FailSends("b", 1)
	assert.ErrorIs(t, b.Broadcast([]byte("x")), ErrSendFailed)
	assert.NoError(t, b.Broadcast([]byte("x")))

	require.NoError(t, b.Close())
	assert.Equal(t, []NodeEvent{{Node: "b", Status: StatusDead}}, drainEvents(a))
	assert.ErrorIs(t, b.Broadcast([]byte("x")), ErrClosed)
	assert.Equal(t, 0, net.Pending(), "frames from a crashed node are lost")
}

func TestMemoryBus_ReadySignal(t *testing.T) {
	net := NewNetwork(time.Millisecond)
	a := net.Attach("a")

	require.NoError(t, a.Broadcast([]byte("x")))
	select {
	case <-a.Ready():
	default:
		t.Fatal("ready not signalled")
	}
}
