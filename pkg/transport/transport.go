// Package transport carries membership protocol payloads between nodes and
// reports peer liveness. The membership engine only sees the Bus interface.
package transport

import (
	"errors"
	"time"
)

// Status is the raw liveness of a peer as seen by the local node.
type Status string

const (
	StatusActive Status = "active"
	StatusDead   Status = "dead"
)

// Envelope is one payload received from the bus. To is empty for
// broadcasts.
type Envelope struct {
	From    string
	To      string
	Payload []byte
}

// NodeEvent reports a liveness change of a peer.
type NodeEvent struct {
	Node   string
	Status Status
}

// Bus is a best-effort broadcast/unicast message bus with liveness events.
// Broadcasts are delivered to the sender as well. TryRecv and TryEvent never
// block; Ready is signalled whenever either may have something queued.
type Bus interface {
	LocalNode() string
	Keepalive() time.Duration
	NodeStatus(node string) Status

	Broadcast(payload []byte) error
	SendTo(node string, payload []byte) error

	TryRecv() (Envelope, bool)
	TryEvent() (NodeEvent, bool)
	Ready() <-chan struct{}

	Close() error
}

var (
	ErrClosed      = errors.New("transport: bus closed")
	ErrUnknownPeer = errors.New("transport: unknown peer")
	ErrSendFailed  = errors.New("transport: send failed")
)

// Peer is one configured cluster member reachable over a socket bus.
type Peer struct {
	Name string
	Addr string
}
