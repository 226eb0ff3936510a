package transport

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Network is an in-process message fabric. Links between attached nodes can
// be cut and restored; each change is reported to both ends as a liveness
// event, the way a heartbeat layer would report it after its deadtime.
type Network struct {
	mu        sync.Mutex
	keepalive time.Duration
	buses     map[string]*MemoryBus
	cut       map[link]bool
	failSends map[string]int
}

type link struct{ a, b string }

func linkOf(a, b string) link {
	if a > b {
		a, b = b, a
	}
	return link{a, b}
}

// NewNetwork creates an empty network whose buses report keepalive.
func NewNetwork(keepalive time.Duration) *Network {
	return &Network{
		keepalive: keepalive,
		buses:     make(map[string]*MemoryBus),
		cut:       make(map[link]bool),
		failSends: make(map[string]int),
	}
}

// Attach connects a node. Reachable peers see it become active and the new
// bus sees every reachable peer as active.
func (n *Network) Attach(name string) *MemoryBus {
	n.mu.Lock()
	defer n.mu.Unlock()

	if old, ok := n.buses[name]; ok && !old.closed {
		panic(fmt.Sprintf("transport: node %q attached twice", name))
	}
	b := &MemoryBus{net: n, name: name, in: newInbox()}
	n.buses[name] = b

	for _, peer := range n.sortedNames() {
		if peer == name || !n.reachableLocked(name, peer) {
			continue
		}
		n.buses[peer].in.pushEvent(NodeEvent{Node: name, Status: StatusActive})
		b.in.pushEvent(NodeEvent{Node: peer, Status: StatusActive})
	}
	return b
}

// Detach removes a node as if it crashed.
func (n *Network) Detach(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	b, ok := n.buses[name]
	if !ok {
		return
	}
	for _, peer := range n.sortedNames() {
		if peer == name || !n.reachableLocked(name, peer) {
			continue
		}
		n.buses[peer].in.dropFrom(map[string]bool{name: true})
		n.buses[peer].in.pushEvent(NodeEvent{Node: name, Status: StatusDead})
	}
	b.closed = true
	delete(n.buses, name)
}

// Partition cuts every link between nodes of different groups. Nodes not
// named in any group keep their links.
func (n *Network) Partition(groups ...[]string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	group := make(map[string]int)
	for gi, g := range groups {
		for _, name := range g {
			group[name] = gi
		}
	}
	names := make([]string, 0, len(group))
	for name := range group {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, a := range names {
		for _, b := range names[i+1:] {
			if group[a] != group[b] {
				n.setLinkLocked(a, b, false)
			}
		}
	}
}

// Cut severs the link between a and b.
func (n *Network) Cut(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setLinkLocked(a, b, false)
}

// Restore re-establishes the link between a and b.
func (n *Network) Restore(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.setLinkLocked(a, b, true)
}

// Heal restores every cut link.
func (n *Network) Heal() {
	n.mu.Lock()
	defer n.mu.Unlock()
	cut := make([]link, 0, len(n.cut))
	for l := range n.cut {
		cut = append(cut, l)
	}
	sort.Slice(cut, func(i, j int) bool {
		if cut[i].a != cut[j].a {
			return cut[i].a < cut[j].a
		}
		return cut[i].b < cut[j].b
	})
	for _, l := range cut {
		n.setLinkLocked(l.a, l.b, true)
	}
}

// FailSends makes the next count sends from name return ErrSendFailed.
func (n *Network) FailSends(name string, count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failSends[name] = count
}

// Pending reports the number of undelivered envelopes across all buses.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, b := range n.buses {
		total += b.in.pending()
	}
	return total
}

// Reachable reports whether a and b are attached and linked.
func (n *Network) Reachable(a, b string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reachableLocked(a, b)
}

func (n *Network) setLinkLocked(a, b string, up bool) {
	if a == b {
		return
	}
	l := linkOf(a, b)
	before := n.reachableLocked(a, b)
	if up {
		delete(n.cut, l)
	} else {
		n.cut[l] = true
	}
	after := n.reachableLocked(a, b)
	if before == after {
		return
	}

	status := StatusActive
	if !after {
		status = StatusDead
		n.buses[a].in.dropFrom(map[string]bool{b: true})
		n.buses[b].in.dropFrom(map[string]bool{a: true})
	}
	n.buses[a].in.pushEvent(NodeEvent{Node: b, Status: status})
	n.buses[b].in.pushEvent(NodeEvent{Node: a, Status: status})
}

func (n *Network) reachableLocked(a, b string) bool {
	if _, ok := n.buses[a]; !ok {
		return false
	}
	if _, ok := n.buses[b]; !ok {
		return false
	}
	return a == b || !n.cut[linkOf(a, b)]
}

func (n *Network) sortedNames() []string {
	names := make([]string, 0, len(n.buses))
	for name := range n.buses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Network) consumeFailure(name string) bool {
	if n.failSends[name] > 0 {
		n.failSends[name]--
		return true
	}
	return false
}

// MemoryBus is one node's attachment to a Network.
type MemoryBus struct {
	net    *Network
	name   string
	in     *inbox
	closed bool
}

func (b *MemoryBus) LocalNode() string { return b.name }

func (b *MemoryBus) Keepalive() time.Duration { return b.net.keepalive }

func (b *MemoryBus) NodeStatus(node string) Status {
	if b.net.Reachable(b.name, node) {
		return StatusActive
	}
	return StatusDead
}

func (b *MemoryBus) Broadcast(payload []byte) error {
	n := b.net
	n.mu.Lock()
	defer n.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if n.consumeFailure(b.name) {
		return ErrSendFailed
	}
	for _, peer := range n.sortedNames() {
		if n.reachableLocked(b.name, peer) {
			n.buses[peer].in.push(Envelope{From: b.name, Payload: clone(payload)})
		}
	}
	return nil
}

// SendTo silently discards payloads for unreachable peers.
func (b *MemoryBus) SendTo(node string, payload []byte) error {
	n := b.net
	n.mu.Lock()
	defer n.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if n.consumeFailure(b.name) {
		return ErrSendFailed
	}
	if n.reachableLocked(b.name, node) {
		n.buses[node].in.push(Envelope{From: b.name, To: node, Payload: clone(payload)})
	}
	return nil
}

func (b *MemoryBus) TryRecv() (Envelope, bool) { return b.in.pop() }

func (b *MemoryBus) TryEvent() (NodeEvent, bool) { return b.in.popEvent() }

func (b *MemoryBus) Ready() <-chan struct{} { return b.in.ready }

// Close detaches the node from its network.
func (b *MemoryBus) Close() error {
	b.net.Detach(b.name)
	return nil
}

func clone(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

var _ Bus = (*MemoryBus)(nil)
