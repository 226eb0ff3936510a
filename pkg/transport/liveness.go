package transport

import (
	"sort"
	"sync"
	"time"
)

// liveness turns beacon arrivals into active/dead transitions. A peer is
// dead until its first beacon and again once deadtime passes without one.
type liveness struct {
	mu       sync.Mutex
	deadtime time.Duration
	lastSeen map[string]time.Time
	status   map[string]Status
}

func newLiveness(peers []string, deadtime time.Duration) *liveness {
	l := &liveness{
		deadtime: deadtime,
		lastSeen: make(map[string]time.Time, len(peers)),
		status:   make(map[string]Status, len(peers)),
	}
	for _, p := range peers {
		l.status[p] = StatusDead
	}
	return l
}

// seen records traffic from node and reports a dead to active transition.
func (l *liveness) seen(node string, now time.Time) (NodeEvent, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, known := l.status[node]
	if !known {
		return NodeEvent{}, false
	}
	l.lastSeen[node] = now
	if st == StatusActive {
		return NodeEvent{}, false
	}
	l.status[node] = StatusActive
	return NodeEvent{Node: node, Status: StatusActive}, true
}

// sweep marks silent peers dead, in name order.
func (l *liveness) sweep(now time.Time) []NodeEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []NodeEvent
	for node, st := range l.status {
		if st == StatusActive && now.Sub(l.lastSeen[node]) > l.deadtime {
			l.status[node] = StatusDead
			out = append(out, NodeEvent{Node: node, Status: StatusDead})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

func (l *liveness) get(node string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.status[node]; ok {
		return st
	}
	return StatusDead
}

// active counts peers currently considered alive.
func (l *liveness) active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, st := range l.status {
		if st == StatusActive {
			n++
		}
	}
	return n
}
