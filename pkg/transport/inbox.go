package transport

import "sync"

// inbox queues received envelopes and liveness events for a bus and
// signals readiness on a one-slot channel.
type inbox struct {
	mu     sync.Mutex
	msgs   []Envelope
	events []NodeEvent
	ready  chan struct{}
}

func newInbox() *inbox {
	return &inbox{ready: make(chan struct{}, 1)}
}

func (in *inbox) signal() {
	select {
	case in.ready <- struct{}{}:
	default:
	}
}

func (in *inbox) push(env Envelope) {
	in.mu.Lock()
	in.msgs = append(in.msgs, env)
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) pushEvent(ev NodeEvent) {
	in.mu.Lock()
	in.events = append(in.events, ev)
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) pop() (Envelope, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.msgs) == 0 {
		return Envelope{}, false
	}
	env := in.msgs[0]
	in.msgs[0] = Envelope{}
	in.msgs = in.msgs[1:]
	return env, true
}

func (in *inbox) popEvent() (NodeEvent, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.events) == 0 {
		return NodeEvent{}, false
	}
	ev := in.events[0]
	in.events = in.events[1:]
	return ev, true
}

// dropFrom discards queued envelopes sent by any node in from.
func (in *inbox) dropFrom(from map[string]bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	kept := in.msgs[:0]
	for _, env := range in.msgs {
		if !from[env.From] {
			kept = append(kept, env)
		}
	}
	in.msgs = kept
}

func (in *inbox) pending() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.msgs)
}
