package ccm

import (
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
)

type updateEntry struct {
	index     int
	uptime    uint32
	candidate bool
}

type memlistRequest struct {
	index int
	major uint32
}

// updateTable collects the nodes heard during a round. The leader is the
// lowest candidate index.
type updateTable struct {
	entries  []updateEntry
	leader   int
	initTime time.Time
	requests []memlistRequest
}

func newUpdateTable() *updateTable {
	return &updateTable{leader: -1}
}

func (t *updateTable) reset(now time.Time) {
	t.entries = t.entries[:0]
	t.leader = -1
	t.initTime = now
	t.requests = t.requests[:0]
}

func (t *updateTable) find(index int) int {
	for i, e := range t.entries {
		if e.index == index {
			return i
		}
	}
	return -1
}

func (t *updateTable) has(index int) bool { return t.find(index) >= 0 }

// add ignores nodes already present.
func (t *updateTable) add(index int, uptime uint32, candidate bool) {
	if t.has(index) {
		return
	}
	if len(t.entries) >= bitmap.MaxNodes {
		invariantf("update table overflow adding %d", index)
	}
	t.entries = append(t.entries, updateEntry{index: index, uptime: uptime, candidate: candidate})
	if candidate && (t.leader < 0 || index < t.leader) {
		t.leader = index
	}
}

func (t *updateTable) remove(index int) {
	i := t.find(index)
	if i < 0 {
		return
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)

	t.leader = -1
	for _, e := range t.entries {
		if e.candidate && (t.leader < 0 || e.index < t.leader) {
			t.leader = e.index
		}
	}

	kept := t.requests[:0]
	for _, r := range t.requests {
		if r.index != index {
			kept = append(kept, r)
		}
	}
	t.requests = kept
}

func (t *updateTable) count() int { return len(t.entries) }

func (t *updateTable) leaderIndex() int { return t.leader }

func (t *updateTable) bitmap() bitmap.Set {
	var s bitmap.Set
	for _, e := range t.entries {
		s.Add(e.index)
	}
	return s
}

// uptime is 0 for nodes not in the table.
func (t *updateTable) uptime(index int) uint32 {
	if i := t.find(index); i >= 0 {
		return t.entries[i].uptime
	}
	return 0
}

func (t *updateTable) expired(now time.Time, d time.Duration) bool {
	return now.Sub(t.initTime) >= d
}

// cacheRequest remembers a REQ_MEMLIST until a reply can be sent. A newer
// request from the same node replaces the older one.
func (t *updateTable) cacheRequest(index int, major uint32) {
	for i, r := range t.requests {
		if r.index == index {
			t.requests[i].major = major
			return
		}
	}
	t.requests = append(t.requests, memlistRequest{index: index, major: major})
}

func (t *updateTable) takeRequests() []memlistRequest {
	out := make([]memlistRequest, len(t.requests))
	copy(out, t.requests)
	t.requests = t.requests[:0]
	return out
}
