package ccm

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
	"github.com/dd0wney/cluso-ccm/pkg/transport"
)

// rosterNamespace seeds derived node UUIDs.
var rosterNamespace = uuid.MustParse("4c0d3f5e-7a3b-5d7e-9c61-2f1d0a6b8e42")

// NodeUUID derives the stable UUID of a node name.
func NodeUUID(name string) uuid.UUID {
	return uuid.NewSHA1(rosterNamespace, []byte(name))
}

// Node is one roster entry. Entries are never removed.
type Node struct {
	Name           string
	UUID           uuid.UUID
	Index          int
	Status         transport.Status
	JoinRequest    bool
	ReceivedChange bool
}

// Roster is the local node list. Indices follow name order, so every node
// with the same configuration agrees on them.
type Roster struct {
	nodes  []Node
	byName map[string]int
	self   int
}

// NewRoster builds a roster from configuration. All nodes start dead.
func NewRoster(local string, entries []RosterEntry) (*Roster, error) {
	if len(entries) > bitmap.MaxNodes {
		return nil, ErrRosterTooLarge
	}
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b RosterEntry) int {
		return strings.Compare(a.Name, b.Name)
	})

	r := &Roster{
		nodes:  make([]Node, len(sorted)),
		byName: make(map[string]int, len(sorted)),
		self:   -1,
	}
	for i, e := range sorted {
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, e.Name)
		}
		id := e.UUID
		if id == uuid.Nil {
			id = NodeUUID(e.Name)
		}
		r.nodes[i] = Node{Name: e.Name, UUID: id, Index: i, Status: transport.StatusDead}
		r.byName[e.Name] = i
		if e.Name == local {
			r.self = i
		}
	}
	if r.self < 0 {
		return nil, ErrNotInRoster
	}
	r.nodes[r.self].Status = transport.StatusActive
	return r, nil
}

func (r *Roster) Len() int { return len(r.nodes) }

// Self is the local node's index.
func (r *Roster) Self() int { return r.self }

// Index looks a node up by name.
func (r *Roster) Index(name string) (int, bool) {
	i, ok := r.byName[name]
	return i, ok
}

// Name returns the name at index i.
func (r *Roster) Name(i int) string {
	if i < 0 || i >= len(r.nodes) {
		invariantf("roster index %d out of range", i)
	}
	return r.nodes[i].Name
}

// Node returns a copy of the entry at index i.
func (r *Roster) Node(i int) Node {
	return r.nodes[i]
}

// Nodes returns a copy of all entries in index order.
func (r *Roster) Nodes() []Node {
	return slices.Clone(r.nodes)
}

// IsActive reports whether node i is currently live.
func (r *Roster) IsActive(i int) bool {
	return r.nodes[i].Status == transport.StatusActive
}

// ActiveCount counts live nodes, including this one.
func (r *Roster) ActiveCount() int {
	n := 0
	for _, node := range r.nodes {
		if node.Status == transport.StatusActive {
			n++
		}
	}
	return n
}

// Active returns the set of live nodes, including this one.
func (r *Roster) Active() bitmap.Set {
	var s bitmap.Set
	for i, node := range r.nodes {
		if node.Status == transport.StatusActive {
			s.Add(i)
		}
	}
	return s
}

// StatusUpdate records a liveness change and reports the transition. Any
// status other than active counts as down.
func (r *Roster) StatusUpdate(i int, status transport.Status) (wentDown, cameUp bool) {
	old := r.nodes[i].Status
	r.nodes[i].Status = status
	wasActive := old == transport.StatusActive
	isActive := status == transport.StatusActive
	return wasActive && !isActive, !wasActive && isActive
}

func (r *Roster) SetJoinRequest(i int, v bool) { r.nodes[i].JoinRequest = v }

func (r *Roster) JoinRequest(i int) bool { return r.nodes[i].JoinRequest }

func (r *Roster) ClearJoinRequests() {
	for i := range r.nodes {
		r.nodes[i].JoinRequest = false
	}
}

// Joiners returns every node with a pending join request.
func (r *Roster) Joiners() bitmap.Set {
	var s bitmap.Set
	for i, n := range r.nodes {
		if n.JoinRequest {
			s.Add(i)
		}
	}
	return s
}

// AllActiveRequested reports whether every live node has asked to join.
func (r *Roster) AllActiveRequested() bool {
	for _, n := range r.nodes {
		if n.Status == transport.StatusActive && !n.JoinRequest {
			return false
		}
	}
	return true
}

// HighestJoiner reports whether no other joiner sorts after this node.
func (r *Roster) HighestJoiner() bool {
	for i := r.self + 1; i < len(r.nodes); i++ {
		if r.nodes[i].JoinRequest {
			return false
		}
	}
	return true
}

func (r *Roster) SetReceivedChange(i int, v bool) { r.nodes[i].ReceivedChange = v }

func (r *Roster) ClearReceivedChanges() {
	for i := range r.nodes {
		r.nodes[i].ReceivedChange = false
	}
}

// Names lists the names of the members of s in index order.
func (r *Roster) Names(s bitmap.Set) []string {
	out := make([]string, 0, s.Len())
	s.Each(func(i int) {
		if i < len(r.nodes) {
			out = append(out, r.nodes[i].Name)
		}
	})
	return out
}
