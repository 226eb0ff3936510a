package ccm

import "github.com/dd0wney/cluso-ccm/pkg/bitmap"

type changeKind int

const (
	changeNone changeKind = iota
	changeNew
	changeLeave
)

func (k changeKind) String() string {
	switch k {
	case changeNew:
		return "new"
	case changeLeave:
		return "leave"
	default:
		return "none"
	}
}

// change is an incremental membership change the leader is collecting
// acknowledgements for.
type change struct {
	kind     changeKind
	node     int
	pending  int
	acked    bitmap.Set
	maxTrans uint32
}

func (c *change) reset() { *c = change{node: -1} }

func (c *change) expects(kind changeKind, node int) bool {
	return c.kind == kind && c.node == node
}

// ack counts each member once.
func (c *change) ack(i int) {
	if c.acked.Has(i) {
		return
	}
	c.acked.Add(i)
	c.pending--
	if c.pending < 0 {
		invariantf("negative ack count for %s of node %d", c.kind, c.node)
	}
}

func (c *change) complete() bool { return c.pending == 0 }

// session is the membership state of one engine.
type session struct {
	state State

	proto    uint32
	major    uint32
	minor    uint32
	maxTrans uint32 // survives resets

	// joinedTransition is the major at which this node first settled; 0
	// means never since the last reset.
	joinedTransition uint32

	leader  int
	cookie  string
	members bitmap.Set
	change  change

	converged bool
	respDrop  int

	lastMembers bitmap.Set
	lastCookie  string
}

func newSession() session {
	s := session{leader: -1}
	s.change.reset()
	return s
}

// setMajor adopts a major and keeps maxTrans the highest ever held.
func (s *session) setMajor(m uint32) {
	s.major = m
	if m > s.maxTrans {
		s.maxTrans = m
	}
}
