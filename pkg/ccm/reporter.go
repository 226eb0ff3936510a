package ccm

import (
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/pubsub"
)

// EventType names a client event.
type EventType string

const (
	EventNewMembership EventType = "NEW_MEMBERSHIP"
	EventInflux        EventType = "INFLUX"
	EventEvicted       EventType = "EVICTED"
)

// Member is one node of a reported membership.
type Member struct {
	Name   string `json:"name"`
	UUID   string `json:"uuid"`
	Index  int    `json:"index"`
	BornOn uint32 `json:"born_on"`
}

// Report describes a settled membership.
type Report struct {
	Node       string    `json:"node"`
	Transition uint32    `json:"transition"`
	Cookie     string    `json:"cookie"`
	Leader     string    `json:"leader"`
	Members    []Member  `json:"members"`
	Quorum     bool      `json:"quorum"`
	At         time.Time `json:"at"`
}

// MemberNames lists the member names in index order.
func (r Report) MemberNames() []string {
	out := make([]string, len(r.Members))
	for i, m := range r.Members {
		out[i] = m.Name
	}
	return out
}

// Event is a client notification.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Node       string    `json:"node"`
	Transition uint32    `json:"transition"`
	At         time.Time `json:"at"`
}

// Subscribe registers fn for every Report and returns a function that
// removes it. fn runs on the engine goroutine and must not call back into
// the engine.
func (e *Engine) Subscribe(fn func(Report)) func() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subsMu.Lock()
		defer e.subsMu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) hasQuorum() bool {
	if e.cfg.QuorumOverride != nil {
		return *e.cfg.QuorumOverride
	}
	return e.s.members.Len()*2 > e.roster.Len()
}

// report publishes the membership just settled.
func (e *Engine) report() Report {
	now := e.now()
	r := Report{
		Node:       e.roster.Name(e.roster.Self()),
		Transition: e.s.major,
		Cookie:     e.s.cookie,
		Quorum:     e.hasQuorum(),
		At:         now,
	}
	if e.s.leader >= 0 {
		r.Leader = e.roster.Name(e.s.leader)
	}
	e.s.members.Each(func(i int) {
		node := e.roster.Node(i)
		born := e.table.uptime(i)
		if born == 0 {
			born = e.s.major
		}
		r.Members = append(r.Members, Member{
			Name:   node.Name,
			UUID:   node.UUID.String(),
			Index:  i,
			BornOn: born,
		})
	})

	e.logger.Info("membership settled",
		logging.Major(r.Transition),
		logging.Cookie(r.Cookie),
		logging.String("leader", r.Leader),
		logging.Members(r.MemberNames()),
		logging.Bool("quorum", r.Quorum))

	e.lastReport = &r
	if e.metrics != nil {
		e.metrics.UpdateMembership(uint64(r.Transition), len(r.Members), e.s.leader == e.roster.Self(), r.Quorum, now)
	}
	if e.publisher != nil {
		e.publisher.Publish(pubsub.TopicMembership, r)
	}

	e.subsMu.Lock()
	subs := make([]func(Report), 0, len(e.subs))
	for id := uint64(0); id < e.nextSub; id++ {
		if fn, ok := e.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	e.subsMu.Unlock()
	for _, fn := range subs {
		fn(r)
	}

	e.emit(EventNewMembership)
	return r
}

func (e *Engine) emit(t EventType) {
	ev := Event{
		ID:         uuid.NewString(),
		Type:       t,
		Node:       e.roster.Name(e.roster.Self()),
		Transition: e.s.major,
		At:         e.now(),
	}
	e.logger.Debug("client event", logging.String("event", string(t)), logging.Major(ev.Transition))
	if e.metrics != nil {
		e.metrics.RecordEvent(string(t))
	}
	if e.publisher != nil {
		e.publisher.Publish(pubsub.TopicEvents, ev)
	}
}
