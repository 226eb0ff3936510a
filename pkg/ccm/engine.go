package ccm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/metrics"
	"github.com/dd0wney/cluso-ccm/pkg/pubsub"
	"github.com/dd0wney/cluso-ccm/pkg/transport"
)

// Engine runs the membership protocol for one node.
//
// Concurrency: Start, Step, Run, NodeStatus and Leave must be called from a
// single goroutine. Snapshot, Subscribe and RequestLeave are safe from any
// goroutine.
type Engine struct {
	cfg       Config
	bus       transport.Bus
	logger    logging.Logger
	metrics   *metrics.Registry
	publisher *pubsub.PubSub
	now       func() time.Time
	sleep     func(time.Duration)

	keepalive time.Duration

	roster *Roster
	s      session
	table  *updateTable
	mc     memcomp
	ver    versionTracker
	leaves leaveCache
	t      timeouts

	beaconTimer    timer
	changeTimer    timer
	memListTimer   timer
	newNodeTimer   timer
	finalListTimer timer

	// refused holds nodes whose admission failed, until the given time.
	refused map[int]time.Time

	roundStart time.Time
	lastReport *Report
	started    bool
	stopped    bool

	subsMu  sync.Mutex
	subs    map[uint64]func(Report)
	nextSub uint64

	snapMu sync.RWMutex
	snap   Snapshot

	leaveReq chan struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records engine metrics in r.
func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithClock replaces the wall clock; simulations use a virtual one.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep replaces the pause between send retries.
func WithSleep(sleep func(time.Duration)) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithPublisher publishes reports and events on ps.
func WithPublisher(ps *pubsub.PubSub) Option {
	return func(e *Engine) { e.publisher = ps }
}

// NewEngine creates an engine for cfg.NodeName on bus.
func NewEngine(cfg Config, bus transport.Bus, opts ...Option) (*Engine, error) {
	if cfg.NodeName == "" {
		cfg.NodeName = bus.LocalNode()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ccm config: %w", err)
	}
	if bus.LocalNode() != cfg.NodeName {
		return nil, fmt.Errorf("%w: bus %q, config %q", ErrBusNodeMismatch, bus.LocalNode(), cfg.NodeName)
	}
	roster, err := NewRoster(cfg.NodeName, cfg.Roster)
	if err != nil {
		return nil, err
	}

	keepalive := cfg.Keepalive
	if keepalive == 0 {
		keepalive = bus.Keepalive()
	}

	e := &Engine{
		cfg:       cfg,
		bus:       bus,
		logger:    logging.NewNopLogger(),
		now:       time.Now,
		sleep:     time.Sleep,
		keepalive: keepalive,
		roster:    roster,
		s:         newSession(),
		table:     newUpdateTable(),
		t:         newTimeouts(keepalive),
		refused:   make(map[int]time.Time),
		subs:      make(map[uint64]func(Report)),
		leaveReq:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(logging.Component("ccm"), logging.Node(cfg.NodeName))
	return e, nil
}

// Start loads liveness from the bus and enters the protocol. A node that
// sees no live peer forms a cluster of one.
func (e *Engine) Start() error {
	if e.stopped {
		return ErrStopped
	}
	now := e.now()
	for i := 0; i < e.roster.Len(); i++ {
		if i == e.roster.Self() {
			continue
		}
		e.roster.StatusUpdate(i, e.bus.NodeStatus(e.roster.Name(i)))
	}

	e.s = newSession()
	e.table.reset(now)
	e.ver.reset(now)
	e.resetTimers(now)
	e.started = true

	live := e.roster.ActiveCount()
	e.logger.Info("ccm starting",
		logging.Int("roster", e.roster.Len()),
		logging.Int("live", live),
		logging.Duration("keepalive", e.keepalive))

	if live == 1 {
		e.initToJoined()
	} else {
		e.setState(StateNone)
	}
	e.publishSnapshot()
	return nil
}

func (e *Engine) resetTimers(now time.Time) {
	e.beaconTimer.reset(now)
	e.changeTimer.reset(now)
	e.memListTimer.reset(now)
	e.newNodeTimer.reset(now)
	e.finalListTimer.reset(now)
}

// Step applies queued liveness events, then drains the leave cache and the
// bus, and ends with one TIMEOUT so timers are checked under any load.
func (e *Engine) Step() error {
	if e.stopped {
		return ErrStopped
	}
	if !e.started {
		return ErrNotStarted
	}

	for {
		ev, ok := e.bus.TryEvent()
		if !ok {
			break
		}
		e.NodeStatus(ev.Node, ev.Status)
	}

	for !e.stopped {
		if i, ok := e.leaves.pop(); ok {
			e.handle(&Message{Type: MsgLeave, Origin: e.roster.Name(i), synthetic: true})
			continue
		}
		env, ok := e.bus.TryRecv()
		if !ok {
			break
		}
		e.receive(env)
	}

	if !e.stopped {
		e.handle(&Message{Type: MsgTimeout, Origin: e.roster.Name(e.roster.Self())})
	}
	e.publishSnapshot()
	return nil
}

// Run steps the engine whenever the bus has input and at least once per
// keepalive until ctx is done or the engine leaves.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started {
		if err := e.Start(); err != nil {
			return err
		}
	}
	ticker := time.NewTicker(e.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.leaveReq:
			return e.Leave()
		case <-e.bus.Ready():
		case <-ticker.C:
		}
		if err := e.Step(); err != nil {
			if errors.Is(err, ErrStopped) {
				return nil
			}
			return err
		}
	}
}

// NodeStatus applies a liveness change reported by the host.
func (e *Engine) NodeStatus(name string, status transport.Status) {
	i, ok := e.roster.Index(name)
	if !ok || i == e.roster.Self() {
		return
	}
	wentDown, cameUp := e.roster.StatusUpdate(i, status)
	switch {
	case wentDown:
		e.logger.Info("node down", logging.Peer(name))
		if e.s.members.Has(i) {
			e.leaves.push(i)
		}
	case cameUp:
		e.logger.Info("node up", logging.Peer(name))
		if e.s.state.PartOfCluster() {
			_ = e.sendTo(i, e.stateInfo())
		}
	}
}

// Leave announces a graceful departure and stops the engine. Peers treat
// it like a liveness loss.
func (e *Engine) Leave() error {
	if e.stopped {
		return ErrStopped
	}
	if e.started && e.s.state.PartOfCluster() {
		err := e.broadcast(&Message{Type: MsgLeave, Cookie: e.s.cookie, Major: e.s.major, Minor: e.s.minor})
		if err != nil {
			e.logger.Warn("leave announcement failed", logging.Error(err))
		}
	}
	e.logger.Info("leaving cluster", logging.Major(e.s.major))
	e.reset("leave")
	e.stopped = true
	e.publishSnapshot()
	return nil
}

// RequestLeave asks a running engine to Leave on its own goroutine. It
// returns false if a request is already pending.
func (e *Engine) RequestLeave() bool {
	select {
	case e.leaveReq <- struct{}{}:
		return true
	default:
		return false
	}
}

// receive decodes one envelope and hands it to the state machine.
func (e *Engine) receive(env transport.Envelope) {
	m, err := Decode(env.Payload)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			e.logger.Debug("ignoring non-ccm payload", logging.Peer(env.From))
			e.recordDrop("unknown")
		} else {
			e.logger.Warn("malformed message", logging.Peer(env.From), logging.Error(err))
			e.recordDrop("malformed")
		}
		return
	}
	if _, ok := e.roster.Index(env.From); !ok {
		e.logger.Debug("message from unknown node", logging.Peer(env.From), logging.MsgType(m.Type.String()))
		e.recordDrop("unknown_node")
		return
	}
	m.Origin = env.From
	if e.metrics != nil {
		e.metrics.RecordMessage("received", m.Type.String())
	}
	e.handle(m)
}

// handle runs dispatch and applies the error policy.
func (e *Engine) handle(m *Message) {
	err := e.dispatch(m)
	if err == nil {
		return
	}
	var perr *ProtocolError
	switch {
	case errors.As(err, &perr):
		e.logger.Warn("dropping message", logging.Error(err))
		e.recordDrop("protocol")
	case errors.Is(err, ErrSendFailed):
		e.logger.Error("send failed, abandoning round", logging.Error(err), logging.State(e.s.state.String()))
		if e.metrics != nil {
			e.metrics.RecordSendFailure()
		}
		e.reset("send_failure")
	default:
		e.logger.Error("handler failed", logging.Error(err), logging.MsgType(m.Type.String()))
	}
}

// dispatch applies the global filters, then the handler for the current
// state.
func (e *Engine) dispatch(m *Message) error {
	self := e.roster.Self()
	from, ok := e.roster.Index(m.Origin)
	if !ok {
		invariantf("dispatch of message from unknown node %q", m.Origin)
	}
	if m.Type == MsgLeave && from == self && !m.synthetic {
		return nil
	}
	if !e.passesEpoch(m) {
		e.logger.Debug("dropping stale message",
			logging.MsgType(m.Type.String()),
			logging.Peer(m.Origin),
			logging.State(e.s.state.String()))
		e.recordDrop("stale")
		return nil
	}
	if n := e.roster.Len(); m.Memlist.Max() >= n || m.View.Max() >= n {
		return e.protocolErrorf(m, "node set names index %d outside a roster of %d",
			max(m.Memlist.Max(), m.View.Max()), n)
	}

	switch m.Type {
	case MsgStateInfo:
		if !e.s.state.PartOfCluster() || !m.State.PartOfCluster() || m.Cookie == e.s.cookie {
			return nil
		}
		if !e.mergeable(m, from) {
			e.logger.Debug("foreign cluster not fully reachable",
				logging.Peer(m.Origin),
				logging.Cookie(m.Cookie),
				logging.Members(e.roster.Names(m.Memlist)))
			return nil
		}
		e.logger.Info("foreign cluster detected", logging.Peer(m.Origin), logging.Cookie(m.Cookie))
		return e.allRestart(from)
	case MsgRestart:
		return e.allRestart(from)
	}

	switch e.s.state {
	case StateNone:
		return e.handleNone(m)
	case StateVersionRequest:
		return e.handleVersionRequest(m, from)
	case StateJoining:
		return e.handleJoining(m, from)
	case StateSentMemlistReq:
		return e.handleSentMemlistReq(m, from)
	case StateMemlistRes:
		return e.handleMemlistRes(m, from)
	case StateJoined:
		return e.handleJoined(m, from)
	case StateWaitForChange:
		return e.handleWaitForChange(m, from)
	case StateWaitForMemList:
		return e.handleWaitForMemList(m, from)
	case StateNewNodeWaitForMemList:
		return e.handleNewNodeWait(m, from)
	}
	invariantf("dispatch in unknown state %d", int(e.s.state))
	return nil
}

// mergeable reports whether the cluster behind a foreign STATE_INFO can
// merge with ours. Two clusters that overlap always merge. Disjoint ones
// merge only when every node of both can reach every other; under a
// partial partition they stay apart instead of restarting each other.
func (e *Engine) mergeable(m *Message, from int) bool {
	if !m.viewed {
		return true
	}
	if m.Memlist.Has(e.roster.Self()) || e.s.members.Has(from) {
		return true
	}
	return e.s.members.SubsetOf(m.View) && m.Memlist.SubsetOf(e.roster.Active())
}

// stateInfo describes this node's cluster to a peer.
func (e *Engine) stateInfo() *Message {
	return &Message{
		Type:    MsgStateInfo,
		State:   e.s.state,
		Cookie:  e.s.cookie,
		Memlist: e.s.members,
		View:    e.roster.Active(),
	}
}

// passesEpoch drops messages from other epochs.
func (e *Engine) passesEpoch(m *Message) bool {
	if !e.s.state.PartOfCluster() || !m.Type.filtered() || m.synthetic {
		return true
	}
	if m.Cookie != e.s.cookie {
		if e.s.state == StateJoining && m.Type == MsgProtoVersionResp {
			e.ver.nresp++
		}
		return false
	}
	if m.Major < e.s.major {
		return false
	}
	if e.s.state == StateJoining && m.Minor < e.s.minor {
		return false
	}
	return true
}

func (e *Engine) unexpected(m *Message) error {
	e.logger.Debug("unexpected message",
		logging.MsgType(m.Type.String()),
		logging.Peer(m.Origin),
		logging.State(e.s.state.String()))
	e.recordDrop("unexpected")
	return nil
}

func (e *Engine) recordDrop(reason string) {
	if e.metrics != nil {
		e.metrics.RecordDrop(reason)
	}
}

func (e *Engine) setState(s State) {
	if e.s.state == s {
		return
	}
	e.logger.Debug("state change", logging.String("from", e.s.state.String()), logging.State(s.String()))
	e.s.state = s
	if e.metrics != nil {
		e.metrics.SetState(s.String())
	}
}

func (e *Engine) isLeader() bool { return e.s.leader == e.roster.Self() }

// Snapshot is a read-only view of the engine for admin surfaces.
type Snapshot struct {
	Node             string       `json:"node"`
	State            string       `json:"state"`
	Major            uint32       `json:"major"`
	Minor            uint32       `json:"minor"`
	MaxTrans         uint32       `json:"max_transition"`
	JoinedTransition uint32       `json:"joined_transition"`
	Cookie           string       `json:"cookie"`
	Leader           string       `json:"leader,omitempty"`
	Members          []string     `json:"members"`
	Roster           []RosterView `json:"roster"`
	Settled          bool         `json:"settled"`
	Quorum           bool         `json:"quorum"`
	Stopped          bool         `json:"stopped"`
	LastReport       *Report      `json:"last_report,omitempty"`
	At               time.Time    `json:"at"`
}

// RosterView is one roster row of a Snapshot.
type RosterView struct {
	Name   string `json:"name"`
	UUID   string `json:"uuid"`
	Index  int    `json:"index"`
	Status string `json:"status"`
	Member bool   `json:"member"`
}

// Snapshot returns the view taken after the last Step.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap
}

func (e *Engine) publishSnapshot() {
	snap := Snapshot{
		Node:             e.roster.Name(e.roster.Self()),
		State:            e.s.state.String(),
		Major:            e.s.major,
		Minor:            e.s.minor,
		MaxTrans:         e.s.maxTrans,
		JoinedTransition: e.s.joinedTransition,
		Cookie:           e.s.cookie,
		Members:          e.roster.Names(e.s.members),
		Settled:          e.s.state.settled() && !e.stopped,
		Quorum:           e.s.state.settled() && e.hasQuorum(),
		Stopped:          e.stopped,
		At:               e.now(),
	}
	if e.s.leader >= 0 {
		snap.Leader = e.roster.Name(e.s.leader)
	}
	for _, n := range e.roster.Nodes() {
		snap.Roster = append(snap.Roster, RosterView{
			Name:   n.Name,
			UUID:   n.UUID.String(),
			Index:  n.Index,
			Status: string(n.Status),
			Member: e.s.members.Has(n.Index),
		})
	}
	if e.lastReport != nil {
		r := *e.lastReport
		snap.LastReport = &r
	}

	e.snapMu.Lock()
	e.snap = snap
	e.snapMu.Unlock()
}

// Members returns the current membership as a set of roster indices.
func (e *Engine) Members() bitmap.Set { return e.s.members }

// Roster exposes the node list.
func (e *Engine) Roster() *Roster { return e.roster }
