package ccm

import (
	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
)

// Round kinds for metrics.
const (
	roundAlone       = "alone"
	roundFull        = "full"
	roundIncremental = "incremental"
)

// reset abandons all membership state and returns to NONE. maxTrans and
// the last settled membership survive.
func (e *Engine) reset(reason string) {
	now := e.now()
	wasMember := e.s.members.Has(e.roster.Self())

	e.logger.Info("membership reset", logging.String("reason", reason), logging.State(e.s.state.String()))
	if e.metrics != nil {
		e.metrics.RecordReset(reason)
	}

	e.s.members = bitmap.Set{}
	e.s.proto = 0
	e.s.cookie = ""
	e.s.major = 0
	e.s.minor = 0
	e.s.leader = -1
	e.s.joinedTransition = 0
	e.s.converged = false
	e.s.change.reset()
	e.setState(StateNone)

	e.table.reset(now)
	e.roster.ClearJoinRequests()
	e.roster.ClearReceivedChanges()
	e.ver.reset(now)
	e.finalListTimer.reset(now)
	e.leaves.clear()
	e.mc.reset()

	if wasMember {
		e.emit(EventEvicted)
	}
}

// newCookieFor keeps the previous cookie when a node that was alone forms
// a cluster of one again.
func (e *Engine) newCookieFor(members bitmap.Set) string {
	if e.s.lastCookie != "" && e.s.lastMembers.Equal(members) && members.Len() == 1 {
		return e.s.lastCookie
	}
	return NewCookie()
}

// initToJoined forms a cluster of one without a round.
func (e *Engine) initToJoined() {
	self := e.roster.Self()
	e.s.members = bitmap.Of(self)
	e.s.setMajor(e.s.maxTrans + 1)
	e.s.minor = 0
	e.s.cookie = e.newCookieFor(e.s.members)
	e.s.leader = self
	e.settle(roundAlone)
}

// joiningToJoined ends a round nobody else joined.
func (e *Engine) joiningToJoined() error {
	self := e.roster.Self()
	e.s.members = bitmap.Of(self)
	e.s.setMajor(max(e.s.major, e.s.maxTrans) + 1)
	e.s.minor = 0
	e.s.cookie = e.newCookieFor(e.s.members)
	e.s.leader = self
	e.settle(roundAlone)
	e.table.reset(e.now())
	return e.sendJoinReplies()
}

// settle enters JOINED and reports the membership.
func (e *Engine) settle(kind string) {
	self := e.roster.Self()
	if e.s.cookie == "" {
		invariantf("settling %s membership with an empty cookie", kind)
	}
	if !e.s.members.Has(self) {
		invariantf("settling %s membership %s without self", kind, e.s.members)
	}

	e.setState(StateJoined)
	e.s.converged = true
	if e.s.joinedTransition == 0 {
		e.s.joinedTransition = e.s.major
	}
	e.s.change.reset()
	e.roster.ClearReceivedChanges()

	if e.metrics != nil && !e.roundStart.IsZero() {
		e.metrics.RecordRound(kind, e.now().Sub(e.roundStart))
	}
	e.roundStart = e.now()

	e.report()
	e.s.lastMembers = e.s.members
	e.s.lastCookie = e.s.cookie
	e.beaconTimer.reset(e.now())
}

// enterJoining starts a full round at the current minor.
func (e *Engine) enterJoining() error {
	if e.s.state.settled() {
		e.emit(EventInflux)
		e.roundStart = e.now()
	}
	e.table.reset(e.now())
	e.setState(StateJoining)
	return e.sendJoin()
}

// restartRound retries the round at the next minor.
func (e *Engine) restartRound() error {
	e.s.change.reset()
	e.s.minor++
	return e.enterJoining()
}

// joinRound adopts a round announced by another node's JOIN.
func (e *Engine) joinRound(m *Message, from int) error {
	if e.s.state.settled() {
		e.emit(EventInflux)
		e.roundStart = e.now()
	}
	e.s.change.reset()
	e.table.reset(e.now())
	e.table.add(from, m.Uptime, true)
	e.s.minor = m.Minor
	e.setState(StateJoining)
	return e.sendJoin()
}

// allRestart throws away the current membership because another cluster
// was seen, and tells everyone to do the same.
func (e *Engine) allRestart(from int) error {
	if from == e.roster.Self() {
		return nil
	}
	if e.s.state == StateVersionRequest || !e.s.converged {
		return nil
	}
	e.logger.Info("restarting membership", logging.Peer(e.roster.Name(from)))
	e.reset("merge")
	if err := e.broadcast(&Message{Type: MsgRestart}); err != nil {
		return err
	}
	if err := e.sendProtoVersion(); err != nil {
		return err
	}
	e.setState(StateVersionRequest)
	return nil
}

// seed starts a round among the nodes currently asking to join.
func (e *Engine) seed() error {
	self := e.roster.Self()
	others := e.roster.Joiners()
	others.Remove(self)
	if others.Empty() {
		e.roster.ClearJoinRequests()
		e.initToJoined()
		return nil
	}

	e.s.cookie = NewCookie()
	e.s.setMajor(e.s.maxTrans)
	e.s.minor = 0
	e.s.proto = e.cfg.ProtoVersion
	e.logger.Info("seeding cluster", logging.Members(e.roster.Names(others)), logging.Major(e.s.major))

	var first error
	others.Each(func(i int) {
		if err := e.sendJoinReply(i, 0); err != nil && first == nil {
			first = err
		}
	})
	e.roster.ClearJoinRequests()
	if first != nil {
		return first
	}
	e.roundStart = e.now()
	return e.enterJoining()
}

// acceptInvitation joins the round a seeding node announced.
func (e *Engine) acceptInvitation(m *Message) error {
	e.s.proto = m.Proto
	e.s.cookie = m.Cookie
	e.s.setMajor(m.Major)
	e.s.minor = 0
	e.roster.ClearJoinRequests()
	e.roundStart = e.now()
	return e.enterJoining()
}

// decideRound runs once every live node has joined the round, or when the
// round timer expires.
func (e *Engine) decideRound() error {
	if e.table.leaderIndex() != e.roster.Self() {
		return e.followerReply()
	}
	if e.table.count() == 1 {
		if e.s.joinedTransition != 0 || e.ver.nresp == 0 {
			return e.joiningToJoined()
		}
		e.reset("other cluster responding")
		return nil
	}
	return e.requestMemlists()
}

// requestMemlists asks every node in the round for its view.
func (e *Engine) requestMemlists() error {
	self := e.roster.Self()
	if err := e.broadcast(e.epochMsg(MsgReqMemlist)); err != nil {
		return err
	}
	view := e.table.bitmap()
	e.mc.init(view, e.now())
	e.mc.note(self, view, e.s.maxTrans)
	e.setState(StateSentMemlistReq)
	if e.mc.allResponded() {
		return e.finalize()
	}
	return nil
}

// followerReply answers cached memlist requests and waits for the final
// list.
func (e *Engine) followerReply() error {
	ok, err := e.sendClReply()
	if err != nil || !ok {
		return err
	}
	e.finalListTimer.reset(e.now())
	e.setState(StateMemlistRes)
	return nil
}

// sendClReply answers each cached REQ_MEMLIST. Only the node we consider
// leader gets our view; others get an empty list. It reports false when
// the leader's epoch shows we were evicted.
func (e *Engine) sendClReply() (bool, error) {
	cl := e.table.leaderIndex()
	for _, req := range e.table.takeRequests() {
		if req.index == cl {
			if e.s.joinedTransition != 0 && req.major != e.s.major {
				e.logger.Info("evicted by leader", logging.Peer(e.roster.Name(cl)), logging.Major(req.major))
				e.reset("evicted")
				return false, nil
			}
			if err := e.sendMemlistTo(cl, e.table.bitmap()); err != nil {
				return false, err
			}
			continue
		}
		if err := e.sendMemlistTo(req.index, bitmap.Set{}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (e *Engine) sendMemlistTo(i int, view bitmap.Set) error {
	m := e.epochMsg(MsgResMemlist)
	m.Memlist = view
	m.MaxTrans = e.s.maxTrans
	return e.sendTo(i, m)
}

// finalize settles the largest fully connected group around the leader.
func (e *Engine) finalize() error {
	self := e.roster.Self()
	clique := e.mc.cliqueWith(self)
	newMajor := max(e.mc.maxTransOf(clique), e.s.maxTrans) + 1

	var nc string
	if !clique.Equal(e.s.members) {
		nc = NewCookie()
	}

	final := e.epochMsg(MsgFinalMemlist)
	final.Memlist = clique
	final.MaxTrans = newMajor
	final.NewCookie = nc
	if err := e.broadcast(final); err != nil {
		return err
	}

	e.s.members = clique
	e.s.setMajor(newMajor)
	e.s.minor = 0
	if nc != "" {
		e.s.cookie = nc
	}
	e.s.leader = self
	e.settle(roundFull)
	e.mc.reset()
	e.table.reset(e.now())
	return e.sendJoinReplies()
}

// beginChange starts collecting acknowledgements for an incremental
// change.
func (e *Engine) beginChange(kind changeKind, node int, maxTrans uint32) {
	e.s.change.reset()
	e.table.reset(e.now())
	owed := e.s.members.Len()
	if kind == changeLeave {
		owed--
	}
	e.s.change = change{kind: kind, node: node, pending: owed, maxTrans: maxTrans}
	e.roundStart = e.now()
	e.changeTimer.reset(e.now())
}

// ackChange records member i's acknowledgement.
func (e *Engine) ackChange(i int, uptime uint32) {
	e.s.change.ack(i)
	e.roster.SetReceivedChange(i, true)
	e.table.add(i, uptime, false)
}

// advanceChange applies the change once every member acknowledged it.
func (e *Engine) advanceChange() error {
	if e.s.change.complete() {
		return e.applyChange()
	}
	e.setState(StateWaitForChange)
	return nil
}

// applyChange publishes the new membership to everyone.
func (e *Engine) applyChange() error {
	self := e.roster.Self()
	c := e.s.change

	members := e.s.members
	switch c.kind {
	case changeNew:
		members.Add(c.node)
	case changeLeave:
		members.Remove(c.node)
	default:
		invariantf("applying empty change")
	}
	newMajor := max(e.s.major, c.maxTrans, e.s.maxTrans) + 1
	if c.kind == changeNew {
		e.table.add(c.node, newMajor, false)
	}

	nc := NewCookie()
	ul := make([]uint32, 0, members.Len())
	members.Each(func(i int) { ul = append(ul, e.table.uptime(i)) })

	msg := e.epochMsg(MsgMemList)
	msg.Memlist = members
	msg.UptimeList = ul
	msg.MaxTrans = newMajor
	msg.NewCookie = nc
	if err := e.broadcast(msg); err != nil {
		return err
	}

	e.logger.Info("applying change",
		logging.String("kind", c.kind.String()),
		logging.Peer(e.roster.Name(c.node)),
		logging.Major(newMajor))

	e.s.members = members
	e.s.setMajor(newMajor)
	e.s.minor = 0
	e.s.cookie = nc
	e.s.leader = self
	e.settle(roundIncremental)
	e.table.reset(e.now())
	return e.sendJoinReplies()
}

// abandonAdmission gives up on a node some member never confirmed, which
// happens when the newcomer cannot reach every member. The node is refused
// for a while so it settles on its own instead of asking again.
func (e *Engine) abandonAdmission() error {
	c := e.s.change
	e.refused[c.node] = e.now().Add(e.t.refusal)
	e.logger.Info("admission abandoned",
		logging.Peer(e.roster.Name(c.node)),
		logging.Duration("refused_for", e.t.refusal))

	e.s.change.reset()
	e.roster.ClearReceivedChanges()
	if c.acked.Without(bitmap.Of(e.roster.Self())).Empty() {
		e.table.reset(e.now())
		e.setState(StateJoined)
		return nil
	}
	// Members that acknowledged wait for a MEM_LIST.
	return e.reannounce()
}

// reannounce settles the unchanged membership at a new major so members
// waiting on a change move on. The cookie stays.
func (e *Engine) reannounce() error {
	born := make(map[int]uint32)
	if e.lastReport != nil {
		for _, m := range e.lastReport.Members {
			born[m.Index] = m.BornOn
		}
	}
	newMajor := max(e.s.major, e.s.maxTrans) + 1

	e.table.reset(e.now())
	ul := make([]uint32, 0, e.s.members.Len())
	e.s.members.Each(func(i int) {
		ul = append(ul, born[i])
		e.table.add(i, born[i], false)
	})

	msg := e.epochMsg(MsgMemList)
	msg.Memlist = e.s.members
	msg.UptimeList = ul
	msg.MaxTrans = newMajor
	if err := e.broadcast(msg); err != nil {
		return err
	}

	e.s.setMajor(newMajor)
	e.s.minor = 0
	e.s.leader = e.roster.Self()
	e.settle(roundIncremental)
	e.table.reset(e.now())
	return e.sendJoinReplies()
}

// isRefused reports whether node i is still refused admission.
func (e *Engine) isRefused(i int) bool {
	until, ok := e.refused[i]
	if !ok {
		return false
	}
	if !e.now().Before(until) {
		delete(e.refused, i)
		return false
	}
	return true
}

// adoptMemList settles the membership a leader broadcast in MEM_LIST.
func (e *Engine) adoptMemList(m *Message, from int) error {
	self := e.roster.Self()
	if len(m.UptimeList) != m.Memlist.Len() {
		return e.protocolErrorf(m, "uptime list has %d entries for %d members", len(m.UptimeList), m.Memlist.Len())
	}
	if !m.Memlist.Has(self) {
		e.logger.Info("not in new membership", logging.Peer(m.Origin))
		e.reset("evicted")
		return nil
	}

	e.table.reset(e.now())
	for k, i := range m.Memlist.Members() {
		e.table.add(i, m.UptimeList[k], false)
	}
	e.s.members = m.Memlist
	e.s.setMajor(m.MaxTrans)
	e.s.minor = 0
	if m.NewCookie != "" {
		e.s.cookie = m.NewCookie
	}
	e.s.leader = from
	e.roster.ClearJoinRequests()
	e.settle(roundIncremental)
	return nil
}
