package ccm

import "github.com/dd0wney/cluso-ccm/pkg/logging"

func (e *Engine) handleJoined(m *Message, from int) error {
	self := e.roster.Self()

	switch m.Type {
	case MsgProtoVersionResp:
		return nil

	case MsgProtoVersion:
		if from != self && e.isLeader() && !e.isRefused(from) {
			return e.sendJoinReply(from, e.s.members.Len())
		}
		return nil

	case MsgJoin:
		return e.joinFromSteady(m, from)

	case MsgLeave:
		if !e.s.members.Has(from) {
			return nil
		}
		if from == e.s.leader {
			e.logger.Info("leader left", logging.Peer(m.Origin))
			e.s.change.reset()
			return e.enterJoining()
		}
		if e.isLeader() {
			return e.leaderSawLeave(from)
		}
		return nil

	case MsgNodeLeaveNotice:
		node, ok := e.roster.Index(m.Node)
		if !ok || node == self || !e.s.members.Has(node) || e.isLeader() || from != e.s.leader {
			return e.unexpected(m)
		}
		reply := e.epochMsg(MsgNodeLeave)
		reply.Node = m.Node
		reply.Uptime = e.s.joinedTransition
		if err := e.sendTo(e.s.leader, reply); err != nil {
			return err
		}
		e.memListTimer.reset(e.now())
		e.setState(StateWaitForMemList)
		return nil

	case MsgNodeLeave:
		if !e.isLeader() {
			return e.protocolErrorf(m, "NODE_LEAVE reached a follower")
		}
		node, ok := e.roster.Index(m.Node)
		if !ok || !e.s.members.Has(node) {
			return e.unexpected(m)
		}
		e.beginChange(changeLeave, node, 0)
		e.ackChange(from, m.Uptime)
		return e.advanceChange()

	case MsgAlive:
		if from == self {
			return nil
		}
		if e.isLeader() {
			if e.s.members.Has(from) {
				e.logger.Info("member lost its state, restarting round", logging.Peer(m.Origin))
				return e.restartRound()
			}
			if e.isRefused(from) {
				e.logger.Debug("ignoring refused node", logging.Peer(m.Origin))
				return nil
			}
			e.logger.Info("node asks to join", logging.Peer(m.Origin))
			e.beginChange(changeNew, from, m.MaxTrans)
			e.ackChange(self, e.s.joinedTransition)
			return e.advanceChange()
		}
		fwd := e.epochMsg(MsgNewNode)
		fwd.Node = m.Origin
		fwd.Uptime = e.s.joinedTransition
		fwd.MaxTrans = m.MaxTrans
		if err := e.sendTo(e.s.leader, fwd); err != nil {
			return err
		}
		e.memListTimer.reset(e.now())
		e.setState(StateWaitForMemList)
		return nil

	case MsgNewNode:
		if !e.isLeader() {
			return e.protocolErrorf(m, "NEW_NODE reached a follower")
		}
		node, ok := e.roster.Index(m.Node)
		if !ok {
			return e.protocolErrorf(m, "NEW_NODE names unknown node %q", m.Node)
		}
		if e.s.members.Has(node) {
			return e.restartRound()
		}
		if e.isRefused(node) {
			e.logger.Debug("refusing forwarded node", logging.Peer(m.Node))
			return e.reannounce()
		}
		e.beginChange(changeNew, node, m.MaxTrans)
		e.ackChange(from, m.Uptime)
		return e.advanceChange()

	case MsgMemList:
		if from != e.s.leader || m.Major != e.s.major {
			return e.unexpected(m)
		}
		return e.adoptMemList(m, from)

	case MsgTimeout:
		now := e.now()
		if e.cfg.StateInfoBeacons && e.beaconTimer.expired(now, e.t.longUpdate) {
			e.beaconTimer.reset(now)
			return e.broadcast(e.stateInfo())
		}
		return nil
	}
	return e.unexpected(m)
}

// leaderSawLeave starts an incremental change for a member the leader saw
// leave.
func (e *Engine) leaderSawLeave(node int) error {
	self := e.roster.Self()
	e.beginChange(changeLeave, node, 0)
	e.ackChange(self, e.s.joinedTransition)
	if e.s.change.complete() {
		return e.applyChange()
	}
	notice := e.epochMsg(MsgNodeLeaveNotice)
	notice.Node = e.roster.Name(node)
	if err := e.broadcast(notice); err != nil {
		return err
	}
	e.setState(StateWaitForChange)
	return nil
}

// joinFromSteady follows a full round another member started.
func (e *Engine) joinFromSteady(m *Message, from int) error {
	if m.Minor < e.s.minor {
		return e.protocolErrorf(m, "JOIN minor %d behind %d", m.Minor, e.s.minor)
	}
	return e.joinRound(m, from)
}

// handleWaitForChange runs on the leader while members acknowledge a
// change. Anything that does not match the change restarts a full round.
func (e *Engine) handleWaitForChange(m *Message, from int) error {
	self := e.roster.Self()
	c := &e.s.change

	switch m.Type {
	case MsgNodeLeave, MsgNewNode:
		if !e.isLeader() {
			return e.protocolErrorf(m, "%s reached a follower", m.Type)
		}
		node, ok := e.roster.Index(m.Node)
		kind := changeLeave
		if m.Type == MsgNewNode {
			kind = changeNew
		}
		if !ok || !c.expects(kind, node) {
			e.logger.Info("conflicting change, restarting round",
				logging.MsgType(m.Type.String()),
				logging.Peer(m.Origin),
				logging.String("tracked", c.kind.String()))
			return e.restartRound()
		}
		e.ackChange(from, m.Uptime)
		if kind == changeNew {
			c.maxTrans = max(c.maxTrans, m.MaxTrans)
		}
		if c.complete() {
			return e.applyChange()
		}
		return nil

	case MsgLeave:
		if !e.s.members.Has(from) {
			return nil
		}
		if c.expects(changeLeave, from) {
			e.ackChange(self, e.s.joinedTransition)
			if c.complete() {
				return e.applyChange()
			}
			return nil
		}
		return e.restartRound()

	case MsgAlive:
		if from == self {
			return nil
		}
		if !e.isLeader() {
			return e.protocolErrorf(m, "ALIVE reached a follower")
		}
		if !c.expects(changeNew, from) {
			return e.restartRound()
		}
		e.ackChange(self, e.s.joinedTransition)
		c.maxTrans = max(c.maxTrans, m.MaxTrans)
		if c.complete() {
			return e.applyChange()
		}
		return nil

	case MsgTimeout:
		if e.changeTimer.expired(e.now(), e.t.update) {
			e.logger.Info("change timed out",
				logging.String("kind", c.kind.String()),
				logging.Count(c.pending))
			if c.kind == changeNew {
				return e.abandonAdmission()
			}
			return e.restartRound()
		}
		return nil

	case MsgJoin:
		return e.joinFromSteady(m, from)

	case MsgProtoVersion:
		if from != self {
			e.roster.SetJoinRequest(from, true)
		}
		return nil

	case MsgNodeLeaveNotice, MsgProtoVersionResp:
		return nil
	}
	return e.unexpected(m)
}

// handleWaitForMemList runs on a follower that acknowledged a change.
func (e *Engine) handleWaitForMemList(m *Message, from int) error {
	self := e.roster.Self()

	switch m.Type {
	case MsgMemList:
		if from != e.s.leader || m.Major != e.s.major {
			return e.unexpected(m)
		}
		return e.adoptMemList(m, from)

	case MsgTimeout:
		if e.memListTimer.expired(e.now(), e.t.update) {
			e.logger.Info("no memlist from leader", logging.Peer(e.nameOr(e.s.leader)))
			return e.restartRound()
		}
		return nil

	case MsgLeave:
		if from == e.s.leader {
			return e.restartRound()
		}
		return nil

	case MsgJoin:
		return e.joinFromSteady(m, from)

	case MsgProtoVersion:
		if from != self {
			e.roster.SetJoinRequest(from, true)
		}
		return nil

	case MsgAlive, MsgNodeLeaveNotice, MsgProtoVersionResp:
		return nil
	}
	return e.unexpected(m)
}

// handleNewNodeWait runs on a node that sent ALIVE and waits to be
// admitted.
func (e *Engine) handleNewNodeWait(m *Message, from int) error {
	switch m.Type {
	case MsgMemList:
		if m.Major != e.s.major {
			return e.unexpected(m)
		}
		return e.adoptMemList(m, from)

	case MsgTimeout:
		if !e.newNodeTimer.expired(e.now(), e.t.update) {
			return nil
		}
		if e.s.joinedTransition == 0 {
			e.reset("admission timeout")
			return nil
		}
		return e.restartRound()

	case MsgJoin:
		return e.joinFromSteady(m, from)

	case MsgAlive, MsgProtoVersion, MsgProtoVersionResp, MsgNodeLeaveNotice, MsgNodeLeave, MsgNewNode, MsgLeave:
		return nil
	}
	return e.unexpected(m)
}
