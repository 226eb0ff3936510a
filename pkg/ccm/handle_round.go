package ccm

import (
	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
)

func (e *Engine) handleJoining(m *Message, from int) error {
	self := e.roster.Self()

	switch m.Type {
	case MsgJoin:
		if m.Minor > e.s.minor {
			return e.joinRound(m, from)
		}
		e.table.add(from, m.Uptime, true)
		if e.table.count() >= e.roster.ActiveCount() {
			return e.decideRound()
		}
		return nil

	case MsgReqMemlist:
		if from == self {
			return nil
		}
		e.table.cacheRequest(from, m.Major)
		if e.table.count() >= e.roster.ActiveCount() && e.table.leaderIndex() != self {
			return e.followerReply()
		}
		return e.joiningTimeout()

	case MsgTimeout:
		return e.joiningTimeout()

	case MsgAbort:
		if m.Major == e.s.major && m.Minor == e.s.minor {
			return e.restartRound()
		}
		return nil

	case MsgLeave:
		e.table.remove(from)
		e.roster.SetJoinRequest(from, false)
		if n := e.table.count(); n > 0 && n >= e.roster.ActiveCount() && e.table.has(self) {
			return e.decideRound()
		}
		return nil

	case MsgProtoVersion:
		if from != self {
			e.roster.SetJoinRequest(from, true)
		}
		return nil

	case MsgProtoVersionResp:
		return nil

	case MsgResMemlist, MsgFinalMemlist:
		e.logger.Debug("memlist traffic from another partition",
			logging.MsgType(m.Type.String()),
			logging.Peer(m.Origin))
		return nil
	}
	return e.unexpected(m)
}

// joiningTimeout decides the round once the update timer ran out.
func (e *Engine) joiningTimeout() error {
	if !e.table.expired(e.now(), e.t.update) {
		return nil
	}
	if e.table.leaderIndex() < 0 {
		return e.restartRound()
	}
	return e.decideRound()
}

// handleSentMemlistReq runs on the leader while it gathers views.
func (e *Engine) handleSentMemlistReq(m *Message, from int) error {
	self := e.roster.Self()

	switch m.Type {
	case MsgResMemlist:
		if m.Minor != e.s.minor {
			return e.unexpected(m)
		}
		if m.Major != e.s.major {
			return e.protocolErrorf(m, "memlist for major %d, round is at %d", m.Major, e.s.major)
		}
		if !e.mc.isVertex(from) {
			return e.protocolErrorf(m, "memlist from a node outside the round")
		}
		e.mc.note(from, m.Memlist, m.MaxTrans)
		if e.mc.allResponded() {
			return e.finalize()
		}
		return nil

	case MsgJoin:
		if m.Major != e.s.major {
			return e.protocolErrorf(m, "late join for major %d, round is at %d", m.Major, e.s.major)
		}
		if m.Minor > e.s.minor {
			return e.joinRound(m, from)
		}
		if m.Minor == e.s.minor && !e.table.has(from) {
			e.table.add(from, m.Uptime, false)
			e.mc.addVertex(from)
			e.mc.mark(self, from)
			return e.sendTo(from, e.epochMsg(MsgReqMemlist))
		}
		return nil

	case MsgTimeout:
		if e.mc.expired(e.now(), e.t.memlistWait) {
			e.logger.Info("memlist wait expired", logging.Members(e.roster.Names(e.mc.vertices.Without(e.mc.responded))))
			return e.finalize()
		}
		return nil

	case MsgReqMemlist:
		if from != self {
			return e.sendMemlistTo(from, bitmap.Set{})
		}
		return nil

	case MsgLeave:
		e.table.remove(from)
		if e.mc.isVertex(from) {
			e.mc.note(from, bitmap.Set{}, 0)
			if e.mc.allResponded() {
				return e.finalize()
			}
		}
		return nil

	case MsgProtoVersion:
		if from != self {
			e.roster.SetJoinRequest(from, true)
		}
		return nil

	case MsgAbort, MsgProtoVersionResp, MsgFinalMemlist:
		return nil
	}
	return e.unexpected(m)
}

// handleMemlistRes runs on followers waiting for the leader's final list.
func (e *Engine) handleMemlistRes(m *Message, from int) error {
	self := e.roster.Self()
	cl := e.table.leaderIndex()

	switch m.Type {
	case MsgFinalMemlist:
		if from != cl || m.Major != e.s.major || m.Minor != e.s.minor {
			return e.unexpected(m)
		}
		if !m.Memlist.Has(self) {
			e.logger.Info("left out of final membership", logging.Peer(m.Origin))
			e.reset("excluded")
			return nil
		}
		e.s.members = m.Memlist
		e.s.setMajor(m.MaxTrans)
		e.s.minor = 0
		if m.NewCookie != "" {
			e.s.cookie = m.NewCookie
		}
		e.s.leader = from
		e.settle(roundFull)
		e.table.reset(e.now())
		e.roster.ClearJoinRequests()
		return nil

	case MsgJoin:
		if m.Major > e.s.major {
			return e.sendTo(from, &Message{Type: MsgAbort, Cookie: e.s.cookie, Major: m.Major, Minor: m.Minor})
		}
		if m.Minor > e.s.minor {
			return e.joinRound(m, from)
		}
		return nil

	case MsgReqMemlist:
		if m.Minor != e.s.minor || from == self {
			return nil
		}
		if from == cl {
			return e.sendMemlistTo(from, e.table.bitmap())
		}
		return e.sendMemlistTo(from, bitmap.Set{})

	case MsgTimeout:
		if e.finalListTimer.expired(e.now(), e.t.finalList) {
			e.logger.Info("final list wait expired", logging.Peer(e.nameOr(cl)))
			return e.restartRound()
		}
		return nil

	case MsgLeave:
		if from == cl {
			return e.restartRound()
		}
		e.table.remove(from)
		return nil

	case MsgProtoVersion:
		if from != self {
			e.roster.SetJoinRequest(from, true)
		}
		return nil

	case MsgResMemlist:
		e.logger.Debug("memlist traffic from another partition", logging.Peer(m.Origin))
		return nil

	case MsgAbort, MsgProtoVersionResp:
		return nil
	}
	return e.unexpected(m)
}

func (e *Engine) nameOr(i int) string {
	if i < 0 {
		return ""
	}
	return e.roster.Name(i)
}
