package ccm

import "github.com/dd0wney/cluso-ccm/pkg/logging"

// handleNone announces this node and handles m as a version request.
func (e *Engine) handleNone(m *Message) error {
	if err := e.sendProtoVersion(); err != nil {
		return err
	}
	e.setState(StateVersionRequest)
	from, _ := e.roster.Index(m.Origin)
	return e.handleVersionRequest(m, from)
}

func (e *Engine) handleVersionRequest(m *Message, from int) error {
	now := e.now()
	self := e.roster.Self()

	switch m.Type {
	case MsgProtoVersionResp:
		if from == self {
			return nil
		}
		if m.Proto > SupportedProtoVersion {
			e.logger.Warn("cluster speaks a newer protocol",
				logging.Peer(m.Origin),
				logging.Uint64("proto", uint64(m.Proto)))
			e.reset("unsupported protocol")
			return nil
		}
		if m.ClSize == 0 {
			e.logger.Info("accepting invitation", logging.Peer(m.Origin), logging.Major(m.Major))
			return e.acceptInvitation(m)
		}

		// A minority cluster answered; give a larger one a chance first.
		active := e.roster.ActiveCount()
		if e.s.respDrop < MaxRespDrop && m.ClSize+1 <= (active+1)/2 {
			e.s.respDrop++
			e.logger.Debug("dropping minority response",
				logging.Peer(m.Origin),
				logging.Int("clsize", m.ClSize),
				logging.Int("active", active),
				logging.Count(e.s.respDrop))
			e.ver.reset(now)
			e.setState(StateNone)
			e.roster.ClearJoinRequests()
			return nil
		}
		e.s.respDrop = 0

		e.s.proto = m.Proto
		e.s.cookie = m.Cookie
		e.s.setMajor(m.Major)
		e.s.minor = 0
		e.ver.nresp = 0

		alive := e.epochMsg(MsgAlive)
		alive.MaxTrans = e.s.maxTrans
		if err := e.broadcast(alive); err != nil {
			return err
		}
		e.logger.Info("asking to be admitted", logging.Peer(m.Origin), logging.Major(m.Major))
		e.table.reset(now)
		e.newNodeTimer.reset(now)
		e.roundStart = now
		e.setState(StateNewNodeWaitForMemList)
		e.roster.ClearJoinRequests()
		return nil

	case MsgTimeout:
		switch e.ver.retry(now, e.t.versionReq) {
		case versionTryAgain:
			e.setState(StateNone)
		case versionTryEnd:
			if e.roster.HighestJoiner() {
				return e.seed()
			}
			e.ver.reset(now)
			e.setState(StateNone)
			e.roster.ClearJoinRequests()
		}
		return nil

	case MsgProtoVersion:
		e.roster.SetJoinRequest(from, true)
		e.s.maxTrans = max(e.s.maxTrans, m.MaxTrans)
		if e.roster.AllActiveRequested() && e.roster.HighestJoiner() {
			return e.seed()
		}
		return nil

	case MsgAbort:
		e.ver.activity()
		return nil
	}
	return e.unexpected(m)
}
