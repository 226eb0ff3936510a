package ccm

import (
	"fmt"

	"github.com/dd0wney/cluso-ccm/pkg/logging"
)

func (e *Engine) broadcast(m *Message) error {
	return e.send("*", m, e.bus.Broadcast)
}

func (e *Engine) sendTo(i int, m *Message) error {
	name := e.roster.Name(i)
	return e.send(name, m, func(p []byte) error { return e.bus.SendTo(name, p) })
}

// send tries 1+RetryCount times before giving up with ErrSendFailed.
func (e *Engine) send(to string, m *Message, deliver func([]byte) error) error {
	payload, err := Encode(m)
	if err != nil {
		invariantf("encoding own %s: %v", m.Type, err)
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.RetryCount; attempt++ {
		if attempt > 0 && e.cfg.RetryDelay > 0 {
			e.sleep(e.cfg.RetryDelay)
		}
		if lastErr = deliver(payload); lastErr == nil {
			if e.metrics != nil {
				e.metrics.RecordMessage("sent", m.Type.String())
			}
			e.logger.Debug("sent", logging.MsgType(m.Type.String()), logging.Peer(to))
			return nil
		}
		e.logger.Debug("send attempt failed",
			logging.MsgType(m.Type.String()),
			logging.Peer(to),
			logging.Int("attempt", attempt+1),
			logging.Error(lastErr))
	}
	return fmt.Errorf("%w: %s to %s: %v", ErrSendFailed, m.Type, to, lastErr)
}

// epochMsg fills the current cookie, major and minor.
func (e *Engine) epochMsg(t MessageType) *Message {
	return &Message{Type: t, Cookie: e.s.cookie, Major: e.s.major, Minor: e.s.minor}
}

func (e *Engine) protoVersion() uint32 {
	if e.s.proto != 0 {
		return e.s.proto
	}
	return e.cfg.ProtoVersion
}

func (e *Engine) sendProtoVersion() error {
	return e.broadcast(&Message{Type: MsgProtoVersion, Proto: e.cfg.ProtoVersion, MaxTrans: e.s.maxTrans})
}

func (e *Engine) sendJoin() error {
	m := e.epochMsg(MsgJoin)
	m.Uptime = e.s.joinedTransition
	return e.broadcast(m)
}

// sendJoinReply answers a PROTOVERSION. clsize 0 invites the node into a
// round being seeded.
func (e *Engine) sendJoinReply(i int, clsize int) error {
	return e.sendTo(i, &Message{
		Type:   MsgProtoVersionResp,
		Proto:  e.protoVersion(),
		Cookie: e.s.cookie,
		Major:  e.s.major,
		ClSize: clsize,
	})
}

// sendJoinReplies answers everyone who asked to join while we were busy.
func (e *Engine) sendJoinReplies() error {
	self := e.roster.Self()
	joiners := e.roster.Joiners()
	e.roster.ClearJoinRequests()

	var first error
	joiners.Each(func(i int) {
		if i == self || e.isRefused(i) {
			return
		}
		if err := e.sendJoinReply(i, e.s.members.Len()); err != nil && first == nil {
			first = err
		}
	})
	return first
}
