package ccm

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrNoNodeName      = errors.New("ccm: node name cannot be empty")
	ErrEmptyRoster     = errors.New("ccm: roster cannot be empty")
	ErrNotInRoster     = errors.New("ccm: local node is not in the roster")
	ErrDuplicateNode   = errors.New("ccm: node appears twice in the roster")
	ErrRosterTooLarge  = errors.New("ccm: roster exceeds the node limit")
	ErrBusNodeMismatch = errors.New("ccm: bus local node differs from configured node name")
)

// Codec errors
var (
	ErrUnknownType  = errors.New("ccm: unknown message type")
	ErrMissingField = errors.New("ccm: missing required field")
	ErrBadMemlist   = errors.New("ccm: undecodable memlist")
	ErrBadState     = errors.New("ccm: unknown state name")
)

// Runtime errors
var (
	ErrSendFailed = errors.New("ccm: send failed")
	ErrNotStarted = errors.New("ccm: engine not started")
	ErrStopped    = errors.New("ccm: engine stopped")
)

// DecodeError describes a payload that could not be turned into a Message.
type DecodeError struct {
	Type  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("decode %s: field %q: %v", e.Type, e.Field, e.Err)
	case e.Type != "":
		return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("decode: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ProtocolError is a peer message that contradicts the protocol. The engine
// logs and drops it.
type ProtocolError struct {
	State  State
	Type   MessageType
	From   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation in %s: %s from %s: %s", e.State, e.Type, e.From, e.Reason)
}

func (e *Engine) protocolErrorf(m *Message, format string, args ...any) error {
	return &ProtocolError{
		State:  e.s.state,
		Type:   m.Type,
		From:   m.Origin,
		Reason: fmt.Sprintf(format, args...),
	}
}

// invariantf reports a broken internal invariant. These are bugs, not peer
// input, and are never recovered inside the package.
func invariantf(format string, args ...any) {
	panic(fmt.Sprintf("ccm: invariant violated: "+format, args...))
}
