package ccm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
)

type field uint16

const (
	fCookie field = 1 << iota
	fMajor
	fMinor
	fProto
	fClSize
	fUptime
	fNode
	fMemlist
	fMaxTrans
	fUptimeList
	fNewCookie
	fState
	fView
)

var fieldNames = []struct {
	f    field
	name string
}{
	{fCookie, "cookie"},
	{fMajor, "major"},
	{fMinor, "minor"},
	{fProto, "proto"},
	{fClSize, "clsize"},
	{fUptime, "uptime"},
	{fNode, "node"},
	{fMemlist, "memlist"},
	{fMaxTrans, "maxtrans"},
	{fUptimeList, "uptimelist"},
	{fNewCookie, "newcookie"},
	{fState, "state"},
	{fView, "view"},
}

const fEpoch = fCookie | fMajor | fMinor

var requiredFields = map[MessageType]field{
	MsgProtoVersion:     fProto | fMaxTrans,
	MsgProtoVersionResp: fProto | fCookie | fMajor | fClSize,
	MsgJoin:             fEpoch | fUptime,
	MsgReqMemlist:       fEpoch,
	MsgResMemlist:       fEpoch | fMemlist | fMaxTrans,
	MsgFinalMemlist:     fEpoch | fMemlist | fMaxTrans,
	MsgAbort:            fEpoch,
	MsgLeave:            fEpoch,
	MsgNodeLeaveNotice:  fEpoch | fNode,
	MsgNodeLeave:        fEpoch | fNode | fUptime,
	MsgMemList:          fEpoch | fMemlist | fMaxTrans | fUptimeList,
	MsgAlive:            fEpoch | fMaxTrans,
	MsgNewNode:          fEpoch | fNode | fUptime | fMaxTrans,
	MsgStateInfo:        fState | fCookie,
	MsgRestart:          0,
}

// optionalFields are written only when non-empty.
var optionalFields = map[MessageType]field{
	MsgFinalMemlist: fNewCookie,
	MsgMemList:      fNewCookie,
	MsgStateInfo:    fMemlist | fView,
}

// Required lists the mandatory wire fields of a message kind.
func Required(t MessageType) []string {
	mask := requiredFields[t]
	var out []string
	for _, fn := range fieldNames {
		if mask&fn.f != 0 {
			out = append(out, fn.name)
		}
	}
	return out
}

func fieldName(f field) string {
	for _, fn := range fieldNames {
		if fn.f == f {
			return fn.name
		}
	}
	return "?"
}

// wireMessage is the JSON form. Pointers distinguish absent from zero.
type wireMessage struct {
	T  string    `json:"t"`
	C  *string   `json:"c,omitempty"`
	Ma *uint32   `json:"ma,omitempty"`
	Mi *uint32   `json:"mi,omitempty"`
	P  *uint32   `json:"p,omitempty"`
	Cs *int      `json:"cs,omitempty"`
	U  *uint32   `json:"u,omitempty"`
	N  *string   `json:"n,omitempty"`
	Ml *string   `json:"ml,omitempty"`
	Mt *uint32   `json:"mt,omitempty"`
	Ul *[]uint32 `json:"ul,omitempty"`
	Nc *string   `json:"nc,omitempty"`
	S  *string   `json:"s,omitempty"`
	Vw *string   `json:"vw,omitempty"`
}

func (w *wireMessage) has(f field) bool {
	switch f {
	case fCookie:
		return w.C != nil
	case fMajor:
		return w.Ma != nil
	case fMinor:
		return w.Mi != nil
	case fProto:
		return w.P != nil
	case fClSize:
		return w.Cs != nil
	case fUptime:
		return w.U != nil
	case fNode:
		return w.N != nil
	case fMemlist:
		return w.Ml != nil
	case fMaxTrans:
		return w.Mt != nil
	case fUptimeList:
		return w.Ul != nil
	case fNewCookie:
		return w.Nc != nil
	case fState:
		return w.S != nil
	case fView:
		return w.Vw != nil
	}
	return false
}

// Encode renders m in wire form. Only the fields of m's kind are written;
// Origin is carried by the transport envelope.
func Encode(m *Message) ([]byte, error) {
	req, ok := requiredFields[m.Type]
	if !ok {
		return nil, fmt.Errorf("encode %s: %w", m.Type, ErrUnknownType)
	}
	opt := optionalFields[m.Type]
	want := func(f field, empty bool) bool {
		return req&f != 0 || (opt&f != 0 && !empty)
	}

	w := wireMessage{T: m.Type.String()}
	if want(fCookie, m.Cookie == "") {
		w.C = &m.Cookie
	}
	if want(fMajor, m.Major == 0) {
		w.Ma = &m.Major
	}
	if want(fMinor, m.Minor == 0) {
		w.Mi = &m.Minor
	}
	if want(fProto, m.Proto == 0) {
		w.P = &m.Proto
	}
	if want(fClSize, m.ClSize == 0) {
		w.Cs = &m.ClSize
	}
	if want(fUptime, m.Uptime == 0) {
		w.U = &m.Uptime
	}
	if want(fNode, m.Node == "") {
		w.N = &m.Node
	}
	if want(fMemlist, m.Memlist.Empty()) {
		ml := m.Memlist.Encode()
		w.Ml = &ml
	}
	if want(fMaxTrans, m.MaxTrans == 0) {
		w.Mt = &m.MaxTrans
	}
	if want(fUptimeList, len(m.UptimeList) == 0) {
		ul := m.UptimeList
		if ul == nil {
			ul = []uint32{}
		}
		w.Ul = &ul
	}
	if want(fNewCookie, m.NewCookie == "") {
		w.Nc = &m.NewCookie
	}
	if want(fState, false) {
		s := m.State.String()
		w.S = &s
	}
	if want(fView, m.View.Empty()) {
		vw := m.View.Encode()
		w.Vw = &vw
	}
	return json.Marshal(&w)
}

// Decode parses a wire payload. Payloads that are not CCM messages yield a
// *DecodeError wrapping ErrUnknownType.
func Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%w: %v", ErrUnknownType, err)}
	}
	t, ok := ParseMessageType(w.T)
	if !ok || t == MsgTimeout {
		return nil, &DecodeError{Type: w.T, Err: ErrUnknownType}
	}
	for _, fn := range fieldNames {
		if requiredFields[t]&fn.f != 0 && !w.has(fn.f) {
			return nil, &DecodeError{Type: w.T, Field: fn.name, Err: ErrMissingField}
		}
	}

	m := &Message{Type: t}
	if w.C != nil {
		m.Cookie = *w.C
	}
	if w.Ma != nil {
		m.Major = *w.Ma
	}
	if w.Mi != nil {
		m.Minor = *w.Mi
	}
	if w.P != nil {
		m.Proto = *w.P
	}
	if w.Cs != nil {
		m.ClSize = *w.Cs
	}
	if w.U != nil {
		m.Uptime = *w.U
	}
	if w.N != nil {
		m.Node = *w.N
	}
	if w.Ml != nil && *w.Ml != "" {
		set, err := bitmap.Decode(*w.Ml)
		if err != nil {
			return nil, &DecodeError{Type: w.T, Field: fieldName(fMemlist), Err: errors.Join(ErrBadMemlist, err)}
		}
		m.Memlist = set
	}
	if w.Mt != nil {
		m.MaxTrans = *w.Mt
	}
	if w.Ul != nil {
		m.UptimeList = *w.Ul
	}
	if w.Nc != nil {
		m.NewCookie = *w.Nc
	}
	if w.Vw != nil {
		set, err := bitmap.Decode(*w.Vw)
		if err != nil {
			return nil, &DecodeError{Type: w.T, Field: fieldName(fView), Err: errors.Join(ErrBadMemlist, err)}
		}
		m.View = set
		m.viewed = true
	}
	if w.S != nil {
		st, ok := ParseState(*w.S)
		if !ok {
			return nil, &DecodeError{Type: w.T, Field: fieldName(fState), Err: ErrBadState}
		}
		m.State = st
	}
	return m, nil
}
