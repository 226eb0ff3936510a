package ccm

import "github.com/dd0wney/cluso-ccm/pkg/bitmap"

// MessageType is the kind of a protocol message.
type MessageType int

const (
	MsgProtoVersion MessageType = iota + 1
	MsgProtoVersionResp
	MsgJoin
	MsgReqMemlist
	MsgResMemlist
	MsgFinalMemlist
	MsgAbort
	MsgLeave
	MsgTimeout // synthetic, never on the wire
	MsgNodeLeaveNotice
	MsgNodeLeave
	MsgMemList
	MsgAlive
	MsgNewNode
	MsgStateInfo
	MsgRestart
	msgTypeEnd
)

var messageTypeNames = [msgTypeEnd]string{
	MsgProtoVersion:     "PROTOVERSION",
	MsgProtoVersionResp: "PROTOVERSION_RESP",
	MsgJoin:             "JOIN",
	MsgReqMemlist:       "REQ_MEMLIST",
	MsgResMemlist:       "RES_MEMLIST",
	MsgFinalMemlist:     "FINAL_MEMLIST",
	MsgAbort:            "ABORT",
	MsgLeave:            "LEAVE",
	MsgTimeout:          "TIMEOUT",
	MsgNodeLeaveNotice:  "NODE_LEAVE_NOTICE",
	MsgNodeLeave:        "NODE_LEAVE",
	MsgMemList:          "MEM_LIST",
	MsgAlive:            "ALIVE",
	MsgNewNode:          "NEW_NODE",
	MsgStateInfo:        "STATE_INFO",
	MsgRestart:          "RESTART",
}

func (t MessageType) String() string {
	if t <= 0 || t >= msgTypeEnd {
		return "UNKNOWN"
	}
	return messageTypeNames[t]
}

// ParseMessageType maps a wire name to its MessageType.
func ParseMessageType(name string) (MessageType, bool) {
	for i := MsgProtoVersion; i < msgTypeEnd; i++ {
		if messageTypeNames[i] == name {
			return i, true
		}
	}
	return 0, false
}

// filtered reports whether the epoch filter applies to this kind.
func (t MessageType) filtered() bool {
	switch t {
	case MsgProtoVersion, MsgStateInfo, MsgRestart, MsgTimeout:
		return false
	}
	return true
}

// Message is a decoded protocol message. Which fields are meaningful
// depends on Type; see Required.
type Message struct {
	Type   MessageType
	Origin string

	Cookie string
	Major  uint32
	Minor  uint32

	Proto      uint32
	ClSize     int
	Uptime     uint32
	Node       string
	Memlist    bitmap.Set
	MaxTrans   uint32
	UptimeList []uint32
	NewCookie  string
	State      State

	// View is the set of nodes the sender can reach. STATE_INFO carries it
	// with the sender's members in Memlist.
	View bitmap.Set

	// viewed is set when a decoded STATE_INFO carried a view.
	viewed bool

	// synthetic marks LEAVEs injected from the leave cache.
	synthetic bool
}
