package ccm

// State is a membership state machine state.
type State int

const (
	StateNone State = iota
	StateVersionRequest
	StateJoining
	StateSentMemlistReq
	StateMemlistRes
	StateJoined
	StateWaitForMemList
	StateWaitForChange
	StateNewNodeWaitForMemList
	stateCount
)

var stateNames = [stateCount]string{
	StateNone:                  "NONE",
	StateVersionRequest:        "VERSION_REQUEST",
	StateJoining:               "JOINING",
	StateSentMemlistReq:        "SENT_MEMLISTREQ",
	StateMemlistRes:            "MEMLIST_RES",
	StateJoined:                "JOINED",
	StateWaitForMemList:        "WAIT_FOR_MEM_LIST",
	StateWaitForChange:         "WAIT_FOR_CHANGE",
	StateNewNodeWaitForMemList: "NEW_NODE_WAIT_FOR_MEM_LIST",
}

// String returns the wire name of a State
func (s State) String() string {
	if s < 0 || s >= stateCount {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// ParseState is the inverse of String.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// PartOfCluster reports whether a node in state s holds an epoch.
func (s State) PartOfCluster() bool {
	return s != StateNone && s != StateVersionRequest
}

// settled states carry a membership that has been reported.
func (s State) settled() bool {
	return s == StateJoined || s == StateWaitForMemList || s == StateWaitForChange
}
