package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Component is promoted to the top level of the JSON entry.
func Component(name string) Field {
	return String(componentKey, name)
}

func Operation(op string) Field {
	return String("operation", op)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}

// Membership protocol fields

// Node names the local node. Like Component it is promoted.
func Node(name string) Field {
	return String(nodeKey, name)
}

// Peer names the remote side of a message.
func Peer(name string) Field {
	return String("peer", name)
}

func State(name string) Field {
	return String("state", name)
}

func MsgType(name string) Field {
	return String("msg_type", name)
}

func Major(v uint32) Field {
	return Uint64("major", uint64(v))
}

func Minor(v uint32) Field {
	return Uint64("minor", uint64(v))
}

func Cookie(c string) Field {
	return String("cookie", c)
}

func Members(names []string) Field {
	return Any("members", names)
}
