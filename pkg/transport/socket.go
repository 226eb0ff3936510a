package transport

import (
	"io"
	"time"
)

// Socket abstracts one messaging socket of the underlying library.
type Socket interface {
	io.Closer
	Send([]byte) error
	Recv() ([]byte, error)
	SetRecvDeadline(d time.Duration) error
	SetSendDeadline(d time.Duration) error
}

// ListenSocket is a socket that can bind to an address.
type ListenSocket interface {
	Socket
	Listen(addr string) error
}

// DialSocket is a socket that can connect to a remote address.
type DialSocket interface {
	Socket
	Dial(addr string) error
}

// SubscribeSocket is a SUB socket that can subscribe to topics.
type SubscribeSocket interface {
	DialSocket
	Subscribe(topic []byte) error
}

// SocketFactory creates the PUB/SUB pair a SocketBus runs on.
type SocketFactory interface {
	NewPubSocket() (ListenSocket, error)
	NewSubSocket() (SubscribeSocket, error)
}
