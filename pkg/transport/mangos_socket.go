package transport

import (
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

type nngSocket struct {
	sock mangos.Socket
}

func (s *nngSocket) Send(data []byte) error {
	return s.sock.Send(data)
}

func (s *nngSocket) Recv() ([]byte, error) {
	return s.sock.Recv()
}

func (s *nngSocket) Close() error {
	return s.sock.Close()
}

func (s *nngSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionRecvDeadline, d)
}

func (s *nngSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetOption(mangos.OptionSendDeadline, d)
}

func (s *nngSocket) Listen(addr string) error {
	return s.sock.Listen(addr)
}

// Dial connects asynchronously so peers that are not up yet are retried by
// mangos in the background.
func (s *nngSocket) Dial(addr string) error {
	return s.sock.DialOptions(addr, map[string]interface{}{
		mangos.OptionDialAsynch: true,
	})
}

type nngSubSocket struct {
	nngSocket
}

func (s *nngSubSocket) Subscribe(topic []byte) error {
	return s.sock.SetOption(mangos.OptionSubscribe, topic)
}

// NNGSocketFactory creates nanomsg sockets backed by mangos.
type NNGSocketFactory struct{}

func NewNNGSocketFactory() *NNGSocketFactory {
	return &NNGSocketFactory{}
}

func (f *NNGSocketFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSocket{sock: sock}, nil
}

func (f *NNGSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, err
	}
	return &nngSubSocket{nngSocket{sock: sock}}, nil
}

var _ SocketFactory = (*NNGSocketFactory)(nil)
