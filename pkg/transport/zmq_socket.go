//go:build zmq
// +build zmq

package transport

import (
	"time"

	zmq "github.com/pebbe/zmq4"
)

type zmqSocket struct {
	sock *zmq.Socket
}

func (s *zmqSocket) Send(data []byte) error {
	_, err := s.sock.SendBytes(data, 0)
	return err
}

func (s *zmqSocket) Recv() ([]byte, error) {
	return s.sock.RecvBytes(0)
}

func (s *zmqSocket) Close() error {
	return s.sock.Close()
}

func (s *zmqSocket) SetRecvDeadline(d time.Duration) error {
	return s.sock.SetRcvtimeo(d)
}

func (s *zmqSocket) SetSendDeadline(d time.Duration) error {
	return s.sock.SetSndtimeo(d)
}

func (s *zmqSocket) Listen(addr string) error {
	return s.sock.Bind(addr)
}

func (s *zmqSocket) Dial(addr string) error {
	return s.sock.Connect(addr)
}

type zmqSubSocket struct {
	zmqSocket
}

func (s *zmqSubSocket) Subscribe(topic []byte) error {
	return s.sock.SetSubscribe(string(topic))
}

// ZMQSocketFactory creates ZeroMQ sockets. Building it needs libzmq.
type ZMQSocketFactory struct{}

func NewZMQSocketFactory() *ZMQSocketFactory {
	return &ZMQSocketFactory{}
}

func (f *ZMQSocketFactory) NewPubSocket() (ListenSocket, error) {
	sock, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, err
	}
	if err := sock.SetLinger(0); err != nil {
		sock.Close()
		return nil, err
	}
	return &zmqSocket{sock: sock}, nil
}

func (f *ZMQSocketFactory) NewSubSocket() (SubscribeSocket, error) {
	sock, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	return &zmqSubSocket{zmqSocket{sock: sock}}, nil
}

func init() {
	registerFactory("zmq", func() SocketFactory { return NewZMQSocketFactory() })
}

var _ SocketFactory = (*ZMQSocketFactory)(nil)
