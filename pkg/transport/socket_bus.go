package transport

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/metrics"
)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]func() SocketFactory{
		"mangos": func() SocketFactory { return NewNNGSocketFactory() },
	}
)

func registerFactory(name string, fn func() SocketFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = fn
}

// FactoryByName returns the socket factory for a transport name. "zmq" is
// only available in binaries built with the zmq tag.
func FactoryByName(name string) (SocketFactory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	fn, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("transport %q not available in this build", name)
	}
	return fn(), nil
}

// SocketBusConfig configures a SocketBus.
type SocketBusConfig struct {
	Local      string
	ListenAddr string
	Peers      []Peer
	Keepalive  time.Duration
	Deadtime   time.Duration
	Factory    SocketFactory
	Logger     logging.Logger
	Metrics    *metrics.Registry
}

// SocketBus publishes every frame on one PUB socket and subscribes to every
// peer's PUB socket. Unicast frames carry a destination and are filtered on
// receipt. Beacons sent every keepalive drive peer liveness.
type SocketBus struct {
	cfg    SocketBusConfig
	logger logging.Logger

	pub ListenSocket
	sub SubscribeSocket

	sendMu sync.Mutex
	in     *inbox
	live   *liveness

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewSocketBus validates cfg. Call Start to open sockets.
func NewSocketBus(cfg SocketBusConfig) (*SocketBus, error) {
	if cfg.Local == "" || cfg.ListenAddr == "" {
		return nil, errors.New("transport: local name and listen address are required")
	}
	if cfg.Keepalive <= 0 {
		return nil, errors.New("transport: keepalive must be positive")
	}
	if cfg.Deadtime <= cfg.Keepalive {
		cfg.Deadtime = 4 * cfg.Keepalive
	}
	if cfg.Factory == nil {
		cfg.Factory = NewNNGSocketFactory()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	names := make([]string, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		if p.Name != cfg.Local {
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)

	return &SocketBus{
		cfg:    cfg,
		logger: cfg.Logger.With(logging.Component("transport"), logging.Node(cfg.Local)),
		in:     newInbox(),
		live:   newLiveness(names, cfg.Deadtime),
		stopCh: make(chan struct{}),
	}, nil
}

// Start listens, dials every peer and starts the receive and beacon loops.
func (b *SocketBus) Start() error {
	cleanup := newResourceCleanup(b.logger)
	defer cleanup.Cleanup()

	pub, err := b.cfg.Factory.NewPubSocket()
	if err != nil {
		return fmt.Errorf("failed to create PUB socket: %w", err)
	}
	cleanup.Add(pub, "publisher")
	if err := pub.Listen(b.cfg.ListenAddr); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.cfg.ListenAddr, err)
	}
	if err := pub.SetSendDeadline(b.cfg.Keepalive); err != nil {
		return fmt.Errorf("failed to set send deadline: %w", err)
	}

	sub, err := b.cfg.Factory.NewSubSocket()
	if err != nil {
		return fmt.Errorf("failed to create SUB socket: %w", err)
	}
	cleanup.Add(sub, "subscriber")
	if err := sub.Subscribe([]byte{}); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if err := sub.SetRecvDeadline(b.cfg.Keepalive); err != nil {
		return fmt.Errorf("failed to set receive deadline: %w", err)
	}
	for _, p := range b.cfg.Peers {
		if p.Name == b.cfg.Local {
			continue
		}
		if err := sub.Dial(p.Addr); err != nil {
			return fmt.Errorf("failed to dial %s at %s: %w", p.Name, p.Addr, err)
		}
	}

	b.pub, b.sub = pub, sub
	cleanup.Clear()

	b.wg.Add(2)
	go b.receiveLoop()
	go b.beaconLoop()

	b.logger.Info("socket bus started",
		logging.String("listen", b.cfg.ListenAddr),
		logging.Count(len(b.cfg.Peers)))
	return nil
}

func (b *SocketBus) LocalNode() string { return b.cfg.Local }

func (b *SocketBus) Keepalive() time.Duration { return b.cfg.Keepalive }

func (b *SocketBus) NodeStatus(node string) Status {
	if node == b.cfg.Local {
		return StatusActive
	}
	return b.live.get(node)
}

// Broadcast publishes payload and loops it back locally.
func (b *SocketBus) Broadcast(payload []byte) error {
	if err := b.publish(Frame{Kind: FrameMessage, From: b.cfg.Local, Body: payload}); err != nil {
		return err
	}
	b.in.push(Envelope{From: b.cfg.Local, Payload: clone(payload)})
	return nil
}

func (b *SocketBus) SendTo(node string, payload []byte) error {
	if node == b.cfg.Local {
		b.in.push(Envelope{From: node, To: node, Payload: clone(payload)})
		return nil
	}
	if !b.knows(node) {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, node)
	}
	return b.publish(Frame{Kind: FrameMessage, From: b.cfg.Local, To: node, Body: payload})
}

func (b *SocketBus) TryRecv() (Envelope, bool) { return b.in.pop() }

func (b *SocketBus) TryEvent() (NodeEvent, bool) { return b.in.popEvent() }

func (b *SocketBus) Ready() <-chan struct{} { return b.in.ready }

// Close stops the loops and closes both sockets.
func (b *SocketBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stopCh)
	cleanup := newResourceCleanup(b.logger)
	if b.pub != nil {
		cleanup.Add(b.pub, "publisher")
	}
	if b.sub != nil {
		cleanup.Add(b.sub, "subscriber")
	}
	err := cleanup.CloseAll()
	b.wg.Wait()
	return err
}

func (b *SocketBus) knows(node string) bool {
	for _, p := range b.cfg.Peers {
		if p.Name == node {
			return true
		}
	}
	return false
}

func (b *SocketBus) publish(f Frame) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed || b.pub == nil {
		return ErrClosed
	}

	data, err := EncodeFrame(f)
	if err != nil {
		return err
	}

	b.sendMu.Lock()
	err = b.pub.Send(data)
	b.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.RecordFrameSent(frameKindName(f.Kind), len(data))
	}
	return nil
}

func (b *SocketBus) receiveLoop() {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		default:
		}

		raw, err := b.sub.Recv()
		if err != nil {
			// Deadline expiries land here every keepalive with nothing queued.
			b.sweep()
			continue
		}
		f, err := DecodeFrame(raw)
		if err != nil {
			b.logger.Warn("dropping malformed frame", logging.Error(err))
			if b.cfg.Metrics != nil {
				b.cfg.Metrics.RecordFrameDropped("malformed")
			}
			continue
		}
		if b.cfg.Metrics != nil {
			b.cfg.Metrics.RecordFrameReceived(frameKindName(f.Kind), len(raw))
		}
		if ev, ok := b.live.seen(f.From, time.Now()); ok {
			b.logger.Info("peer active", logging.Peer(ev.Node))
			b.in.pushEvent(ev)
			b.reportPeers()
		}
		if f.Kind == FrameMessage && (f.To == "" || f.To == b.cfg.Local) {
			b.in.push(Envelope{From: f.From, To: f.To, Payload: f.Body})
		}
	}
}

func (b *SocketBus) beaconLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.Keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			if err := b.publish(Frame{Kind: FrameBeacon, From: b.cfg.Local}); err != nil && !errors.Is(err, ErrClosed) {
				b.logger.Warn("beacon failed", logging.Error(err))
			}
			b.sweep()
		}
	}
}

func (b *SocketBus) sweep() {
	for _, ev := range b.live.sweep(time.Now()) {
		b.logger.Warn("peer dead", logging.Peer(ev.Node), logging.Duration("deadtime", b.cfg.Deadtime))
		b.in.pushEvent(ev)
	}
	b.reportPeers()
}

func (b *SocketBus) reportPeers() {
	if b.cfg.Metrics != nil {
		b.cfg.Metrics.SetActivePeers(b.live.active())
	}
}

func frameKindName(k FrameKind) string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameBeacon:
		return "beacon"
	default:
		return "unknown"
	}
}

var _ Bus = (*SocketBus)(nil)
