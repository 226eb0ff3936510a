// Package sim runs CCM engines over an in-memory network on a virtual
// clock. Every tick advances the clock by one keepalive and steps each live
// engine once, in name order, so a scenario always plays out the same way.
package sim

import (
	"errors"
	"fmt"
	"time"

	dto "github.com/prometheus/client_model/go"
	"golang.org/x/exp/slices"

	"github.com/dd0wney/cluso-ccm/pkg/ccm"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/metrics"
	"github.com/dd0wney/cluso-ccm/pkg/pubsub"
	"github.com/dd0wney/cluso-ccm/pkg/transport"
)

var (
	ErrUnknownNode = errors.New("sim: node not in roster")
	ErrNodeRunning = errors.New("sim: node already running")
	ErrNodeDown    = errors.New("sim: node not running")
	ErrNotSettled  = errors.New("sim: membership did not settle")
)

// Epoch is the virtual start time of every simulation.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NodeReport is one report delivered to a simulated node.
type NodeReport struct {
	Tick        int
	Node        string
	Incarnation int // Bumped each time the node is started
	Report      ccm.Report
}

type node struct {
	name    string
	bus     *transport.MemoryBus
	engine  *ccm.Engine
	metrics *metrics.Registry
	events  *pubsub.PubSub
	down    bool
	leaving bool
}

// Cluster is a set of simulated nodes sharing one roster.
type Cluster struct {
	net       *transport.Network
	keepalive time.Duration
	roster    []ccm.RosterEntry
	names     []string
	nodes     map[string]*node
	clock     time.Time
	tick      int
	reports   []NodeReport
	logger    logging.Logger
	quorum    *bool
	starts    map[string]int
}

// Option configures a Cluster.
type Option func(*Cluster)

// WithLogger sets the logger handed to every engine.
func WithLogger(l logging.Logger) Option {
	return func(c *Cluster) { c.logger = l }
}

// WithQuorumOverride forces the quorum flag of every engine.
func WithQuorumOverride(q bool) Option {
	return func(c *Cluster) { c.quorum = &q }
}

// NewCluster creates a cluster whose roster is names. No node runs until
// Start or Boot.
func NewCluster(keepalive time.Duration, names []string, opts ...Option) *Cluster {
	sorted := slices.Clone(names)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	c := &Cluster{
		net:       transport.NewNetwork(keepalive),
		keepalive: keepalive,
		roster:    ccm.RosterFromNames(sorted...),
		names:     sorted,
		nodes:     make(map[string]*node),
		starts:    make(map[string]int),
		clock:     Epoch,
		logger:    logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now is the virtual clock.
func (c *Cluster) Now() time.Time { return c.clock }

// Tick is the number of ticks run so far.
func (c *Cluster) Tick() int { return c.tick }

// Names lists the roster in order.
func (c *Cluster) Names() []string { return slices.Clone(c.names) }

// Network exposes the link controls of the underlying fabric.
func (c *Cluster) Network() *transport.Network { return c.net }

func (c *Cluster) attach(name string) (*node, error) {
	if !slices.Contains(c.names, name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	if n, ok := c.nodes[name]; ok && !n.down {
		return nil, fmt.Errorf("%w: %s", ErrNodeRunning, name)
	}

	cfg := ccm.DefaultConfig()
	cfg.NodeName = name
	cfg.Roster = c.roster
	cfg.Keepalive = c.keepalive
	cfg.RetryDelay = 0
	cfg.QuorumOverride = c.quorum

	n := &node{
		name:    name,
		bus:     c.net.Attach(name),
		metrics: metrics.NewRegistry(),
		events:  pubsub.NewPubSub(),
	}
	e, err := ccm.NewEngine(cfg, n.bus,
		ccm.WithLogger(c.logger.With(logging.Node(name))),
		ccm.WithClock(c.Now),
		ccm.WithSleep(func(time.Duration) {}),
		ccm.WithMetrics(n.metrics),
		ccm.WithPublisher(n.events))
	if err != nil {
		c.net.Detach(name)
		return nil, err
	}
	n.engine = e
	c.starts[name]++
	inc := c.starts[name]
	e.Subscribe(func(r ccm.Report) {
		c.reports = append(c.reports, NodeReport{Tick: c.tick, Node: name, Incarnation: inc, Report: r})
	})
	c.nodes[name] = n
	return n, nil
}

// Boot attaches every named node before starting any, as in a cold start.
func (c *Cluster) Boot(names ...string) error {
	started := make([]*node, 0, len(names))
	for _, name := range names {
		n, err := c.attach(name)
		if err != nil {
			return err
		}
		started = append(started, n)
	}
	for _, n := range started {
		if err := n.engine.Start(); err != nil {
			return fmt.Errorf("start %s: %w", n.name, err)
		}
	}
	return nil
}

// Start brings up one node, fresh, with its own engine.
func (c *Cluster) Start(name string) error {
	return c.Boot(name)
}

// Crash stops a node without notice. Its peers see it die.
func (c *Cluster) Crash(name string) error {
	n, ok := c.nodes[name]
	if !ok || n.down {
		return fmt.Errorf("%w: %s", ErrNodeDown, name)
	}
	n.down = true
	c.net.Detach(name)
	return nil
}

// Leave makes a node announce its departure. The bus stays attached for
// one more tick so the announcement is delivered.
func (c *Cluster) Leave(name string) error {
	n, ok := c.nodes[name]
	if !ok || n.down {
		return fmt.Errorf("%w: %s", ErrNodeDown, name)
	}
	if err := n.engine.Leave(); err != nil {
		return err
	}
	n.leaving = true
	return nil
}

// Step runs one tick.
func (c *Cluster) Step() error {
	c.clock = c.clock.Add(c.keepalive)
	c.tick++
	for _, name := range c.names {
		n, ok := c.nodes[name]
		if !ok || n.down || n.leaving {
			continue
		}
		if err := n.engine.Step(); err != nil {
			return fmt.Errorf("tick %d: %s: %w", c.tick, name, err)
		}
	}
	for _, name := range c.names {
		if n, ok := c.nodes[name]; ok && n.leaving {
			n.leaving = false
			n.down = true
			c.net.Detach(name)
		}
	}
	return nil
}

// Run runs n ticks.
func (c *Cluster) Run(n int) error {
	for i := 0; i < n; i++ {
		if err := c.Step(); err != nil {
			return err
		}
	}
	return nil
}

// RunUntil ticks until cond holds or maxTicks have run. It reports whether
// cond held.
func (c *Cluster) RunUntil(maxTicks int, cond func() bool) (bool, error) {
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return true, nil
		}
		if err := c.Step(); err != nil {
			return false, err
		}
	}
	return cond(), nil
}

// Running lists the nodes currently up.
func (c *Cluster) Running() []string {
	var out []string
	for _, name := range c.names {
		if n, ok := c.nodes[name]; ok && !n.down && !n.leaving {
			out = append(out, name)
		}
	}
	return out
}

// Snapshot returns the engine view of a node that was ever started.
func (c *Cluster) Snapshot(name string) (ccm.Snapshot, bool) {
	n, ok := c.nodes[name]
	if !ok {
		return ccm.Snapshot{}, false
	}
	return n.engine.Snapshot(), true
}

// Metrics returns the registry of a node.
func (c *Cluster) Metrics(name string) *metrics.Registry {
	if n, ok := c.nodes[name]; ok {
		return n.metrics
	}
	return nil
}

// Events returns the publisher of a node.
func (c *Cluster) Events(name string) *pubsub.PubSub {
	if n, ok := c.nodes[name]; ok {
		return n.events
	}
	return nil
}

// Reports returns every report delivered so far, in delivery order.
func (c *Cluster) Reports() []NodeReport { return slices.Clone(c.reports) }

// Settled reports whether the named nodes are JOINED in one membership
// made of exactly themselves.
func (c *Cluster) Settled(names ...string) bool {
	want := slices.Clone(names)
	slices.Sort(want)

	var first ccm.Snapshot
	for i, name := range want {
		n, ok := c.nodes[name]
		if !ok || n.down {
			return false
		}
		snap := n.engine.Snapshot()
		if !snap.Settled || !slices.Equal(snap.Members, want) {
			return false
		}
		if i == 0 {
			first = snap
			continue
		}
		if snap.Cookie != first.Cookie || snap.Major != first.Major || snap.Leader != first.Leader {
			return false
		}
	}
	return true
}

// WaitSettled ticks until the named nodes settle together. It always runs
// at least one tick first: snapshots are published at the end of a step, so
// before that they still describe the network as it was before the last
// cut, crash or partition.
func (c *Cluster) WaitSettled(maxTicks int, names ...string) error {
	if maxTicks > 0 {
		if err := c.Step(); err != nil {
			return err
		}
		maxTicks--
	}
	ok, err := c.RunUntil(maxTicks, func() bool { return c.Settled(names...) })
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %v within %d ticks", ErrNotSettled, names, maxTicks)
	}
	return nil
}

// CheckReports verifies that every report names its node and its leader as
// members, that transitions only grow within one incarnation, and that a (cookie,
// transition) pair always names the same members.
func (c *Cluster) CheckReports() error {
	seen := make(map[string][]string)
	last := make(map[string]uint32)
	for _, nr := range c.reports {
		r := nr.Report
		names := r.MemberNames()
		if !slices.Contains(names, nr.Node) {
			return fmt.Errorf("%s report at tick %d omits itself: %v", nr.Node, nr.Tick, names)
		}
		if !slices.Contains(names, r.Leader) {
			return fmt.Errorf("%s report at tick %d omits leader %s", nr.Node, nr.Tick, r.Leader)
		}
		inc := fmt.Sprintf("%s#%d", nr.Node, nr.Incarnation)
		if prev, ok := last[inc]; ok && r.Transition <= prev {
			return fmt.Errorf("%s report at tick %d: transition %d after %d", nr.Node, nr.Tick, r.Transition, prev)
		}
		last[inc] = r.Transition

		key := fmt.Sprintf("%s/%d", r.Cookie, r.Transition)
		if prev, ok := seen[key]; ok && !slices.Equal(prev, names) {
			return fmt.Errorf("epoch %s reported as %v and %v", key, prev, names)
		}
		seen[key] = names
	}
	return nil
}

// sentTotal sums the messages of type t sent by the running nodes.
func (c *Cluster) sentTotal(t ccm.MessageType) float64 {
	total := 0.0
	for _, n := range c.nodes {
		var m dto.Metric
		if err := n.metrics.CCMMessagesTotal.WithLabelValues("sent", t.String()).Write(&m); err != nil {
			continue
		}
		total += m.GetCounter().GetValue()
	}
	return total
}
