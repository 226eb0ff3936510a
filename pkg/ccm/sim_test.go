package ccm

import (
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-ccm/pkg/metrics"
	"github.com/dd0wney/cluso-ccm/pkg/pubsub"
	"github.com/dd0wney/cluso-ccm/pkg/transport"
)

const simKeepalive = 100 * time.Millisecond

type simNode struct {
	name    string
	bus     *transport.MemoryBus
	engine  *Engine
	metrics *metrics.Registry
	events  *pubsub.PubSub
	reports []Report
	down    bool
}

// simCluster drives engines over an in-memory network on a virtual clock.
// Each tick advances the clock by one keepalive and steps every live
// engine once, in name order.
type simCluster struct {
	t      *testing.T
	net    *transport.Network
	roster []RosterEntry
	names  []string
	nodes  map[string]*simNode
	clock  time.Time
}

func newSimCluster(t *testing.T, names ...string) *simCluster {
	t.Helper()
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return &simCluster{
		t:      t,
		net:    transport.NewNetwork(simKeepalive),
		roster: RosterFromNames(sorted...),
		names:  sorted,
		nodes:  make(map[string]*simNode),
		clock:  time.Unix(1_700_000_000, 0),
	}
}

func (c *simCluster) now() time.Time { return c.clock }

// attach connects a fresh engine for name without starting it.
func (c *simCluster) attach(name string) *simNode {
	c.t.Helper()
	cfg := DefaultConfig()
	cfg.NodeName = name
	cfg.Roster = c.roster
	cfg.RetryDelay = 0

	n := &simNode{
		name:    name,
		bus:     c.net.Attach(name),
		metrics: metrics.NewRegistry(),
		events:  pubsub.NewPubSub(),
	}
	e, err := NewEngine(cfg, n.bus,
		WithClock(c.now),
		WithSleep(func(time.Duration) {}),
		WithMetrics(n.metrics),
		WithPublisher(n.events))
	require.NoError(c.t, err)
	n.engine = e
	e.Subscribe(func(r Report) { n.reports = append(n.reports, r) })
	c.nodes[name] = n
	return n
}

// boot attaches every node before starting any, as in a cold start.
func (c *simCluster) boot(names ...string) {
	c.t.Helper()
	for _, name := range names {
		c.attach(name)
	}
	for _, name := range names {
		require.NoError(c.t, c.nodes[name].engine.Start())
	}
}

func (c *simCluster) crash(name string) {
	c.nodes[name].down = true
	c.net.Detach(name)
}

func (c *simCluster) tick() {
	c.t.Helper()
	c.clock = c.clock.Add(simKeepalive)
	for _, name := range c.names {
		n, ok := c.nodes[name]
		if !ok || n.down {
			continue
		}
		require.NoError(c.t, n.engine.Step())
	}
}

func (c *simCluster) runUntil(maxTicks int, cond func() bool) bool {
	c.t.Helper()
	for i := 0; i < maxTicks; i++ {
		if cond() {
			return true
		}
		c.tick()
	}
	return cond()
}

func (c *simCluster) ticks(n int) {
	c.t.Helper()
	for i := 0; i < n; i++ {
		c.tick()
	}
}

// settled reports whether the named nodes are JOINED in exactly one
// membership made of themselves.
func (c *simCluster) settled(names ...string) bool {
	want := append([]string(nil), names...)
	sort.Strings(want)

	var first Snapshot
	for i, name := range want {
		snap := c.nodes[name].engine.Snapshot()
		if snap.State != StateJoined.String() || fmt.Sprint(snap.Members) != fmt.Sprint(want) {
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

// groupsSettled reports whether every live node is JOINED and agrees with
// each of its members on the membership and epoch.
func (c *simCluster) groupsSettled() bool {
	for _, name := range c.names {
		n, ok := c.nodes[name]
		if !ok || n.down {
			continue
		}
		snap := n.engine.Snapshot()
		if snap.State != StateJoined.String() {
			return false
		}
		for _, m := range snap.Members {
			peer, ok := c.nodes[m]
			if !ok || peer.down {
				return false
			}
			other := peer.engine.Snapshot()
			if other.State != StateJoined.String() || other.Cookie != snap.Cookie ||
				other.Major != snap.Major || fmt.Sprint(other.Members) != fmt.Sprint(snap.Members) {
				return false
			}
		}
	}
	return true
}

func (c *simCluster) requireSettled(maxTicks int, names ...string) Snapshot {
	c.t.Helper()
	if !c.runUntil(maxTicks, func() bool { return c.settled(names...) }) {
		for _, name := range c.names {
			if n, ok := c.nodes[name]; ok {
				s := n.engine.Snapshot()
				c.t.Logf("%s: state=%s major=%d minor=%d members=%v leader=%s",
					name, s.State, s.Major, s.Minor, s.Members, s.Leader)
			}
		}
		c.t.Fatalf("%v did not settle within %d ticks", names, maxTicks)
	}
	return c.nodes[names[0]].engine.Snapshot()
}

// checkReports verifies the guarantees every report stream must hold:
// self is a member, majors only grow, and a (cookie, major) pair always
// names the same members.
func (c *simCluster) checkReports() {
	c.t.Helper()
	seen := make(map[string]string)
	for _, name := range c.names {
		n, ok := c.nodes[name]
		if !ok {
			continue
		}
		var last uint32
		for i, r := range n.reports {
			members := fmt.Sprint(r.MemberNames())
			require.Contains(c.t, r.MemberNames(), name, "%s report %d", name, i)
			require.Contains(c.t, r.MemberNames(), r.Leader, "%s report %d", name, i)
			require.Greater(c.t, r.Transition, last, "%s report %d", name, i)
			last = r.Transition

			key := fmt.Sprintf("%s/%d", r.Cookie, r.Transition)
			if prev, ok := seen[key]; ok {
				require.Equal(c.t, prev, members, "epoch %s", key)
			}
			seen[key] = members
		}
	}
}

func (c *simCluster) sent(name string, t MessageType) float64 {
	return counterValue(c.t, c.nodes[name].metrics.CCMMessagesTotal.WithLabelValues("sent", t.String()))
}

func (c *simCluster) sentByAll(t MessageType) float64 {
	total := 0.0
	for _, n := range c.nodes {
		total += c.sent(n.name, t)
	}
	return total
}

func counterValue(t *testing.T, col prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, col.Write(&m))
	return m.Counter.GetValue()
}
