package sim

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-ccm/pkg/ccm"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/validation"
)

// Step actions.
const (
	ActBoot      = "boot"      // Attach all nodes, then start them
	ActStart     = "start"     // Start nodes one at a time
	ActCrash     = "crash"     // Detach without notice
	ActLeave     = "leave"     // Graceful leave
	ActPartition = "partition" // Cut links between groups
	ActCut       = "cut"       // Cut the link between two nodes
	ActRestore   = "restore"   // Restore the link between two nodes
	ActHeal      = "heal"      // Restore every link
	ActRun       = "run"       // Run a fixed number of ticks
	ActSettle    = "settle"    // Run until nodes settle together
)

const (
	DefaultKeepalive   = 100 * time.Millisecond
	DefaultSettleTicks = 200
)

// Scenario is a scripted run of a cluster.
type Scenario struct {
	Name           string        `yaml:"name" validate:"required"`
	Description    string        `yaml:"description"`
	Nodes          []string      `yaml:"nodes" validate:"required,min=1,max=256,dive,nodename"`
	Keepalive      time.Duration `yaml:"keepalive"`
	QuorumOverride *bool         `yaml:"quorum_override"`
	Steps          []Step        `yaml:"steps" validate:"required,dive"`
}

// Step is one scenario action. Settle steps may also assert the leader,
// the transition, and whether the cookie changed since the last settle.
type Step struct {
	Do     string     `yaml:"do" validate:"required,oneof=boot start crash leave partition cut restore heal run settle"`
	Nodes  []string   `yaml:"nodes"`
	Groups [][]string `yaml:"groups"`
	Ticks  int        `yaml:"ticks" validate:"gte=0"`

	Leader      string `yaml:"leader"`
	Transition  uint32 `yaml:"transition"`
	FreshCookie bool   `yaml:"fresh_cookie"`
	NoFullRound bool   `yaml:"no_full_round"`
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	s.Keepalive = validation.DefaultOr(s.Keepalive, DefaultKeepalive)
	if err := validation.ValidateConfig(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks field constraints and that steps only name roster nodes.
func (s *Scenario) Validate() error {
	if err := validation.ValidateStruct(s); err != nil {
		return err
	}
	cv := validation.NewConfigValidator("scenario " + s.Name).
		Custom("nodes", func() error { return validation.ValidateUniqueNames(s.Nodes) }).
		MinDuration("keepalive", s.Keepalive, time.Millisecond)

	for i, st := range s.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		named := slices.Clone(st.Nodes)
		for _, g := range st.Groups {
			named = append(named, g...)
		}
		if st.Leader != "" {
			named = append(named, st.Leader)
		}
		for _, n := range named {
			cv.Custom(field, func() error {
				if !slices.Contains(s.Nodes, n) {
					return fmt.Errorf("unknown node %q", n)
				}
				return nil
			})
		}
		cv.When(st.Do == ActCut || st.Do == ActRestore, func(cv *validation.ConfigValidator) {
			cv.RangeInt(field+".nodes", len(st.Nodes), 2, 2)
		})
		cv.When(st.Do == ActPartition, func(cv *validation.ConfigValidator) {
			cv.RangeInt(field+".groups", len(st.Groups), 2, len(s.Nodes))
		})
		cv.When(st.Do == ActRun, func(cv *validation.ConfigValidator) {
			cv.RangeInt(field+".ticks", st.Ticks, 1, 1_000_000)
		})
	}
	return cv.Validate()
}

// StepResult records what one step observed.
type StepResult struct {
	Index    int
	Do       string
	Tick     int
	Snapshot *ccm.Snapshot // Set for settle steps
}

// Result is the outcome of Play.
type Result struct {
	Scenario string
	Ticks    int
	Elapsed  time.Duration // Virtual time
	Steps    []StepResult
	Reports  []NodeReport
	Final    map[string]ccm.Snapshot
}

// Play runs a scenario on a fresh cluster. It stops at the first step that
// fails, and always checks the report streams at the end.
func Play(s *Scenario, logger logging.Logger) (*Result, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	opts := []Option{WithLogger(logger)}
	if s.QuorumOverride != nil {
		opts = append(opts, WithQuorumOverride(*s.QuorumOverride))
	}
	c := NewCluster(s.Keepalive, s.Nodes, opts...)
	res := &Result{Scenario: s.Name}

	var lastCookie string
	var stepErr error
	for i, st := range s.Steps {
		sr := StepResult{Index: i, Do: st.Do}
		snap, err := c.apply(st, lastCookie)
		sr.Tick = c.Tick()
		if snap != nil {
			sr.Snapshot = snap
			lastCookie = snap.Cookie
		}
		res.Steps = append(res.Steps, sr)
		if err != nil {
			stepErr = fmt.Errorf("step %d (%s): %w", i, st.Do, err)
			logger.Warn("scenario step failed",
				logging.String("scenario", s.Name),
				logging.Int("step", i),
				logging.Error(err))
			break
		}
	}

	res.Ticks = c.Tick()
	res.Elapsed = c.Now().Sub(Epoch)
	res.Reports = c.Reports()
	res.Final = make(map[string]ccm.Snapshot)
	for _, name := range c.Names() {
		if snap, ok := c.Snapshot(name); ok {
			res.Final[name] = snap
		}
	}
	return res, errors.Join(stepErr, c.CheckReports())
}

func (c *Cluster) apply(st Step, lastCookie string) (*ccm.Snapshot, error) {
	switch st.Do {
	case ActBoot:
		return nil, c.Boot(c.targets(st)...)
	case ActStart:
		for _, n := range c.targets(st) {
			if err := c.Start(n); err != nil {
				return nil, err
			}
		}
	case ActCrash:
		for _, n := range st.Nodes {
			if err := c.Crash(n); err != nil {
				return nil, err
			}
		}
	case ActLeave:
		for _, n := range st.Nodes {
			if err := c.Leave(n); err != nil {
				return nil, err
			}
		}
	case ActPartition:
		c.net.Partition(st.Groups...)
	case ActCut:
		c.net.Cut(st.Nodes[0], st.Nodes[1])
	case ActRestore:
		c.net.Restore(st.Nodes[0], st.Nodes[1])
	case ActHeal:
		c.net.Heal()
	case ActRun:
		return nil, c.Run(st.Ticks)
	case ActSettle:
		return c.settle(st, lastCookie)
	default:
		return nil, fmt.Errorf("unknown action %q", st.Do)
	}
	return nil, nil
}

// targets defaults to every roster node.
func (c *Cluster) targets(st Step) []string {
	if len(st.Nodes) == 0 {
		return c.Names()
	}
	return st.Nodes
}

func (c *Cluster) settle(st Step, lastCookie string) (*ccm.Snapshot, error) {
	nodes := st.Nodes
	if len(nodes) == 0 {
		nodes = c.Running()
	}
	if len(nodes) == 0 {
		return nil, ErrNodeDown
	}
	ticks := st.Ticks
	if ticks == 0 {
		ticks = DefaultSettleTicks
	}

	reqs := c.sentTotal(ccm.MsgReqMemlist)
	if err := c.WaitSettled(ticks, nodes...); err != nil {
		return nil, err
	}
	snap, _ := c.Snapshot(nodes[0])

	switch {
	case st.Leader != "" && snap.Leader != st.Leader:
		return &snap, fmt.Errorf("leader is %s, want %s", snap.Leader, st.Leader)
	case st.Transition != 0 && snap.Major != st.Transition:
		return &snap, fmt.Errorf("transition is %d, want %d", snap.Major, st.Transition)
	case st.FreshCookie && snap.Cookie == lastCookie:
		return &snap, fmt.Errorf("cookie %s was not replaced", snap.Cookie)
	case st.NoFullRound && c.sentTotal(ccm.MsgReqMemlist) != reqs:
		return &snap, errors.New("a full membership round ran")
	}
	return &snap, nil
}
