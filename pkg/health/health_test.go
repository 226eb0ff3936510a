package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// node is a fake membership engine and transport for the checks.
type node struct {
	mu            sync.Mutex
	membership    Membership
	active, total int
	alloc, sys    uint64
}

func (n *node) set(m Membership, active int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.membership = m
	n.active = active
}

func (n *node) get() Membership {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.membership
}

func (n *node) peers() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active, n.total
}

func (n *node) memory() (uint64, uint64) { return n.alloc, n.sys }

// newNodeChecker registers the checks the daemon and admin server use.
func newNodeChecker(n *node) *HealthChecker {
	hc := NewHealthChecker()
	hc.RegisterCheck("membership", MembershipCheck(n.get))
	hc.RegisterCheck("peers", PeersCheck(n.peers))
	hc.RegisterReadinessCheck("membership", MembershipReady(n.get))
	hc.RegisterLivenessCheck("memory", MemoryCheck(n.memory))
	return hc
}

var (
	forming  = Membership{State: "JOINING", Roster: 3}
	minority = Membership{State: "JOINED", Members: 1, Roster: 3, Settled: true}
	settled  = Membership{State: "JOINED", Members: 3, Roster: 3, Quorum: true, Settled: true}
	stopped  = Membership{State: "NONE", Roster: 3, Stopped: true}
)

func TestMembershipCheck(t *testing.T) {
	tests := []struct {
		name           string
		state          Membership
		expectedStatus Status
		expectedMsg    string
	}{
		{"settled with quorum", settled, StatusHealthy, "Membership settled"},
		{"settled without quorum", minority, StatusDegraded, "No quorum"},
		{"round in progress", forming, StatusDegraded, "Membership forming"},
		{"stopped", stopped, StatusUnhealthy, "Engine stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := MembershipCheck(func() Membership { return tt.state })()

			if check.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, check.Status)
			}
			if check.Message != tt.expectedMsg {
				t.Errorf("expected message %q, got %q", tt.expectedMsg, check.Message)
			}
			if check.Details["state"] != tt.state.State {
				t.Errorf("expected state detail %q, got %v", tt.state.State, check.Details["state"])
			}
			if check.Details["members"] != tt.state.Members {
				t.Errorf("expected members detail %d, got %v", tt.state.Members, check.Details["members"])
			}
		})
	}
}

func TestMembershipReady(t *testing.T) {
	tests := []struct {
		state Membership
		want  Status
	}{
		{settled, StatusHealthy},
		{minority, StatusHealthy},
		{forming, StatusUnhealthy},
		{Membership{Settled: true, Stopped: true}, StatusUnhealthy},
	}
	for _, tt := range tests {
		got := MembershipReady(func() Membership { return tt.state })()
		if got.Status != tt.want {
			t.Errorf("%+v: expected %s, got %s", tt.state, tt.want, got.Status)
		}
	}
}

func TestPeersCheck(t *testing.T) {
	tests := []struct {
		name           string
		active, total  int
		expectedStatus Status
		expectedMsg    string
	}{
		{"single node roster", 1, 1, StatusHealthy, "All peers reachable"},
		{"all reachable", 3, 3, StatusHealthy, "All peers reachable"},
		{"some unreachable", 2, 3, StatusDegraded, "Some peers unreachable"},
		{"isolated", 1, 3, StatusDegraded, "Isolated from all peers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := PeersCheck(func() (int, int) { return tt.active, tt.total })()

			if check.Status != tt.expectedStatus {
				t.Errorf("expected status %s, got %s", tt.expectedStatus, check.Status)
			}
			if check.Message != tt.expectedMsg {
				t.Errorf("expected message %q, got %q", tt.expectedMsg, check.Message)
			}
			if check.Details["active"] != tt.active || check.Details["total"] != tt.total {
				t.Errorf("unexpected details %v", check.Details)
			}
		})
	}
}

func TestMemoryCheck(t *testing.T) {
	tests := []struct {
		alloc, sys uint64
		want       Status
	}{
		{50, 100, StatusHealthy},
		{90, 100, StatusHealthy},
		{95, 100, StatusDegraded},
	}
	for _, tt := range tests {
		check := MemoryCheck(func() (uint64, uint64) { return tt.alloc, tt.sys })()
		if check.Status != tt.want {
			t.Errorf("%d/%d: expected %s, got %s", tt.alloc, tt.sys, tt.want, check.Status)
		}
		if check.Details["alloc_bytes"] != tt.alloc {
			t.Errorf("alloc_bytes detail = %v", check.Details["alloc_bytes"])
		}
	}
}

// TestNodeChecker_Lifecycle follows a node from a forming round through a
// settled cluster, a lost peer, and shutdown.
func TestNodeChecker_Lifecycle(t *testing.T) {
	n := &node{total: 3, alloc: 10, sys: 100}
	hc := newNodeChecker(n)

	tests := []struct {
		name      string
		state     Membership
		active    int
		overall   Status
		readiness Status
	}{
		{"forming", forming, 3, StatusDegraded, StatusUnhealthy},
		{"settled", settled, 3, StatusHealthy, StatusHealthy},
		{"peer lost", minority, 2, StatusDegraded, StatusHealthy},
		{"stopped", stopped, 1, StatusUnhealthy, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n.set(tt.state, tt.active)

			resp := hc.Check()
			if resp.Status != tt.overall {
				t.Errorf("overall: expected %s, got %s", tt.overall, resp.Status)
			}
			if len(resp.Checks) != 2 {
				t.Errorf("expected membership and peers, got %v", resp.Checks)
			}
			for name, check := range resp.Checks {
				if check.Name != name {
					t.Errorf("check %q reported name %q", name, check.Name)
				}
				if check.LastChecked.IsZero() {
					t.Errorf("check %q has no timestamp", name)
				}
			}

			if got := hc.CheckReadiness().Status; got != tt.readiness {
				t.Errorf("readiness: expected %s, got %s", tt.readiness, got)
			}
			if got := hc.CheckLiveness().Status; got != StatusHealthy {
				t.Errorf("liveness follows memory only, got %s", got)
			}
		})
	}
}

func TestNodeChecker_Handlers(t *testing.T) {
	tests := []struct {
		name   string
		state  Membership
		active int
		health int
		ready  int
	}{
		{"settled", settled, 3, http.StatusOK, http.StatusOK},
		{"forming is degraded but not ready", forming, 3, http.StatusOK, http.StatusServiceUnavailable},
		{"stopped", stopped, 1, http.StatusServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &node{total: 3, alloc: 10, sys: 100}
			n.set(tt.state, tt.active)
			hc := newNodeChecker(n)

			endpoints := []struct {
				handler http.HandlerFunc
				code    int
			}{
				{hc.HTTPHandler(), tt.health},
				{hc.ReadinessHandler(), tt.ready},
				{hc.LivenessHandler(), http.StatusOK},
			}
			for _, ep := range endpoints {
				rec := httptest.NewRecorder()
				ep.handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

				if rec.Code != ep.code {
					t.Errorf("expected status code %d, got %d", ep.code, rec.Code)
				}
				if rec.Header().Get("Content-Type") != "application/json" {
					t.Error("expected Content-Type application/json")
				}
				if rec.Header().Get("Cache-Control") != "no-store" {
					t.Error("expected Cache-Control no-store")
				}
				var resp Response
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
			}
		})
	}
}

func TestNodeChecker_MembershipDetailsInJSON(t *testing.T) {
	n := &node{total: 3, alloc: 10, sys: 100}
	n.set(settled, 3)
	hc := newNodeChecker(n)

	rec := httptest.NewRecorder()
	hc.HTTPHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Status Status `json:"status"`
		Checks map[string]struct {
			Details map[string]any `json:"details"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", body.Status)
	}
	details := body.Checks["membership"].Details
	if details["state"] != "JOINED" || details["quorum"] != true || details["members"] != float64(3) {
		t.Errorf("unexpected membership details %v", details)
	}
}

func TestNodeChecker_ConcurrentUse(t *testing.T) {
	n := &node{total: 3, alloc: 10, sys: 100}
	hc := newNodeChecker(n)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			hc.RegisterCheck(fmt.Sprintf("extra-%d", i), PeersCheck(n.peers))
		}(i)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				n.set(settled, 3)
			} else {
				n.set(forming, 2)
			}
			hc.Check()
		}(i)
	}
	wg.Wait()

	if got := len(hc.Check().Checks); got != 12 {
		t.Errorf("expected 12 checks, got %d", got)
	}
}
