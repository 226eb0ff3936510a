package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-ccm/pkg/audit"
	"github.com/dd0wney/cluso-ccm/pkg/auth"
	"github.com/dd0wney/cluso-ccm/pkg/ccm"
	"github.com/dd0wney/cluso-ccm/pkg/health"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/metrics"
	"github.com/dd0wney/cluso-ccm/pkg/pubsub"
)

const testSecret = "admin-test-secret-at-least-32-characters"

type fakeEngine struct {
	mu     sync.Mutex
	snap   ccm.Snapshot
	leaves int
}

func (f *fakeEngine) Snapshot() ccm.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) RequestLeave() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return f.leaves == 1
}

func settledSnapshot() ccm.Snapshot {
	report := &ccm.Report{
		Node:       "a",
		Transition: 3,
		Cookie:     "abcdefghijklmno",
		Leader:     "a",
		Members:    []ccm.Member{{Name: "a", Index: 0, BornOn: 1}, {Name: "b", Index: 1, BornOn: 2}},
		Quorum:     true,
	}
	return ccm.Snapshot{
		Node:       "a",
		State:      "JOINED",
		Major:      3,
		Cookie:     report.Cookie,
		Leader:     "a",
		Members:    []string{"a", "b"},
		Settled:    true,
		Quorum:     true,
		LastReport: report,
		Roster: []ccm.RosterView{
			{Name: "a", Index: 0, Status: "active", Member: true},
			{Name: "b", Index: 1, Status: "active", Member: true},
			{Name: "c", Index: 2, Status: "dead"},
		},
	}
}

type adminFixture struct {
	engine  *fakeEngine
	events  *pubsub.PubSub
	metrics *metrics.Registry
	jwt     *auth.JWTManager
	audit   *audit.AuditLogger
	handler http.Handler
}

func newAdminFixture(t *testing.T, snap ccm.Snapshot) *adminFixture {
	t.Helper()
	jwt, err := auth.NewJWTManager(testSecret, "test-cluster", time.Hour)
	require.NoError(t, err)

	f := &adminFixture{
		engine:  &fakeEngine{snap: snap},
		events:  pubsub.NewPubSub(),
		metrics: metrics.NewRegistry(),
		jwt:     jwt,
		audit:   audit.NewAuditLogger("a", 50),
	}
	t.Cleanup(f.events.Shutdown)

	hc := health.NewHealthChecker()
	RegisterEngineChecks(hc, f.engine)
	f.handler = NewAdminHandler(AdminConfig{
		Engine:         f.engine,
		Health:         hc,
		Metrics:        f.metrics,
		Events:         f.events,
		Tokens:         jwt,
		Audit:          f.audit,
		EventKeepalive: 20 * time.Millisecond,
	})
	return f
}

func (f *adminFixture) do(t *testing.T, method, path, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if role != "" {
		token, err := f.jwt.GenerateToken("tester", role)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAdmin_Membership(t *testing.T) {
	f := newAdminFixture(t, settledSnapshot())

	rec := f.do(t, http.MethodGet, "/membership", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var resp MembershipResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Settled)
	require.NotNil(t, resp.Report)
	assert.Equal(t, uint32(3), resp.Report.Transition)
	assert.Equal(t, []string{"a", "b"}, resp.Report.MemberNames())
}

func TestAdmin_MembershipBeforeFirstReport(t *testing.T) {
	f := newAdminFixture(t, ccm.Snapshot{Node: "a", State: "JOINING"})

	rec := f.do(t, http.MethodGet, "/membership", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MembershipResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Settled)
	assert.Nil(t, resp.Report)
	assert.Equal(t, "JOINING", resp.State)
}

func TestAdmin_StatusRequiresViewer(t *testing.T) {
	f := newAdminFixture(t, settledSnapshot())

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/status", "").Code)

	rec := f.do(t, http.MethodGet, "/status", auth.RoleViewer)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap ccm.Snapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, "JOINED", snap.State)
	assert.Len(t, snap.Roster, 3)
}

func TestAdmin_Leave(t *testing.T) {
	f := newAdminFixture(t, settledSnapshot())

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodPost, "/admin/leave", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodPost, "/admin/leave", auth.RoleViewer).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/admin/leave", auth.RoleOperator).Code)

	rec := f.do(t, http.MethodPost, "/admin/leave", auth.RoleOperator)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp LeaveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "tester", resp.Requested)

	rec = f.do(t, http.MethodPost, "/admin/leave", auth.RoleOperator)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Accepted, "second request while one is pending")

	f.engine.mu.Lock()
	f.engine.snap.Stopped = true
	f.engine.mu.Unlock()
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/admin/leave", auth.RoleOperator).Code)
}

func TestAdmin_Audit(t *testing.T) {
	f := newAdminFixture(t, settledSnapshot())

	f.do(t, http.MethodGet, "/status", "")
	f.do(t, http.MethodPost, "/admin/leave", auth.RoleViewer)
	f.do(t, http.MethodPost, "/admin/leave", auth.RoleOperator)
	f.engine.mu.Lock()
	f.engine.snap.Stopped = true
	f.engine.mu.Unlock()
	f.do(t, http.MethodPost, "/admin/leave", auth.RoleOperator)

	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/admin/audit", auth.RoleViewer).Code)

	rec := f.do(t, http.MethodGet, "/admin/audit", auth.RoleOperator)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AuditResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "a", resp.Node)
	assert.Equal(t, int64(5), resp.Total, "two denied tokens, two leaves, one denied audit read")
	require.Len(t, resp.Events, 5)

	newest := resp.Events[0]
	assert.Equal(t, audit.ActionAuth, newest.Action)
	assert.Equal(t, "GET /admin/audit", newest.Target)

	leaves := f.audit.GetEvents(&audit.Filter{Action: audit.ActionLeave})
	require.Len(t, leaves, 2)
	assert.Equal(t, "tester", leaves[0].Actor)
	assert.Equal(t, audit.StatusSuccess, leaves[0].Status)
	assert.Equal(t, true, leaves[0].Metadata["accepted"])
	assert.NotEmpty(t, leaves[0].RequestID)
	assert.Equal(t, audit.StatusFailure, leaves[1].Status)

	denied := f.audit.GetEvents(&audit.Filter{Action: audit.ActionAuth})
	require.Len(t, denied, 3)
	assert.Equal(t, "Unauthorized", denied[0].Error)
	assert.Equal(t, "GET /status", denied[0].Target)
	assert.Equal(t, "Forbidden", denied[1].Error)

	rec = f.do(t, http.MethodGet, "/admin/audit?action=leave&status=failure", auth.RoleOperator)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "engine already stopped", resp.Events[0].Error)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/admin/audit?limit=0", auth.RoleOperator).Code)
}

func TestAdmin_HealthFollowsMembership(t *testing.T) {
	f := newAdminFixture(t, settledSnapshot())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "").Code)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp health.Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, health.StatusDegraded, resp.Status, "one roster node is dead")
	assert.Equal(t, health.StatusHealthy, resp.Checks["membership"].Status)

	f.engine.mu.Lock()
	f.engine.snap = ccm.Snapshot{Node: "a", State: "JOINING"}
	f.engine.mu.Unlock()
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/ready", "").Code)
}

func TestAdmin_MetricsEndpoint(t *testing.T) {
	f := newAdminFixture(t, settledSnapshot())
	f.do(t, http.MethodGet, "/membership", "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "ccm_http_requests_total")
	assert.Contains(t, body, `path="GET /membership"`)
}

func TestAdmin_PanicRecovered(t *testing.T) {
	h := recoverPanics(logging.NewNopLogger(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestAdmin_EventStream(t *testing.T) {
	f := newAdminFixture(t, settledSnapshot())
	f.events.Publish(pubsub.TopicMembership, *f.engine.snap.LastReport)

	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	name, data := readEvent(t, r)
	assert.Equal(t, pubsub.TopicMembership, name, "retained report comes first")
	var report ccm.Report
	require.NoError(t, json.Unmarshal([]byte(data), &report))
	assert.Equal(t, uint32(3), report.Transition)

	f.events.Publish(pubsub.TopicEvents, ccm.Event{ID: "e1", Type: ccm.EventInflux, Node: "a", Transition: 3})
	name, data = readEvent(t, r)
	assert.Equal(t, pubsub.TopicEvents, name)
	assert.Contains(t, data, `"INFLUX"`)
}

// readEvent returns the next named event, skipping keepalive comments.
func readEvent(t *testing.T, r *bufio.Reader) (name, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err == io.EOF {
			t.Fatal("stream ended")
		}
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}
