// Package server hosts the admin HTTP surface of a ccmd node.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dd0wney/cluso-ccm/pkg/audit"
	"github.com/dd0wney/cluso-ccm/pkg/auth"
	"github.com/dd0wney/cluso-ccm/pkg/ccm"
	"github.com/dd0wney/cluso-ccm/pkg/health"
	"github.com/dd0wney/cluso-ccm/pkg/logging"
	"github.com/dd0wney/cluso-ccm/pkg/metrics"
	"github.com/dd0wney/cluso-ccm/pkg/pubsub"
	"github.com/dd0wney/cluso-ccm/pkg/transport"
)

// Engine is the part of the membership engine the admin surface reads.
type Engine interface {
	Snapshot() ccm.Snapshot
	RequestLeave() bool
}

// AdminConfig wires the admin handler. Tokens may be nil to disable auth.
type AdminConfig struct {
	Engine  Engine
	Health  *health.HealthChecker
	Metrics *metrics.Registry
	Events  *pubsub.PubSub
	Tokens  auth.TokenValidator
	Audit   *audit.AuditLogger
	Logger  logging.Logger

	// EventKeepalive is the SSE comment interval on an idle stream.
	EventKeepalive time.Duration
}

// MembershipResponse is the body of GET /membership.
type MembershipResponse struct {
	Node    string      `json:"node"`
	State   string      `json:"state"`
	Settled bool        `json:"settled"`
	Report  *ccm.Report `json:"report,omitempty"`
}

// LeaveResponse is the body of POST /admin/leave.
type LeaveResponse struct {
	Node      string `json:"node"`
	Accepted  bool   `json:"accepted"`
	Requested string `json:"requested_by,omitempty"`
}

type admin struct {
	cfg    AdminConfig
	logger logging.Logger
}

// NewAdminHandler builds the admin routes.
func NewAdminHandler(cfg AdminConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Health == nil {
		cfg.Health = health.NewHealthChecker()
	}
	if cfg.EventKeepalive == 0 {
		cfg.EventKeepalive = 15 * time.Second
	}
	a := &admin{cfg: cfg, logger: cfg.Logger.With(logging.Component("admin"))}

	mux := http.NewServeMux()
	mux.Handle("GET /health", cfg.Health.HTTPHandler())
	mux.Handle("GET /ready", cfg.Health.ReadinessHandler())
	mux.Handle("GET /live", cfg.Health.LivenessHandler())
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Metrics.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /membership", a.handleMembership)
	mux.Handle("GET /status", a.require(auth.RoleViewer, a.handleStatus))
	mux.HandleFunc("GET /events", a.handleEvents)
	mux.Handle("POST /admin/leave", a.require(auth.RoleOperator, a.handleLeave))
	if cfg.Audit != nil {
		mux.Handle("GET /admin/audit", a.require(auth.RoleOperator, a.handleAudit))
	}

	return recoverPanics(a.logger, requestID(instrument(cfg.Metrics, a.logger, mux)))
}

// RegisterEngineChecks adds the membership health checks for e.
func RegisterEngineChecks(hc *health.HealthChecker, e Engine) {
	get := func() health.Membership { return membershipOf(e.Snapshot()) }
	hc.RegisterCheck("membership", health.MembershipCheck(get))
	hc.RegisterReadinessCheck("membership", health.MembershipReady(get))
	hc.RegisterCheck("peers", health.PeersCheck(func() (int, int) {
		snap := e.Snapshot()
		active := 0
		for _, n := range snap.Roster {
			if n.Status == string(transport.StatusActive) {
				active++
			}
		}
		return active, len(snap.Roster)
	}))
}

func membershipOf(s ccm.Snapshot) health.Membership {
	return health.Membership{
		State:   s.State,
		Members: len(s.Members),
		Roster:  len(s.Roster),
		Quorum:  s.Quorum,
		Settled: s.Settled,
		Stopped: s.Stopped,
	}
}

// require guards h with a role and audits rejected tokens.
func (a *admin) require(role string, h http.HandlerFunc) http.Handler {
	guarded := auth.Require(a.cfg.Tokens, role, h)
	if a.cfg.Audit == nil {
		return guarded
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		guarded.ServeHTTP(rw, r)
		if rw.statusCode == http.StatusUnauthorized || rw.statusCode == http.StatusForbidden {
			ev := audit.NewFailedEvent("", audit.ActionAuth, http.StatusText(rw.statusCode))
			ev.Target = r.Pattern
			a.record(r, ev)
		}
	})
}

func (a *admin) record(r *http.Request, ev *audit.Event) {
	if a.cfg.Audit == nil {
		return
	}
	ev.RemoteAddr = r.RemoteAddr
	ev.RequestID = GetRequestID(r)
	if err := a.cfg.Audit.Log(ev); err != nil {
		a.logger.Warn("audit log failed", logging.Error(err))
	}
}

func (a *admin) handleMembership(w http.ResponseWriter, r *http.Request) {
	snap := a.cfg.Engine.Snapshot()
	resp := MembershipResponse{
		Node:    snap.Node,
		State:   snap.State,
		Settled: snap.Settled,
		Report:  snap.LastReport,
	}
	respondJSON(w, http.StatusOK, resp)
}

func (a *admin) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, a.cfg.Engine.Snapshot())
}

func (a *admin) handleLeave(w http.ResponseWriter, r *http.Request) {
	snap := a.cfg.Engine.Snapshot()
	var actor string
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		actor = claims.Subject
	}
	if snap.Stopped {
		ev := audit.NewFailedEvent(actor, audit.ActionLeave, "engine already stopped")
		ev.Target = snap.Node
		a.record(r, ev)
		respondJSON(w, http.StatusConflict, auth.ErrorResponse{
			Error:   http.StatusText(http.StatusConflict),
			Message: "engine already stopped",
		})
		return
	}

	resp := LeaveResponse{Node: snap.Node, Accepted: a.cfg.Engine.RequestLeave(), Requested: actor}
	ev := audit.NewEvent(actor, audit.ActionLeave, snap.Node)
	ev.Metadata = map[string]any{"accepted": resp.Accepted}
	a.record(r, ev)
	a.logger.Info("leave requested",
		logging.String("request_id", GetRequestID(r)),
		logging.String("by", resp.Requested),
		logging.Bool("accepted", resp.Accepted))
	respondJSON(w, http.StatusAccepted, resp)
}

// AuditResponse is the body of GET /admin/audit.
type AuditResponse struct {
	Node   string         `json:"node"`
	Total  int64          `json:"total"`
	Events []*audit.Event `json:"events"`
}

// handleAudit lists recent audit events, newest first. It accepts
// action, status and limit query parameters.
func (a *admin) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondJSON(w, http.StatusBadRequest, auth.ErrorResponse{
				Error:   http.StatusText(http.StatusBadRequest),
				Message: "limit must be a positive integer",
			})
			return
		}
		limit = n
	}
	filter := &audit.Filter{
		Action: audit.Action(q.Get("action")),
		Status: audit.Status(q.Get("status")),
	}
	respondJSON(w, http.StatusOK, AuditResponse{
		Node:   a.cfg.Engine.Snapshot().Node,
		Total:  a.cfg.Audit.Total(),
		Events: a.cfg.Audit.GetRecentEvents(limit, filter),
	})
}

// handleEvents streams membership reports and client events as
// server-sent events until the client goes away.
func (a *admin) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Events == nil {
		http.Error(w, "event stream disabled", http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	reports, err := a.cfg.Events.Subscribe(ctx, pubsub.TopicMembership)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer reports.Unsubscribe()
	events, err := a.cfg.Events.Subscribe(ctx, pubsub.TopicEvents)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer events.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(a.cfg.EventKeepalive)
	defer ticker.Stop()

	for {
		var (
			name string
			msg  any
			open bool
		)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			continue
		case msg, open = <-reports.Channel():
			name = pubsub.TopicMembership
		case msg, open = <-events.Channel():
			name = pubsub.TopicEvents
		}
		if !open {
			return
		}
		if err := writeEvent(w, name, msg); err != nil {
			a.logger.Debug("event stream closed", logging.Error(err))
			return
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, name string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
