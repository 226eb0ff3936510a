package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/clusterfile"
	"github.com/dd0wney/cluso-ccm/pkg/server"
)

type client struct {
	http   *http.Client
	token  string
	scheme string
}

// newClient talks HTTPS when tc is set.
func newClient(token string, tc *tls.Config) *client {
	c := &client{http: &http.Client{Timeout: 10 * time.Second}, token: token, scheme: "http"}
	if tc != nil {
		c.http.Transport = &http.Transport{TLSClientConfig: tc}
		c.scheme = "https"
	}
	return c
}

func (c *client) baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return c.scheme + "://" + addr
}

func (c *client) membership(ctx context.Context, addr string) (*server.MembershipResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(addr)+"/membership", nil)
	if err != nil {
		return nil, err
	}
	var out server.MembershipResponse
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) leave(ctx context.Context, addr string) (*server.LeaveResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL(addr)+"/admin/leave", nil)
	if err != nil {
		return nil, err
	}
	var out server.LeaveResponse
	if err := c.do(req, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) audit(ctx context.Context, addr, action string, limit int) (*server.AuditResponse, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if action != "" {
		q.Set("action", action)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL(addr)+"/admin/audit?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var out server.AuditResponse
	if err := c.do(req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) do(req *http.Request, want int, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

// nodeResult is one node's answer to a membership poll.
type nodeResult struct {
	Node    string
	Skipped bool // no admin address configured
	Resp    *server.MembershipResponse
	Err     error
}

// pollAll asks every node with an admin address for its membership.
func pollAll(ctx context.Context, c *client, f *clusterfile.File) []nodeResult {
	results := make([]nodeResult, len(f.Nodes))
	var wg sync.WaitGroup
	for i, n := range f.Nodes {
		results[i].Node = n.Name
		if n.Admin == "" {
			results[i].Skipped = true
			continue
		}
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			results[i].Resp, results[i].Err = c.membership(ctx, addr)
		}(i, n.Admin)
	}
	wg.Wait()
	return results
}

// convergence summarises whether the reachable nodes agree.
type convergence struct {
	Converged  bool
	Reason     string
	Transition uint32
	Cookie     string
	Members    []string
}

// analyze reports convergence when every reachable node is settled, all
// agree on transition, cookie and members, and every member answered.
func analyze(results []nodeResult) convergence {
	var (
		ref       *server.MembershipResponse
		reachable = make(map[string]bool)
		skipped   = make(map[string]bool)
	)
	for _, r := range results {
		if r.Skipped {
			skipped[r.Node] = true
			continue
		}
		if r.Err != nil || r.Resp == nil {
			continue
		}
		reachable[r.Node] = true
		if !r.Resp.Settled || r.Resp.Report == nil {
			return convergence{Reason: fmt.Sprintf("%s is %s", r.Node, r.Resp.State)}
		}
		if ref == nil {
			ref = r.Resp
			continue
		}
		a, b := ref.Report, r.Resp.Report
		if a.Transition != b.Transition || a.Cookie != b.Cookie {
			return convergence{Reason: fmt.Sprintf("%s at transition %d, %s at %d",
				ref.Node, a.Transition, r.Node, b.Transition)}
		}
		if !slices.Equal(a.MemberNames(), b.MemberNames()) {
			return convergence{Reason: fmt.Sprintf("%s and %s disagree on members", ref.Node, r.Node)}
		}
	}
	if ref == nil {
		return convergence{Reason: "no node reachable"}
	}

	members := ref.Report.MemberNames()
	for _, m := range members {
		if !reachable[m] && !skipped[m] {
			return convergence{Reason: fmt.Sprintf("member %s did not answer", m)}
		}
	}
	return convergence{
		Converged:  true,
		Transition: ref.Report.Transition,
		Cookie:     ref.Report.Cookie,
		Members:    members,
	}
}
