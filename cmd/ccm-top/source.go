package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/dd0wney/cluso-ccm/pkg/ccm"
)

// fetcher returns the current engine snapshot of a node.
type fetcher interface {
	Fetch(ctx context.Context) (ccm.Snapshot, error)
}

type statusSource struct {
	url    string
	token  string
	client *http.Client
}

func baseURL(scheme, addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return scheme + "://" + addr
}

func (s *statusSource) Fetch(ctx context.Context) (ccm.Snapshot, error) {
	var snap ccm.Snapshot
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return snap, err
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("GET /status: %s", resp.Status)
	}
	err = json.NewDecoder(resp.Body).Decode(&snap)
	return snap, err
}
