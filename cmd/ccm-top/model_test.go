package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-ccm/pkg/ccm"
)

type stubSource struct {
	snap ccm.Snapshot
	err  error
}

func (s stubSource) Fetch(context.Context) (ccm.Snapshot, error) { return s.snap, s.err }

func snapshot(major uint32) ccm.Snapshot {
	return ccm.Snapshot{
		Node:    "node-a",
		State:   "JOINED",
		Major:   major,
		Cookie:  "cookie-abc",
		Leader:  "node-a",
		Members: []string{"node-a", "node-b"},
		Settled: true,
		Quorum:  true,
		Roster: []ccm.RosterView{
			{Name: "node-a", Index: 0, Status: "active", Member: true},
			{Name: "node-b", Index: 1, Status: "active", Member: true},
			{Name: "node-c", Index: 2, Status: "dead"},
		},
		LastReport: &ccm.Report{
			Transition: major,
			Leader:     "node-a",
			Members:    []ccm.Member{{Name: "node-a", BornOn: 1}, {Name: "node-b", BornOn: major}},
		},
	}
}

func TestModel_StatusUpdates(t *testing.T) {
	m := initialModel(stubSource{}, time.Second)
	assert.Contains(t, m.View(), "connecting")

	next, _ := m.Update(statusMsg{snap: snapshot(2), at: time.Now()})
	m = next.(model)
	view := m.View()
	assert.Contains(t, view, "node-a")
	assert.Contains(t, view, "JOINED")
	assert.Contains(t, view, "cookie-abc")
	assert.Len(t, m.roster.Rows(), 3)
	assert.Equal(t, 0, m.transitions)

	next, _ = m.Update(statusMsg{snap: snapshot(3), at: time.Now()})
	m = next.(model)
	assert.Equal(t, 1, m.transitions)

	next, _ = m.Update(statusMsg{err: errors.New("connection refused"), at: time.Now()})
	m = next.(model)
	assert.Contains(t, m.View(), "connection refused")
	require.NotNil(t, m.snap, "last good snapshot is kept")
}

func TestModel_Keys(t *testing.T) {
	m := initialModel(stubSource{snap: snapshot(1)}, time.Second)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, rosterView, m.currentView)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, overviewView, m.currentView)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	m = next.(model)
	require.NotNil(t, cmd)
	assert.True(t, m.fetching)

	msg, ok := cmd().(statusMsg)
	require.True(t, ok)
	assert.Equal(t, uint32(1), msg.snap.Major)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestStatusSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer viewer" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(snapshot(4))
	}))
	defer srv.Close()

	src := &statusSource{url: srv.URL + "/status", token: "viewer", client: srv.Client()}
	snap, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(4), snap.Major)

	src.token = ""
	_, err = src.Fetch(context.Background())
	assert.Error(t, err)
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:7070", baseURL("http", "127.0.0.1:7070"))
	assert.Equal(t, "https://h:1", baseURL("https", "h:1"))
	assert.Equal(t, "https://h:1", baseURL("http", "https://h:1/"))
}
