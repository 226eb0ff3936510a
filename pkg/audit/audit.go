// Package audit keeps a bounded trail of operator actions and membership
// changes on one node.
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Action types for audit events
type Action string

const (
	ActionLeave      Action = "leave"      // Graceful leave requested
	ActionAuth       Action = "auth"       // Token rejected
	ActionMembership Action = "membership" // Report delivered
)

// Status represents the outcome of an action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Event represents a single audit log entry
type Event struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Node       string         `json:"node"`
	Actor      string         `json:"actor,omitempty"`
	Action     Action         `json:"action"`
	Target     string         `json:"target,omitempty"`
	Status     Status         `json:"status"`
	Error      string         `json:"error,omitempty"`
	RemoteAddr string         `json:"remote_addr,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Filter represents filtering criteria for audit events
type Filter struct {
	Actor  string
	Action Action
	Status Status
	Since  *time.Time
}

func (f *Filter) match(e *Event) bool {
	if f == nil {
		return true
	}
	switch {
	case f.Actor != "" && e.Actor != f.Actor:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case f.Since != nil && e.Timestamp.Before(*f.Since):
		return false
	}
	return true
}

// Logger records audit events.
type Logger interface {
	Log(event *Event) error
}

// AuditLogger manages audit log events with a circular buffer
type AuditLogger struct {
	node       string
	events     []*Event
	bufferSize int
	index      int
	count      int
	total      int64
	now        func() time.Time
	mu         sync.RWMutex
}

// NewAuditLogger creates a logger for node keeping the last bufferSize
// events.
func NewAuditLogger(node string, bufferSize int) *AuditLogger {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &AuditLogger{
		node:       node,
		events:     make([]*Event, bufferSize),
		bufferSize: bufferSize,
		now:        time.Now,
	}
}

// Log records an audit event, filling in its ID, time and node.
func (l *AuditLogger) Log(event *Event) error {
	if event == nil {
		return fmt.Errorf("audit: nil event")
	}
	if event.Action == "" {
		return fmt.Errorf("audit: event has no action")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Node == "" {
		event.Node = l.node
	}
	if event.Status == "" {
		event.Status = StatusSuccess
	}

	l.events[l.index] = event
	l.index = (l.index + 1) % l.bufferSize
	if l.count < l.bufferSize {
		l.count++
	}
	l.total++
	return nil
}

// GetEvents returns matching events, oldest first.
func (l *AuditLogger) GetEvents(filter *Filter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Event, 0, l.count)
	for i := 0; i < l.count; i++ {
		idx := (l.index - l.count + i + l.bufferSize) % l.bufferSize
		if e := l.events[idx]; e != nil && filter.match(e) {
			result = append(result, e)
		}
	}
	return result
}

// GetRecentEvents returns up to n matching events, newest first.
func (l *AuditLogger) GetRecentEvents(n int, filter *Filter) []*Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Event, 0, min(n, l.count))
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.index - 1 - i + l.bufferSize) % l.bufferSize
		if e := l.events[idx]; e != nil && filter.match(e) {
			result = append(result, e)
		}
	}
	return result
}

// GetEventCount returns the number of events currently stored
func (l *AuditLogger) GetEventCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Total returns how many events were ever logged, including evicted ones.
func (l *AuditLogger) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}

// Clear removes all events from the logger
func (l *AuditLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = make([]*Event, l.bufferSize)
	l.index = 0
	l.count = 0
}

// NewEvent creates a successful event.
func NewEvent(actor string, action Action, target string) *Event {
	return &Event{Actor: actor, Action: action, Target: target, Status: StatusSuccess}
}

// NewFailedEvent creates a failed event with an error message.
func NewFailedEvent(actor string, action Action, errorMsg string) *Event {
	return &Event{Actor: actor, Action: action, Status: StatusFailure, Error: errorMsg}
}

// String returns a human-readable representation of an event
func (e *Event) String() string {
	actor := e.Actor
	if actor == "" {
		actor = "-"
	}
	return fmt.Sprintf("[%s] node=%s %s %s %s (status: %s)",
		e.Timestamp.Format(time.RFC3339),
		e.Node,
		actor,
		e.Action,
		e.Target,
		e.Status,
	)
}
