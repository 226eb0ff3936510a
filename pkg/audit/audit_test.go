package audit

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestAuditLogger_LogEvent(t *testing.T) {
	logger := NewAuditLogger("node-a", 100)

	tests := []struct {
		name      string
		event     *Event
		wantError bool
	}{
		{
			name:  "leave request",
			event: NewEvent("ops", ActionLeave, "node-a"),
		},
		{
			name:  "rejected token",
			event: NewFailedEvent("", ActionAuth, "invalid token"),
		},
		{
			name:  "membership report",
			event: &Event{Action: ActionMembership, Target: "3", Metadata: map[string]any{"members": []string{"node-a"}}},
		},
		{
			name:      "no action",
			event:     &Event{Actor: "ops"},
			wantError: true,
		},
		{
			name:      "nil event",
			event:     nil,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := logger.Log(tt.event)
			if tt.wantError {
				if err == nil {
					t.Errorf("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.event.ID == "" {
				t.Error("Event ID should be set")
			}
			if tt.event.Timestamp.IsZero() {
				t.Error("Event timestamp should be set")
			}
			if tt.event.Node != "node-a" {
				t.Errorf("Expected node-a, got %q", tt.event.Node)
			}
			if tt.event.Status == "" {
				t.Error("Event status should default")
			}
		})
	}

	if got := logger.GetEventCount(); got != 3 {
		t.Errorf("Expected 3 events, got %d", got)
	}
}

func TestAuditLogger_CircularBuffer(t *testing.T) {
	logger := NewAuditLogger("n", 5)

	for i := 0; i < 10; i++ {
		_ = logger.Log(NewEvent(fmt.Sprintf("actor-%d", i), ActionLeave, ""))
	}

	if got := logger.GetEventCount(); got != 5 {
		t.Errorf("Expected 5 events stored, got %d", got)
	}
	if got := logger.Total(); got != 10 {
		t.Errorf("Expected 10 events total, got %d", got)
	}

	events := logger.GetEvents(nil)
	for i, e := range events {
		want := fmt.Sprintf("actor-%d", i+5)
		if e.Actor != want {
			t.Errorf("events[%d]: expected %s, got %s", i, want, e.Actor)
		}
	}

	recent := logger.GetRecentEvents(2, nil)
	if len(recent) != 2 || recent[0].Actor != "actor-9" || recent[1].Actor != "actor-8" {
		t.Errorf("Unexpected recent events: %v", recent)
	}
}

func TestAuditLogger_Filter(t *testing.T) {
	logger := NewAuditLogger("n", 50)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	logger.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	_ = logger.Log(NewEvent("alice", ActionLeave, "n"))
	_ = logger.Log(NewFailedEvent("", ActionAuth, "expired"))
	_ = logger.Log(NewFailedEvent("", ActionAuth, "wrong role"))
	_ = logger.Log(&Event{Action: ActionMembership, Target: "2"})

	since := base.Add(3 * time.Minute)
	tests := []struct {
		name   string
		filter *Filter
		want   int
	}{
		{"all", nil, 4},
		{"by action", &Filter{Action: ActionAuth}, 2},
		{"by status", &Filter{Status: StatusFailure}, 2},
		{"by actor", &Filter{Actor: "alice"}, 1},
		{"since", &Filter{Since: &since}, 2},
		{"combined", &Filter{Action: ActionAuth, Since: &since}, 1},
		{"none", &Filter{Actor: "bob"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(logger.GetEvents(tt.filter)); got != tt.want {
				t.Errorf("Expected %d events, got %d", tt.want, got)
			}
		})
	}

	if got := logger.GetRecentEvents(10, &Filter{Action: ActionAuth}); len(got) != 2 || got[0].Error != "wrong role" {
		t.Errorf("Unexpected filtered recent events: %v", got)
	}
}

func TestAuditLogger_Clear(t *testing.T) {
	logger := NewAuditLogger("n", 10)
	_ = logger.Log(NewEvent("a", ActionLeave, ""))
	logger.Clear()

	if got := logger.GetEventCount(); got != 0 {
		t.Errorf("Expected 0 events after clear, got %d", got)
	}
	if got := len(logger.GetEvents(nil)); got != 0 {
		t.Errorf("Expected no events after clear, got %d", got)
	}
}

func TestAuditLogger_Concurrent(t *testing.T) {
	logger := NewAuditLogger("n", 1000)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = logger.Log(NewEvent(fmt.Sprintf("actor-%d", id), ActionLeave, ""))
				_ = logger.GetRecentEvents(5, nil)
			}
		}(i)
	}
	wg.Wait()

	if got := logger.GetEventCount(); got != 1000 {
		t.Errorf("Expected 1000 events, got %d", got)
	}
}

func TestEvent_String(t *testing.T) {
	e := NewEvent("ops", ActionLeave, "node-b")
	e.Node = "node-b"
	e.Timestamp = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	want := "[2024-01-01T12:00:00Z] node=node-b ops leave node-b (status: success)"
	if got := e.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
