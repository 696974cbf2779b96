package hooks

import (
	"strings"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		event   Event
		wantErr string
	}{
		{"minimal valid", Event{Assistant: "claude", State: StateWaitingInput, Target: "s:0.1", TS: now}, ""},
		{"session with colon", Event{Assistant: "claude", State: StateIdle, Target: "a:b:2.0", TS: now}, ""},
		{"missing assistant", Event{State: StateWaitingInput, Target: "s:0.1", TS: now}, "assistant"},
		{"invalid state", Event{Assistant: "claude", State: "thinking", Target: "s:0.1", TS: now}, "invalid state"},
		{"target without pane", Event{Assistant: "claude", State: StateRunning, Target: "s:0", TS: now}, "invalid target"},
		{"target without session", Event{Assistant: "claude", State: StateRunning, Target: ":0.1", TS: now}, "invalid target"},
		{"empty target", Event{Assistant: "claude", State: StateRunning, TS: now}, "invalid target"},
		{"non-numeric window", Event{Assistant: "claude", State: StateRunning, Target: "s:main.0", TS: now}, "invalid target"},
		{"negative pane", Event{Assistant: "claude", State: StateRunning, Target: "s:0.-1", TS: now}, "invalid target"},
		{"target trailing dot", Event{Assistant: "claude", State: StateRunning, Target: "s:0.", TS: now}, "invalid target"},
		{"missing timestamp", Event{Assistant: "claude", State: StateRunning, Target: "s:0.1"}, "ts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("expected valid event, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIsAttentionState(t *testing.T) {
	for state, want := range map[string]bool{
		StateWaitingInput:    true,
		StateWaitingApproval: true,
		StateRunning:         false,
		StateCompleted:       false,
		StateError:           false,
		StateIdle:            false,
	} {
		if got := IsAttentionState(state); got != want {
			t.Errorf("IsAttentionState(%q) = %v, want %v", state, got, want)
		}
	}
}

func TestEvent_SessionAndAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := Event{Assistant: "claude", State: StateWaitingApproval, Target: "a:b:2.0", TS: now.Add(-90 * time.Second)}

	if got := e.Session(); got != "a:b" {
		t.Errorf("Session() = %q, want a:b", got)
	}
	if got := e.Age(now); got != 90*time.Second {
		t.Errorf("Age() = %v, want 90s", got)
	}
	if !e.NeedsAttention() {
		t.Error("waiting_approval should need attention")
	}

	e.TS = now.Add(time.Minute)
	if got := e.Age(now); got != 0 {
		t.Errorf("future event Age() = %v, want 0", got)
	}
}

func TestDefaultSocketPath(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := DefaultSocketPath(); got != "/run/user/1000/pane-pilot/events.sock" {
		t.Errorf("DefaultSocketPath() = %q", got)
	}

	t.Setenv("XDG_RUNTIME_DIR", "")
	if got := DefaultSocketPath(); !strings.Contains(got, "pane-pilot-") || !strings.HasSuffix(got, "events.sock") {
		t.Errorf("DefaultSocketPath() fallback = %q", got)
	}
}
