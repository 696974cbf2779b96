// Package hooks receives state notifications from assistant hooks over a
// unix datagram socket. An attention event wakes the pane's controller so
// it polls immediately instead of waiting for its next tick.
package hooks

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/timvw/pane-pilot/internal/model"
)

const (
	StateWaitingInput    = "waiting_input"
	StateWaitingApproval = "waiting_approval"
	StateRunning         = "running"
	StateCompleted       = "completed"
	StateError           = "error"
	StateIdle            = "idle"
)

// Event is the normalized hook payload.
type Event struct {
	Assistant string    `json:"assistant"`
	State     string    `json:"state"`
	Target    string    `json:"target"`
	TS        time.Time `json:"ts"`
	Message   string    `json:"message,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Assistant) == "" {
		return fmt.Errorf("assistant is required")
	}
	if !isValidState(e.State) {
		return fmt.Errorf("invalid state %q", e.State)
	}
	if !isValidTarget(e.Target) {
		return fmt.Errorf("invalid target %q", e.Target)
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// IsAttentionState reports whether the assistant is blocked on the user.
func IsAttentionState(state string) bool {
	return state == StateWaitingInput || state == StateWaitingApproval
}

// NeedsAttention reports whether the event should wake the pane's controller.
func (e Event) NeedsAttention() bool {
	return IsAttentionState(e.State)
}

// Session is the tmux session owning the event's pane.
func (e Event) Session() string {
	return model.SessionOf(e.Target)
}

// Age is how long ago the hook fired. Events stamped in the future count as fresh.
func (e Event) Age(now time.Time) time.Duration {
	if d := now.Sub(e.TS); d > 0 {
		return d
	}
	return 0
}

func isValidState(state string) bool {
	switch state {
	case StateWaitingInput, StateWaitingApproval, StateRunning, StateCompleted, StateError, StateIdle:
		return true
	default:
		return false
	}
}

// isValidTarget accepts only fully qualified "session:window.pane" targets,
// since a wake is routed to the controller owning the session.
func isValidTarget(target string) bool {
	if target == "" {
		return false
	}
	p, err := model.ParseTarget(target)
	if err != nil {
		return false
	}
	return p.Session != "" && p.Window >= 0 && p.Pane >= 0
}

// DefaultSocketPath returns the per-user socket location.
func DefaultSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "pane-pilot", "events.sock")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("pane-pilot-%d", os.Getuid()), "events.sock")
}
