// Package model holds the multiplexer topology shared by the cache, the
// controllers and the CLI. Values are snapshots: once handed out they are
// never mutated, a refresh produces new values.
package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Pane represents a terminal multiplexer pane.
type Pane struct {
	// Target is the fully qualified pane identifier (e.g., "session:0.0").
	Target string `json:"target"`
	// ID is the multiplexer's stable pane id (e.g., "%3"). Optional.
	ID string `json:"id,omitempty"`
	// Session is the session name.
	Session string `json:"session"`
	// Window is the window index.
	Window int `json:"window"`
	// Pane is the pane index within the window.
	Pane int `json:"pane"`
	// PID is the pane's shell process ID.
	PID int `json:"pid"`
	// Command is the current command running in the pane (e.g., "node", "claude").
	Command string `json:"command"`
	// ProcessTree is the list of child processes (command lines) running in the pane.
	ProcessTree []string `json:"process_tree,omitempty"`
	// LastActivity is the last time the pane produced output, when known.
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// IdleFor estimates how long the pane has been quiet. Zero when unknown.
func (p Pane) IdleFor(now time.Time) time.Duration {
	if p.LastActivity.IsZero() || now.Before(p.LastActivity) {
		return 0
	}
	return now.Sub(p.LastActivity)
}

// Window is one window of a session with its panes in index order.
type Window struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Panes []Pane `json:"panes"`
}

// Session is a multiplexer session with its windows in index order.
type Session struct {
	Name     string    `json:"name"`
	Created  time.Time `json:"created,omitempty"`
	Attached bool      `json:"attached"`
	// Alive is false for sessions that were listed but have since gone away.
	Alive   bool     `json:"alive"`
	Windows []Window `json:"windows"`
}

// Panes returns all panes of the session in window/pane order.
func (s Session) Panes() []Pane {
	var out []Pane
	for _, w := range s.Windows {
		out = append(out, w.Panes...)
	}
	return out
}

// FindPane returns the pane with the given target.
func (s Session) FindPane(target string) (Pane, bool) {
	for _, w := range s.Windows {
		for _, p := range w.Panes {
			if p.Target == target || (p.ID != "" && p.ID == target) {
				return p, true
			}
		}
	}
	return Pane{}, false
}

// Clone returns a deep copy so callers can never alias cached state.
func (s Session) Clone() Session {
	out := s
	out.Windows = make([]Window, len(s.Windows))
	for i, w := range s.Windows {
		nw := w
		nw.Panes = make([]Pane, len(w.Panes))
		for j, p := range w.Panes {
			np := p
			if p.ProcessTree != nil {
				np.ProcessTree = append([]string(nil), p.ProcessTree...)
			}
			nw.Panes[j] = np
		}
		out.Windows[i] = nw
	}
	return out
}

// CloneSessions deep-copies a slice of sessions.
func CloneSessions(in []Session) []Session {
	if in == nil {
		return nil
	}
	out := make([]Session, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

// GroupPanes builds a session tree from a flat pane list, preserving the
// first-seen order of sessions and sorting windows and panes by index.
func GroupPanes(panes []Pane) []Session {
	var order []string
	bySession := map[string]*Session{}
	for _, p := range panes {
		s, ok := bySession[p.Session]
		if !ok {
			s = &Session{Name: p.Session, Alive: true}
			bySession[p.Session] = s
			order = append(order, p.Session)
		}
		wi := -1
		for i := range s.Windows {
			if s.Windows[i].Index == p.Window {
				wi = i
				break
			}
		}
		if wi < 0 {
			s.Windows = append(s.Windows, Window{Index: p.Window})
			wi = len(s.Windows) - 1
		}
		s.Windows[wi].Panes = append(s.Windows[wi].Panes, p)
	}

	out := make([]Session, 0, len(order))
	for _, name := range order {
		s := bySession[name]
		sortWindows(s.Windows)
		for i := range s.Windows {
			sortPanes(s.Windows[i].Panes)
		}
		out = append(out, *s)
	}
	return out
}

func sortWindows(ws []Window) {
	for i := 1; i < len(ws); i++ {
		for j := i; j > 0 && ws[j].Index < ws[j-1].Index; j-- {
			ws[j], ws[j-1] = ws[j-1], ws[j]
		}
	}
}

func sortPanes(ps []Pane) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].Pane < ps[j-1].Pane; j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

// ParseTarget parses a tmux target string "session:window.pane" into a Pane.
func ParseTarget(target string) (Pane, error) {
	colonIdx := strings.LastIndex(target, ":")
	if colonIdx < 0 {
		return Pane{}, fmt.Errorf("invalid target %q: missing ':'", target)
	}

	session := target[:colonIdx]
	rest := target[colonIdx+1:]

	dotIdx := strings.LastIndex(rest, ".")
	if dotIdx < 0 {
		return Pane{}, fmt.Errorf("invalid target %q: missing '.'", target)
	}

	window, err := strconv.Atoi(rest[:dotIdx])
	if err != nil {
		return Pane{}, fmt.Errorf("invalid window index in %q: %w", target, err)
	}

	pane, err := strconv.Atoi(rest[dotIdx+1:])
	if err != nil {
		return Pane{}, fmt.Errorf("invalid pane index in %q: %w", target, err)
	}

	return Pane{
		Target:  target,
		Session: session,
		Window:  window,
		Pane:    pane,
	}, nil
}

// SessionOf returns the session part of a "session:window.pane" target.
func SessionOf(target string) string {
	if idx := strings.LastIndex(target, ":"); idx > 0 {
		return target[:idx]
	}
	return target
}

// BuildProcessHeader returns a process metadata header prepended to pane
// content before advisory analysis. Returns an empty string if no process
// info is available.
func BuildProcessHeader(pane Pane) string {
	if pane.PID <= 0 && len(pane.ProcessTree) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("[Process Info]\n")
	b.WriteString(fmt.Sprintf("Session: %s\n", pane.Session))
	b.WriteString(fmt.Sprintf("Shell PID: %d\n", pane.PID))
	b.WriteString(fmt.Sprintf("Shell command: %s\n", pane.Command))
	if len(pane.ProcessTree) > 0 {
		b.WriteString("Child processes:\n")
		for _, proc := range pane.ProcessTree {
			b.WriteString(fmt.Sprintf("  %s\n", proc))
		}
	} else {
		b.WriteString("Child processes: (none)\n")
	}
	b.WriteString("\n[Terminal Content]\n")
	return b.String()
}
