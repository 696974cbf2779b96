package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/timvw/pane-pilot/internal/model"
	"github.com/timvw/pane-pilot/internal/mux"
)

// assistantMarkers identify an assistant pane by its rendered content when
// the pane's command does not (e.g. the assistant runs under node).
var assistantMarkers = []string{
	"? for shortcuts",
	"Claude Code",
	"Welcome to Claude",
}

// discoverPane picks the pane to drive within sess. An explicit target (a
// "session:window.pane" target or a pane id) must exist. Otherwise the first
// pane whose command or process tree names the assistant wins, then the
// first pane showing assistant markers, then the session's first pane.
func discoverPane(ctx context.Context, sess model.Session, target string, r *Reader) (model.Pane, error) {
	if target != "" {
		if p, ok := sess.FindPane(target); ok {
			return p, nil
		}
		return model.Pane{}, fmt.Errorf("pane %s in session %s: %w", target, sess.Name, mux.ErrPaneNotFound)
	}

	panes := sess.Panes()
	if len(panes) == 0 {
		return model.Pane{}, fmt.Errorf("session %s has no panes: %w", sess.Name, mux.ErrPaneNotFound)
	}

	for _, p := range panes {
		if runsAssistant(p) {
			return p, nil
		}
	}

	if r != nil && len(panes) > 1 {
		for _, p := range panes {
			text, err := r.Capture(ctx, p.Target)
			if err != nil {
				continue
			}
			if showsAssistant(text) {
				return p, nil
			}
		}
	}

	return panes[0], nil
}

func runsAssistant(p model.Pane) bool {
	if strings.Contains(strings.ToLower(p.Command), "claude") {
		return true
	}
	for _, proc := range p.ProcessTree {
		if strings.Contains(strings.ToLower(proc), "claude") {
			return true
		}
	}
	return false
}

func showsAssistant(text string) bool {
	for _, m := range assistantMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
