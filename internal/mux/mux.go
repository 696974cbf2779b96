// Package mux provides an abstraction over terminal multiplexers.
//
// This package is pure transport. It captures observable reality (pane
// content, session topology, process names) and injects keystrokes. It never
// interprets what it reads; classification lives in the prompt package.
package mux

import (
	"context"
	"errors"

	"github.com/timvw/pane-pilot/internal/model"
)

var (
	// ErrPaneNotFound is returned when the pane or its session no longer exists.
	ErrPaneNotFound = errors.New("pane not found")
	// ErrCaptureTimeout is returned when a pane capture exceeds its deadline.
	ErrCaptureTimeout = errors.New("capture-pane timed out")
	// ErrNoServer is returned when no multiplexer server is running.
	ErrNoServer = errors.New("no multiplexer server running")
)

// Multiplexer abstracts terminal multiplexer operations.
type Multiplexer interface {
	// Name returns the multiplexer name (e.g., "tmux").
	Name() string

	// ListTopology returns every session with its windows and panes in index order.
	ListTopology(ctx context.Context) ([]model.Session, error)

	// ListPanes returns all panes, optionally filtered by a session name regex pattern.
	// An empty filter returns all panes.
	ListPanes(ctx context.Context, filter string) ([]model.Pane, error)

	// CapturePane returns the last lines of a pane's rendered content.
	// lines <= 0 captures only the visible screen.
	CapturePane(ctx context.Context, target string, lines int) (string, error)

	// SendKeys writes keys to a pane. With literal set the keys are sent as
	// text; otherwise they are interpreted as key names (e.g., "Enter").
	SendKeys(ctx context.Context, target, keys string, literal bool) error

	// HasPane reports whether the pane target still resolves.
	HasPane(ctx context.Context, target string) (bool, error)

	// HasSession reports whether a session with the given name exists.
	HasSession(ctx context.Context, name string) (bool, error)

	// NewSession creates a detached session rooted at dir.
	NewSession(ctx context.Context, name, dir string) error

	// KillSession destroys a session.
	KillSession(ctx context.Context, name string) error
}
