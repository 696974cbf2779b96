// Package muxtest provides an in-memory Multiplexer for tests.
package muxtest

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/timvw/pane-pilot/internal/model"
	"github.com/timvw/pane-pilot/internal/mux"
)

// Sent is one recorded SendKeys call.
type Sent struct {
	Target  string
	Keys    string
	Literal bool
}

// Fake implements mux.Multiplexer over in-memory panes. Safe for concurrent use.
type Fake struct {
	mu sync.Mutex

	panes    []model.Pane
	captures map[string]string

	// CaptureErr, when set, is returned by CapturePane for every target.
	CaptureErr error
	// SendErrs are returned by successive SendKeys calls, then nil.
	SendErrs []error
	// ListErr is returned by ListTopology and ListPanes.
	ListErr error

	sent         []Sent
	listCalls    int
	captureCalls int
}

// New returns a Fake holding the given panes.
func New(panes ...model.Pane) *Fake {
	return &Fake{panes: panes, captures: map[string]string{}}
}

var _ mux.Multiplexer = (*Fake)(nil)

func (f *Fake) Name() string { return "fake" }

// SetCapture sets the content CapturePane returns for target.
func (f *Fake) SetCapture(target, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captures[target] = content
}

// SetListErr changes the error returned by topology queries.
func (f *Fake) SetListErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListErr = err
}

// SetCaptureErr changes the error returned by CapturePane.
func (f *Fake) SetCaptureErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CaptureErr = err
}

// RemovePane drops a pane so that later lookups fail.
func (f *Fake) RemovePane(target string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.panes[:0]
	for _, p := range f.panes {
		if p.Target != target {
			out = append(out, p)
		}
	}
	f.panes = out
}

// Sent returns a copy of all SendKeys calls so far.
func (f *Fake) Sent() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Sent(nil), f.sent...)
}

// ListCalls returns how many topology queries were made.
func (f *Fake) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// CaptureCalls returns how many captures were made.
func (f *Fake) CaptureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captureCalls
}

func (f *Fake) ListTopology(_ context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return model.GroupPanes(append([]model.Pane(nil), f.panes...)), nil
}

func (f *Fake) ListPanes(_ context.Context, filter string) ([]model.Pane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var re *regexp.Regexp
	if filter != "" {
		var err error
		if re, err = regexp.Compile(filter); err != nil {
			return nil, err
		}
	}
	var out []model.Pane
	for _, p := range f.panes {
		if re == nil || re.MatchString(p.Session) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *Fake) CapturePane(ctx context.Context, target string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureCalls++
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("capture %s: %w", target, mux.ErrCaptureTimeout)
	}
	if f.CaptureErr != nil {
		return "", f.CaptureErr
	}
	if !f.hasPane(target) {
		return "", fmt.Errorf("capture %s: %w", target, mux.ErrPaneNotFound)
	}
	return f.captures[target], nil
}

func (f *Fake) SendKeys(_ context.Context, target, keys string, literal bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.SendErrs) > 0 {
		err := f.SendErrs[0]
		f.SendErrs = f.SendErrs[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, Sent{Target: target, Keys: keys, Literal: literal})
	return nil
}

func (f *Fake) HasPane(_ context.Context, target string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasPane(target), nil
}

func (f *Fake) hasPane(target string) bool {
	for _, p := range f.panes {
		if p.Target == target || (p.ID != "" && p.ID == target) {
			return true
		}
	}
	return false
}

func (f *Fake) HasSession(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.panes {
		if p.Session == name {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) NewSession(_ context.Context, name, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.panes {
		if p.Session == name {
			return fmt.Errorf("duplicate session: %s", name)
		}
	}
	f.panes = append(f.panes, model.Pane{Target: name + ":0.0", Session: name})
	return nil
}

func (f *Fake) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.panes[:0]
	found := false
	for _, p := range f.panes {
		if p.Session == name {
			found = true
			continue
		}
		out = append(out, p)
	}
	f.panes = out
	if !found {
		return fmt.Errorf("kill %s: %w", name, mux.ErrPaneNotFound)
	}
	return nil
}
