package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/timvw/pane-pilot/internal/model"
)

// ErrUnknownSession is returned for sessions the manager has never started.
var ErrUnknownSession = errors.New("unknown session")

// Manager is the registry of session controllers. It guarantees at most one
// controller per session name.
type Manager struct {
	deps Deps
	opts Options

	// base outlives individual requests; controller loops run under it.
	base   context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	controllers map[string]*Controller
}

// NewManager creates a manager whose controllers run until Shutdown or until
// ctx is done. opts are the defaults for every controller.
func NewManager(ctx context.Context, deps Deps, opts Options) *Manager {
	base, cancel := context.WithCancel(ctx)
	return &Manager{
		deps:        deps,
		opts:        opts,
		base:        base,
		cancel:      cancel,
		controllers: make(map[string]*Controller),
	}
}

// Start starts monitoring session, discovering its assistant pane. A session
// that is already monitored keeps its controller and its status is returned.
func (m *Manager) Start(ctx context.Context, session string) (Status, error) {
	return m.StartPane(ctx, session, "")
}

// StartPane is Start with an explicit pane target.
func (m *Manager) StartPane(ctx context.Context, session, target string) (Status, error) {
	if session == "" {
		return Status{}, fmt.Errorf("session name is required")
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	if err := m.base.Err(); err != nil {
		return Status{}, fmt.Errorf("manager is shut down: %w", err)
	}

	m.mu.Lock()
	c, ok := m.controllers[session]
	if !ok {
		opts := m.opts
		opts.Target = target
		c = New(session, m.deps, opts)
		m.controllers[session] = c
	}
	m.mu.Unlock()

	return c.Start(m.base), nil
}

// Stop stops the session's controller and waits for it to exit.
func (m *Manager) Stop(ctx context.Context, session string) error {
	c, err := m.get(session)
	if err != nil {
		return err
	}
	return c.Stop(ctx)
}

// Status returns the status of session's controller.
func (m *Manager) Status(session string) (Status, error) {
	c, err := m.get(session)
	if err != nil {
		return Status{}, err
	}
	return c.Status(), nil
}

// SetAutoRespond toggles dispatching for session.
func (m *Manager) SetAutoRespond(session string, on bool) error {
	c, err := m.get(session)
	if err != nil {
		return err
	}
	c.SetAutoRespond(on)
	return nil
}

// List returns every controller's status ordered by session name.
func (m *Manager) List() []Status {
	m.mu.Lock()
	cs := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		cs = append(cs, c)
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Session < out[j].Session })
	return out
}

// Wake routes a hook wake-up for target to the controller of its session.
// It reports whether a controller was woken.
func (m *Manager) Wake(target string) bool {
	c, err := m.get(model.SessionOf(target))
	if err != nil {
		return false
	}
	if st := c.Status(); !st.State.Running() {
		return false
	}
	c.Wake()
	return true
}

// Shutdown stops all controllers concurrently and waits until each is
// STOPPED or ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	cs := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		cs = append(cs, c)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range cs {
		g.Go(func() error {
			return c.Stop(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("controllers_stopped", "count", len(cs))
	return nil
}

func (m *Manager) get(session string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.controllers[session]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, session)
	}
	return c, nil
}
