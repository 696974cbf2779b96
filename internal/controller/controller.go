// Package controller runs one poll loop per tmux session: capture the
// assistant pane, classify the visible prompt, and dispatch the response.
//
// Polling and dispatching for a session happen on a single goroutine, so a
// prompt is never answered twice by overlapping ticks. A fingerprint of the
// last answered prompt guards the ticks that still show it on screen.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/logging"
	"github.com/timvw/pane-pilot/internal/mux"
	ppotel "github.com/timvw/pane-pilot/internal/otel"
	"github.com/timvw/pane-pilot/internal/prompt"
)

var (
	tracer = otel.Tracer(ppotel.ServiceName)
	log    = logging.ForComponent(logging.CompController)
)

const (
	DefaultPollInterval = time.Second
	DefaultMaxFailures  = 5
)

// Deps are the collaborators shared by all controllers of a Manager.
type Deps struct {
	Cache      *cache.SessionCache
	Reader     *Reader
	Classifier *prompt.Classifier
	Dispatcher *dispatch.Dispatcher
	Metrics    *ppotel.Metrics
	// Now is injectable for tests.
	Now func() time.Time
}

// NewDeps wires default collaborators over m.
func NewDeps(m mux.Multiplexer) Deps {
	return Deps{
		Cache:      cache.NewSessionCache(m, cache.DefaultTTL, cache.DefaultGrace),
		Reader:     NewReader(m),
		Classifier: prompt.NewClassifier(prompt.DefaultTable()),
		Dispatcher: dispatch.New(m),
	}
}

// Options tune one controller.
type Options struct {
	// Target pins the pane ("session:window.pane" or pane id). Empty discovers it.
	Target       string
	PollInterval time.Duration
	// MaxFailures is the number of consecutive capture failures before ERROR.
	MaxFailures int
	AutoRespond bool
	Overrides   prompt.Overrides
}

// DefaultOptions returns options with auto-respond on.
func DefaultOptions() Options {
	return Options{
		PollInterval: DefaultPollInterval,
		MaxFailures:  DefaultMaxFailures,
		AutoRespond:  true,
	}
}

// MatchInfo describes the most recent prompt seen on the pane.
type MatchInfo struct {
	PatternID   string      `json:"pattern_id"`
	Kind        prompt.Kind `json:"kind"`
	Response    string      `json:"response"`
	Fingerprint string      `json:"fingerprint"`
	At          time.Time   `json:"at"`
	// Dispatched is false when auto-respond is off or the response failed.
	Dispatched bool `json:"dispatched"`
}

// ErrorInfo is the last failure observed by the controller.
type ErrorInfo struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Status is a point-in-time copy of a controller's state.
type Status struct {
	Session             string           `json:"session"`
	Target              string           `json:"target,omitempty"`
	State               State            `json:"state"`
	LastMatch           *MatchInfo       `json:"last_match,omitempty"`
	LastDispatch        *dispatch.Record `json:"last_dispatch,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastError           *ErrorInfo       `json:"last_error,omitempty"`
	StartedAt           time.Time        `json:"started_at,omitempty"`
	AutoRespond         bool             `json:"auto_respond"`
	Polls               int64            `json:"polls"`
}

// Controller drives one session. All methods are safe for concurrent use;
// Status never waits on the poll loop.
type Controller struct {
	session string
	deps    Deps
	opts    Options
	wake    chan struct{}

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}

	// lastFingerprint is owned by the loop goroutine.
	lastFingerprint string
}

// New creates a stopped controller for session.
func New(session string, deps Deps, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = DefaultMaxFailures
	}
	return &Controller{
		session: session,
		deps:    deps,
		opts:    opts,
		wake:    make(chan struct{}, 1),
		status: Status{
			Session:     session,
			Target:      opts.Target,
			State:       StateStopped,
			AutoRespond: opts.AutoRespond,
		},
	}
}

// Session returns the session name this controller drives.
func (c *Controller) Session() string { return c.session }

// Start launches the poll loop. The loop runs until Stop or until ctx is
// done. Starting a running controller is a no-op that returns its status;
// starting from ERROR or STOPPED restarts it with fresh counters.
func (c *Controller) Start(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.State.Running() {
		return c.status
	}
	// A loop that just parked in ERROR may still be unwinding.
	if c.done != nil {
		<-c.done
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.lastFingerprint = ""

	prev := c.status.State
	c.status.State = StateStarting
	c.status.StartedAt = c.now()
	c.status.ConsecutiveFailures = 0
	c.status.LastError = nil
	c.status.Polls = 0
	c.logTransition(runCtx, prev, StateStarting)

	go c.run(runCtx, done)
	return c.status
}

// Stop signals the loop to exit and waits for it. An in-flight dispatch
// completes first. A controller parked in ERROR moves to STOPPED.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("stop %s: %w", c.session, ctx.Err())
		}
	}

	c.mu.Lock()
	if c.done != done {
		// Restarted while we waited; the new loop is not ours to stop.
		c.mu.Unlock()
		return nil
	}
	prev := c.status.State
	c.status.State = StateStopped
	c.cancel = nil
	c.mu.Unlock()
	c.logTransition(ctx, prev, StateStopped)
	return nil
}

// Status returns a copy of the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Wake makes the loop poll now instead of at its next tick. Never blocks.
func (c *Controller) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetAutoRespond toggles dispatching. When off, matches are only recorded.
func (c *Controller) SetAutoRespond(on bool) {
	c.mu.Lock()
	c.status.AutoRespond = on
	c.mu.Unlock()
	log.Info("auto_respond_changed", "session", c.session, "enabled", on)
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	target, err := c.setup(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.transition(ctx, StateStopped)
			return
		}
		c.fail(ctx, err)
		return
	}
	c.transition(ctx, StateMonitoring)

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if !c.tick(ctx, target) {
			return
		}
		select {
		case <-ctx.Done():
			c.transition(context.WithoutCancel(ctx), StateStopped)
			return
		case <-ticker.C:
		case <-c.wake:
		}
	}
}

// setup verifies the session exists and resolves the pane to drive.
func (c *Controller) setup(ctx context.Context) (string, error) {
	snap, err := c.deps.Cache.Get(ctx, cache.SessionKey(c.session))
	if err != nil {
		return "", fmt.Errorf("look up session %s: %w", c.session, err)
	}
	sess, ok := snap.Session(c.session)
	if !ok {
		return "", fmt.Errorf("session %s: %w", c.session, mux.ErrPaneNotFound)
	}
	pane, err := discoverPane(ctx, sess, c.opts.Target, c.deps.Reader)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.status.Target = pane.Target
	c.mu.Unlock()
	log.Info("controller_attached", "session", c.session, "target", pane.Target, "command", pane.Command)
	return pane.Target, nil
}

// tick runs one capture, classify, dispatch cycle. It returns false once the
// controller has parked in ERROR.
func (c *Controller) tick(ctx context.Context, target string) bool {
	ctx, span := tracer.Start(ctx, "controller.tick")
	defer span.End()
	span.SetAttributes(
		attribute.String("session", c.session),
		attribute.String("pane.target", target),
	)

	c.deps.Metrics.RecordPoll(ctx, c.session)
	c.mu.Lock()
	c.status.Polls++
	c.mu.Unlock()

	text, err := c.deps.Reader.Capture(ctx, target)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		span.RecordError(err)
		return c.captureFailed(ctx, err)
	}
	c.captureSucceeded()

	m, ok := c.deps.Classifier.Classify(text)
	if !ok {
		c.lastFingerprint = ""
		return true
	}
	if m.Fingerprint == c.lastFingerprint {
		return true
	}
	c.deps.Metrics.RecordMatch(ctx, m.Kind.String())
	span.SetAttributes(attribute.String("prompt.pattern", m.PatternID))

	c.mu.Lock()
	autoRespond := c.status.AutoRespond
	c.mu.Unlock()
	m = c.opts.Overrides.Apply(m)
	info := &MatchInfo{
		PatternID:   m.PatternID,
		Kind:        m.Kind,
		Response:    m.Response,
		Fingerprint: m.Fingerprint,
		At:          c.now(),
	}

	if !autoRespond {
		c.mu.Lock()
		c.status.LastMatch = info
		c.mu.Unlock()
		log.Debug("match_not_dispatched", "session", c.session, "pattern", m.PatternID, "reason", "auto_respond_off")
		return true
	}

	c.transition(ctx, StateDispatching)
	// Stop must not interrupt a dispatch half way through.
	rec, err := c.deps.Dispatcher.Dispatch(context.WithoutCancel(ctx), dispatch.Request{
		Session:   c.session,
		Target:    target,
		Kind:      m.Kind,
		PatternID: m.PatternID,
		Keys:      m.Response,
		Snippet:   text,
	})

	info.Dispatched = err == nil
	c.mu.Lock()
	c.status.LastMatch = info
	c.status.LastDispatch = &rec
	c.mu.Unlock()

	if err != nil {
		c.fail(ctx, err)
		return false
	}
	c.lastFingerprint = m.Fingerprint
	c.transition(ctx, StateMonitoring)
	return true
}

func (c *Controller) captureFailed(ctx context.Context, err error) bool {
	kind := kindOf(err)
	if kind == ErrKindPaneNotFound {
		c.fail(ctx, err)
		return false
	}

	c.mu.Lock()
	c.status.ConsecutiveFailures++
	n := c.status.ConsecutiveFailures
	c.status.LastError = &ErrorInfo{Kind: kind, Message: err.Error(), At: c.now()}
	c.mu.Unlock()

	log.Warn("capture_failed", "session", c.session, "kind", string(kind), "consecutive", n, "error", err)
	if n >= c.opts.MaxFailures {
		c.fail(ctx, fmt.Errorf("%d consecutive capture failures: %w", n, err))
		return false
	}
	return true
}

func (c *Controller) captureSucceeded() {
	c.mu.Lock()
	c.status.ConsecutiveFailures = 0
	c.mu.Unlock()
}

// fail parks the controller in ERROR. Only Start leaves it.
func (c *Controller) fail(ctx context.Context, err error) {
	kind := kindOf(err)
	c.mu.Lock()
	c.status.LastError = &ErrorInfo{Kind: kind, Message: err.Error(), At: c.now()}
	c.mu.Unlock()
	log.Error("controller_error", "session", c.session, "kind", string(kind), "error", err)
	c.transition(context.WithoutCancel(ctx), StateError)
}

func (c *Controller) transition(ctx context.Context, to State) {
	c.mu.Lock()
	from := c.status.State
	c.status.State = to
	c.mu.Unlock()
	c.logTransition(ctx, from, to)
}

func (c *Controller) logTransition(ctx context.Context, from, to State) {
	if from == to {
		return
	}
	log.Info("state_transition", "session", c.session, "from", from.String(), "to", to.String())
	c.deps.Metrics.RecordTransition(ctx, to.String())
}

func (c *Controller) now() time.Time {
	if c.deps.Now != nil {
		return c.deps.Now()
	}
	return time.Now()
}
