// Package dispatch injects prompt responses into panes.
//
// The Dispatcher is the only component that mutates terminal state. Every
// attempt is recorded in a bounded history and forwarded to an optional
// audit sink.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/timvw/pane-pilot/internal/logging"
	"github.com/timvw/pane-pilot/internal/mux"
	ppotel "github.com/timvw/pane-pilot/internal/otel"
	"github.com/timvw/pane-pilot/internal/prompt"
)

// ErrSendFailed is returned when keystroke injection fails after all retries.
var ErrSendFailed = errors.New("send keys failed")

var (
	tracer = otel.Tracer(ppotel.ServiceName)
	log    = logging.ForComponent(logging.CompDispatch)
)

// Defaults for the zero-value fields of Dispatcher.
const (
	DefaultAttempts    = 3
	DefaultBackoff     = 200 * time.Millisecond
	DefaultSendTimeout = 2 * time.Second
	DefaultSettle      = 150 * time.Millisecond
	DefaultRate        = 5
	DefaultBurst       = 5
)

// Sink receives dispatch records as they occur. Errors are logged, never fatal.
type Sink interface {
	Record(ctx context.Context, r Record) error
}

// Request describes one response to inject.
type Request struct {
	Session   string
	Target    string
	Kind      prompt.Kind
	PatternID string
	// Keys is the response template. A trailing "\n" means Enter.
	Keys string
	// Snippet is the pane text at match time; the record keeps its tail.
	Snippet string
}

// Dispatcher sends responses to panes.
type Dispatcher struct {
	Mux mux.Multiplexer

	// Attempts bounds send retries per keystroke step.
	Attempts int
	// Backoff is the pause between failed attempts.
	Backoff time.Duration
	// SendTimeout bounds each multiplexer call.
	SendTimeout time.Duration
	// Settle is the pause between typed text and Enter so the pane finishes
	// processing the paste.
	Settle time.Duration

	Limiter *rate.Limiter
	History *History
	Sink    Sink
	Metrics *ppotel.Metrics

	// Sleep and Now are injectable for tests.
	Sleep func(time.Duration)
	Now   func() time.Time
}

// New creates a Dispatcher with default retry, rate, and history settings.
func New(m mux.Multiplexer) *Dispatcher {
	return &Dispatcher{
		Mux:         m,
		Attempts:    DefaultAttempts,
		Backoff:     DefaultBackoff,
		SendTimeout: DefaultSendTimeout,
		Settle:      DefaultSettle,
		Limiter:     rate.NewLimiter(rate.Limit(DefaultRate), DefaultBurst),
		History:     NewHistory(DefaultHistorySize),
	}
}

// Dispatch re-verifies the pane and sends the response keys. The attempt is
// recorded in History whatever the outcome.
//
// Errors: mux.ErrPaneNotFound when the pane is gone, ErrSendFailed (wrapping
// the last cause) when retries are exhausted, or the context error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Record, error) {
	ctx, span := tracer.Start(ctx, "dispatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("session", req.Session),
		attribute.String("pane.target", req.Target),
		attribute.String("prompt.kind", req.Kind.String()),
		attribute.String("prompt.pattern", req.PatternID),
	)

	start := d.now()
	rec := Record{
		ID:        uuid.New().String(),
		Time:      start,
		Session:   req.Session,
		Target:    req.Target,
		Kind:      req.Kind,
		PatternID: req.PatternID,
		Keys:      req.Keys,
		Snippet:   tail(req.Snippet, SnippetChars),
	}

	err := d.send(ctx, req)
	rec.Duration = d.now().Sub(start)
	if err != nil {
		rec.Err = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.record(ctx, rec, err)
	return rec, err
}

func (d *Dispatcher) send(ctx context.Context, req Request) error {
	if d.Limiter != nil {
		if err := d.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("dispatch %s: rate limit: %w", req.Target, err)
		}
	}

	ok, err := d.hasPane(ctx, req.Target)
	if err != nil {
		return fmt.Errorf("dispatch %s: verify pane: %w", req.Target, err)
	}
	if !ok {
		return fmt.Errorf("dispatch %s: %w", req.Target, mux.ErrPaneNotFound)
	}

	for i, step := range plan(req.Keys) {
		if i > 0 {
			d.sleep(d.settle())
		}
		if err := d.sendWithRetry(ctx, req.Target, step); err != nil {
			return err
		}
	}
	return nil
}

// keystroke is one send-keys invocation.
type keystroke struct {
	keys    string
	literal bool
}

// plan splits a response template into send-keys steps: text before a
// trailing newline is typed literally, the newline becomes Enter. A bare
// control sequence (e.g., "C-c", "Down") is sent as a key name.
func plan(keys string) []keystroke {
	enter := strings.HasSuffix(keys, "\n")
	text := strings.TrimSuffix(keys, "\n")

	var steps []keystroke
	switch {
	case text == "":
	case !enter && isControlSequence(text):
		steps = append(steps, keystroke{keys: text})
	default:
		steps = append(steps, keystroke{keys: text, literal: true})
	}
	if enter {
		steps = append(steps, keystroke{keys: "Enter"})
	}
	return steps
}

// isControlSequence returns true if keys is a tmux key name rather than
// literal text to type.
func isControlSequence(keys string) bool {
	switch keys {
	case "Enter", "Escape", "Up", "Down", "Left", "Right",
		"Tab", "BTab", "Space", "BSpace", "DC":
		return true
	}
	// C-x (Ctrl) and M-x (Meta) patterns
	if len(keys) == 3 && (keys[0] == 'C' || keys[0] == 'M') && keys[1] == '-' {
		return true
	}
	return false
}

// sendWithRetry sends one step. A failed send-keys call injected nothing, so
// retrying the same step cannot double-type.
func (d *Dispatcher) sendWithRetry(ctx context.Context, target string, k keystroke) error {
	attempts := d.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			d.sleep(d.backoff())
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("dispatch %s: %w", target, err)
		}

		sctx, cancel := context.WithTimeout(ctx, d.sendTimeout())
		err := d.Mux.SendKeys(sctx, target, k.keys, k.literal)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, mux.ErrPaneNotFound) {
			return fmt.Errorf("dispatch %s: %w", target, err)
		}
		lastErr = err
		log.Warn("send_keys_retry",
			"target", target,
			"keys", k.keys,
			"attempt", attempt+1,
			"error", err)
	}
	return fmt.Errorf("dispatch %s after %d attempts: %w: %w", target, attempts, ErrSendFailed, lastErr)
}

func (d *Dispatcher) hasPane(ctx context.Context, target string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout())
	defer cancel()
	return d.Mux.HasPane(ctx, target)
}

func (d *Dispatcher) record(ctx context.Context, rec Record, err error) {
	outcome := Outcome(err)
	d.Metrics.RecordDispatch(ctx, outcome)

	if d.History != nil {
		d.History.Add(rec)
	}

	if err != nil {
		log.Error("dispatch_failed",
			"id", rec.ID,
			"session", rec.Session,
			"target", rec.Target,
			"kind", rec.Kind.String(),
			"outcome", outcome,
			"error", err)
	} else {
		log.Info("dispatched",
			"id", rec.ID,
			"session", rec.Session,
			"target", rec.Target,
			"kind", rec.Kind.String(),
			"pattern", rec.PatternID,
			"keys", rec.Keys)
	}

	if d.Sink != nil {
		if serr := d.Sink.Record(ctx, rec); serr != nil {
			log.Warn("audit_sink_failed", "id", rec.ID, "error", serr)
		}
	}
}

// Outcome names a dispatch result for metrics and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, mux.ErrPaneNotFound):
		return "pane_not_found"
	case errors.Is(err, ErrSendFailed):
		return "send_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

func (d *Dispatcher) sleep(dur time.Duration) {
	if dur <= 0 {
		return
	}
	if d.Sleep != nil {
		d.Sleep(dur)
		return
	}
	time.Sleep(dur)
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) backoff() time.Duration {
	if d.Backoff > 0 {
		return d.Backoff
	}
	return DefaultBackoff
}

func (d *Dispatcher) settle() time.Duration {
	if d.Settle > 0 {
		return d.Settle
	}
	return DefaultSettle
}

func (d *Dispatcher) sendTimeout() time.Duration {
	if d.SendTimeout > 0 {
		return d.SendTimeout
	}
	return DefaultSendTimeout
}
