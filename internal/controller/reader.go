package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timvw/pane-pilot/internal/mux"
)

const (
	DefaultCaptureLines   = 50
	DefaultCaptureTimeout = 2 * time.Second
)

// Reader captures the recent text of a pane with a bounded timeout.
// It never retries; the poll loop decides what a failure means.
type Reader struct {
	Mux     mux.Multiplexer
	Lines   int
	Timeout time.Duration
}

// NewReader returns a Reader with the default line count and timeout.
func NewReader(m mux.Multiplexer) *Reader {
	return &Reader{Mux: m, Lines: DefaultCaptureLines, Timeout: DefaultCaptureTimeout}
}

// Capture returns the last Lines lines of target. Errors wrap
// mux.ErrPaneNotFound or mux.ErrCaptureTimeout where they apply.
func (r *Reader) Capture(ctx context.Context, target string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	lines := r.Lines
	if lines <= 0 {
		lines = DefaultCaptureLines
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := r.Mux.CapturePane(cctx, target, lines)
	if err != nil {
		if ctx.Err() == nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, mux.ErrCaptureTimeout) {
			return "", fmt.Errorf("capture %s after %s: %w", target, timeout, mux.ErrCaptureTimeout)
		}
		return "", err
	}
	return text, nil
}
