package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pane-pilot/internal/mux"
	"github.com/timvw/pane-pilot/internal/mux/muxtest"
)

// hangingMux blocks captures until the context ends and reports the raw
// context error, as an exec'd binary killed by its context would.
type hangingMux struct {
	*muxtest.Fake
	lines int
}

func (h *hangingMux) CapturePane(ctx context.Context, _ string, lines int) (string, error) {
	h.lines = lines
	<-ctx.Done()
	return "", ctx.Err()
}

func TestReader_Capture(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", "hello")

	text, err := NewReader(f).Capture(context.Background(), "dev:0.0")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestReader_PaneNotFoundUnchanged(t *testing.T) {
	f := muxtest.New()
	_, err := NewReader(f).Capture(context.Background(), "dev:0.0")
	require.ErrorIs(t, err, mux.ErrPaneNotFound)
}

func TestReader_TimeoutBecomesCaptureTimeout(t *testing.T) {
	h := &hangingMux{Fake: muxtest.New()}
	r := &Reader{Mux: h, Lines: 20, Timeout: 10 * time.Millisecond}

	start := time.Now()
	_, err := r.Capture(context.Background(), "dev:0.0")
	require.ErrorIs(t, err, mux.ErrCaptureTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 20, h.lines)
}

func TestReader_CallerCancelIsNotTimeout(t *testing.T) {
	h := &hangingMux{Fake: muxtest.New()}
	r := &Reader{Mux: h, Timeout: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Capture(ctx, "dev:0.0")
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, mux.ErrCaptureTimeout)
	assert.Equal(t, DefaultCaptureLines, h.lines)
}
