package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/model"
	"github.com/timvw/pane-pilot/internal/mux"
	"github.com/timvw/pane-pilot/internal/mux/muxtest"
	"github.com/timvw/pane-pilot/internal/prompt"
)

const (
	trustPrompt = "Trust this workspace?\n❯ 1. Yes\n  2. No"
	yesNoPrompt = "Continue? (y/n)"
	waitLimit   = 2 * time.Second
	waitStep    = 5 * time.Millisecond
)

func assistantPane(target string) model.Pane {
	p, err := model.ParseTarget(target)
	if err != nil {
		panic(err)
	}
	p.Command = "claude"
	return p
}

func testDeps(f *muxtest.Fake) Deps {
	d := dispatch.New(f)
	d.Limiter = nil
	d.Sleep = func(time.Duration) {}
	return Deps{
		Cache:      cache.NewSessionCache(f, 0, cache.DefaultGrace),
		Reader:     NewReader(f),
		Classifier: prompt.NewClassifier(prompt.DefaultTable()),
		Dispatcher: d,
	}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	return opts
}

func startController(t *testing.T, f *muxtest.Fake, session string, opts Options) *Controller {
	t.Helper()
	c := New(session, testDeps(f), opts)
	c.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitLimit)
		defer cancel()
		_ = c.Stop(ctx)
	})
	return c
}

func waitState(t *testing.T, c *Controller, want State) Status {
	t.Helper()
	require.Eventually(t, func() bool { return c.Status().State == want }, waitLimit, waitStep,
		"state never reached %s (last %s)", want, c.Status().State)
	return c.Status()
}

// waitPolls blocks until at least n more captures have happened.
func waitPolls(t *testing.T, f *muxtest.Fake, n int) {
	t.Helper()
	start := f.CaptureCalls()
	require.Eventually(t, func() bool { return f.CaptureCalls() >= start+n }, waitLimit, waitStep)
}

func TestScenarioA_TrustPromptAnswered(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", trustPrompt)

	c := startController(t, f, "dev", testOptions())
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)

	sent := f.Sent()
	assert.Equal(t, muxtest.Sent{Target: "dev:0.0", Keys: "1", Literal: true}, sent[0])
	assert.Equal(t, muxtest.Sent{Target: "dev:0.0", Keys: "Enter"}, sent[1])

	st := waitState(t, c, StateMonitoring)
	require.NotNil(t, st.LastMatch)
	assert.Equal(t, prompt.TrustConfirm, st.LastMatch.Kind)
	assert.True(t, st.LastMatch.Dispatched)
	require.NotNil(t, st.LastDispatch)
	assert.True(t, st.LastDispatch.OK())
	assert.Equal(t, "dev:0.0", st.Target)
}

func TestScenarioB_YesNoAnswered(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", yesNoPrompt)

	startController(t, f, "dev", testOptions())
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)
	assert.Equal(t, "yes", f.Sent()[0].Keys)
}

func TestScenarioC_SamePromptDispatchedOnce(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", yesNoPrompt)

	startController(t, f, "dev", testOptions())
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)

	// The prompt stays on screen across many more polls.
	waitPolls(t, f, 5)
	assert.Len(t, f.Sent(), 2, "identical prompt must not be answered twice")
}

func TestFingerprintClearedWhenPromptDisappears(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", yesNoPrompt)

	startController(t, f, "dev", testOptions())
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)

	f.SetCapture("dev:0.0", "$ make test\nok\n")
	waitPolls(t, f, 3)
	assert.Len(t, f.Sent(), 2)

	// The same question asked again is a new occurrence.
	f.SetCapture("dev:0.0", yesNoPrompt)
	require.Eventually(t, func() bool { return len(f.Sent()) == 4 }, waitLimit, waitStep)
}

func TestAnsweredTrustDialogDoesNotHideNextPrompt(t *testing.T) {
	const dialog = "Do you trust the files in this folder?\n❯ 1. Yes, proceed\n  2. No, exit"

	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", dialog)

	startController(t, f, "dev", testOptions())
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)
	assert.Equal(t, "1", f.Sent()[0].Keys)

	// The answered dialog is still on screen above the next question.
	f.SetCapture("dev:0.0", dialog+"\n> 1\nReading files...\nEdited main.go\nApply changes to main.go? (y/n)")
	require.Eventually(t, func() bool { return len(f.Sent()) == 4 }, waitLimit, waitStep)
	assert.Equal(t, muxtest.Sent{Target: "dev:0.0", Keys: "yes", Literal: true}, f.Sent()[2])
}

func TestScenarioD_CaptureTimeoutsPark(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCaptureErr(fmt.Errorf("capture dev:0.0: %w", mux.ErrCaptureTimeout))

	c := startController(t, f, "dev", testOptions())
	st := waitState(t, c, StateError)

	require.NotNil(t, st.LastError)
	assert.Equal(t, ErrKindCaptureTimeout, st.LastError.Kind)
	assert.Equal(t, DefaultMaxFailures, st.ConsecutiveFailures)
	assert.Equal(t, DefaultMaxFailures, f.CaptureCalls())

	// Parked: no further polling.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, DefaultMaxFailures, f.CaptureCalls())
}

func TestCaptureFailuresResetAfterSuccess(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	c := New("dev", testDeps(f), DefaultOptions())
	ctx := context.Background()

	f.SetCaptureErr(fmt.Errorf("capture: %w", mux.ErrCaptureTimeout))
	for range DefaultMaxFailures - 1 {
		require.True(t, c.tick(ctx, "dev:0.0"))
	}
	assert.Equal(t, DefaultMaxFailures-1, c.Status().ConsecutiveFailures)

	f.SetCaptureErr(nil)
	require.True(t, c.tick(ctx, "dev:0.0"))
	assert.Equal(t, 0, c.Status().ConsecutiveFailures)

	f.SetCaptureErr(errors.New("tmux exploded"))
	for range DefaultMaxFailures - 1 {
		require.True(t, c.tick(ctx, "dev:0.0"))
	}
	assert.False(t, c.tick(ctx, "dev:0.0"))
	st := c.Status()
	assert.Equal(t, StateError, st.State)
	assert.Equal(t, ErrKindInternal, st.LastError.Kind)
}

func TestPaneGoneParksImmediately(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	c := startController(t, f, "dev", testOptions())
	waitState(t, c, StateMonitoring)

	f.RemovePane("dev:0.0")
	st := waitState(t, c, StateError)
	assert.Equal(t, ErrKindPaneNotFound, st.LastError.Kind)
	assert.Less(t, st.ConsecutiveFailures, DefaultMaxFailures)
}

func TestSendFailureParks(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SendErrs = []error{errors.New("busy"), errors.New("busy"), errors.New("busy")}
	f.SetCapture("dev:0.0", yesNoPrompt)

	c := startController(t, f, "dev", testOptions())
	st := waitState(t, c, StateError)

	assert.Equal(t, ErrKindSendFailed, st.LastError.Kind)
	require.NotNil(t, st.LastDispatch)
	assert.False(t, st.LastDispatch.OK())
	require.NotNil(t, st.LastMatch)
	assert.False(t, st.LastMatch.Dispatched)
	assert.Empty(t, f.Sent())
}

func TestAutoRespondOffRecordsOnly(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", trustPrompt)
	opts := testOptions()
	opts.AutoRespond = false

	c := startController(t, f, "dev", opts)
	require.Eventually(t, func() bool { return c.Status().LastMatch != nil }, waitLimit, waitStep)
	waitPolls(t, f, 3)

	st := c.Status()
	assert.False(t, st.LastMatch.Dispatched)
	assert.Nil(t, st.LastDispatch)
	assert.Empty(t, f.Sent())

	c.SetAutoRespond(true)
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)
}

func TestOverridesApplied(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", yesNoPrompt)
	opts := testOptions()
	opts.Overrides = prompt.Overrides{YesNo: "n"}

	startController(t, f, "dev", opts)
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)
	assert.Equal(t, "n", f.Sent()[0].Keys)
}

func TestStartMissingSessionErrors(t *testing.T) {
	f := muxtest.New(assistantPane("other:0.0"))
	c := startController(t, f, "dev", testOptions())

	st := waitState(t, c, StateError)
	assert.Equal(t, ErrKindPaneNotFound, st.LastError.Kind)
	assert.Zero(t, f.CaptureCalls())
}

func TestStartRefreshFailureErrors(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetListErr(errors.New("no server"))
	c := startController(t, f, "dev", testOptions())

	st := waitState(t, c, StateError)
	assert.Equal(t, ErrKindRefreshFailed, st.LastError.Kind)
}

func TestStartIsIdempotent(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	opts := testOptions()
	opts.PollInterval = time.Hour

	c := startController(t, f, "dev", opts)
	waitState(t, c, StateMonitoring)
	require.Eventually(t, func() bool { return f.CaptureCalls() == 1 }, waitLimit, waitStep)
	started := c.Status().StartedAt

	st := c.Start(context.Background())
	assert.Equal(t, StateMonitoring, st.State)
	assert.Equal(t, started, st.StartedAt)
	assert.Equal(t, 1, f.CaptureCalls())
}

func TestRestartFromError(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCaptureErr(fmt.Errorf("capture: %w", mux.ErrCaptureTimeout))

	c := startController(t, f, "dev", testOptions())
	waitState(t, c, StateError)

	f.SetCaptureErr(nil)
	st := c.Start(context.Background())
	assert.Equal(t, StateStarting, st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Nil(t, st.LastError)
	waitState(t, c, StateMonitoring)
}

func TestStopReachesStopped(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	c := startController(t, f, "dev", testOptions())
	waitState(t, c, StateMonitoring)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.Status().State)

	calls := f.CaptureCalls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, f.CaptureCalls(), "no polling after stop")
}

func TestConcurrentStartStopLeavesNoOrphanLoop(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	c := startController(t, f, "dev", testOptions())
	waitState(t, c, StateMonitoring)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = c.Stop(context.Background())
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.Start(context.Background())
			}
		}()
	}
	wg.Wait()

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateStopped, c.Status().State)

	calls := f.CaptureCalls()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, f.CaptureCalls(), "a loop kept polling after stop")
}

func TestStopAcknowledgesError(t *testing.T) {
	f := muxtest.New(assistantPane("other:0.0"))
	c := startController(t, f, "dev", testOptions())
	waitState(t, c, StateError)

	require.NoError(t, c.Stop(context.Background()))
	st := c.Status()
	assert.Equal(t, StateStopped, st.State)
	assert.NotNil(t, st.LastError, "reason survives acknowledgment")
}

func TestWakePollsImmediately(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	opts := testOptions()
	opts.PollInterval = time.Hour

	c := startController(t, f, "dev", opts)
	waitState(t, c, StateMonitoring)
	require.Eventually(t, func() bool { return f.CaptureCalls() == 1 }, waitLimit, waitStep)

	f.SetCapture("dev:0.0", yesNoPrompt)
	c.Wake()
	require.Eventually(t, func() bool { return len(f.Sent()) == 2 }, waitLimit, waitStep)
	assert.Equal(t, 2, f.CaptureCalls())
}

func TestStatusNeverBlocksDuringDispatch(t *testing.T) {
	f := muxtest.New(assistantPane("dev:0.0"))
	f.SetCapture("dev:0.0", yesNoPrompt)
	deps := testDeps(f)
	release := make(chan struct{})
	deps.Dispatcher.Sleep = func(time.Duration) { <-release }

	c := New("dev", deps, testOptions())
	c.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitLimit)
		defer cancel()
		_ = c.Stop(ctx)
	}()

	st := waitState(t, c, StateDispatching)
	assert.Equal(t, StateDispatching, st.State)
	close(release)
	waitState(t, c, StateMonitoring)
}

func TestStateString(t *testing.T) {
	for s, want := range map[State]string{
		StateStopped:     "stopped",
		StateStarting:    "starting",
		StateMonitoring:  "monitoring",
		StateDispatching: "dispatching",
		StateError:       "error",
		State(42):        "State(42)",
	} {
		assert.Equal(t, want, s.String())
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("x: %w", mux.ErrPaneNotFound), ErrKindPaneNotFound},
		{fmt.Errorf("x: %w", mux.ErrCaptureTimeout), ErrKindCaptureTimeout},
		{fmt.Errorf("x: %w: %w", dispatch.ErrSendFailed, errors.New("busy")), ErrKindSendFailed},
		{fmt.Errorf("x: %w", cache.ErrRefreshFailed), ErrKindRefreshFailed},
		{errors.New("other"), ErrKindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kindOf(tt.err), tt.err.Error())
	}
}
