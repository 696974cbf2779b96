package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pane-pilot/internal/cache"
	"github.com/timvw/pane-pilot/internal/config"
	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/model"
	"github.com/timvw/pane-pilot/internal/mux"
	"github.com/timvw/pane-pilot/internal/mux/muxtest"
	"github.com/timvw/pane-pilot/internal/prompt"
)

// withConfig installs defaults with parsed durations for the test.
func withConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	c := config.Defaults()
	c.PollDuration = time.Second
	c.CaptureTimeoutDuration = 2 * time.Second
	c.SendTimeoutDuration = 2 * time.Second
	c.SendBackoffDuration = 200 * time.Millisecond
	c.CacheTTLDuration = time.Hour
	c.CacheGraceDuration = 30 * time.Second
	if mutate != nil {
		mutate(c)
	}
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestCreateSessionInvalidatesCache(t *testing.T) {
	withConfig(t, nil)
	f := muxtest.New(model.Pane{Target: "work:0.0", Session: "work"})
	c := newSessionCache(f, nil)
	ctx := context.Background()

	snap, err := c.Get(ctx, cache.KeyAllSessions)
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 1)

	require.NoError(t, createSession(ctx, f, c, "extra", t.TempDir()))

	snap, err = c.Get(ctx, cache.KeyAllSessions)
	require.NoError(t, err)
	assert.Len(t, snap.Sessions, 2)
	assert.Equal(t, 2, f.ListCalls())
}

func TestCreateSessionRejectsDuplicate(t *testing.T) {
	withConfig(t, nil)
	f := muxtest.New(model.Pane{Target: "work:0.0", Session: "work"})

	err := createSession(context.Background(), f, newSessionCache(f, nil), "work", "/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestKillSessionInvalidatesCache(t *testing.T) {
	withConfig(t, nil)
	f := muxtest.New(
		model.Pane{Target: "work:0.0", Session: "work"},
		model.Pane{Target: "other:0.0", Session: "other"},
	)
	c := newSessionCache(f, nil)
	ctx := context.Background()

	_, err := c.Get(ctx, cache.SessionKey("work"))
	require.NoError(t, err)

	require.NoError(t, killSession(ctx, f, c, "work"))

	snap, err := c.Get(ctx, cache.SessionKey("work"))
	require.NoError(t, err)
	_, ok := snap.Session("work")
	assert.False(t, ok, "killed session still cached")
}

func TestKillSessionMissing(t *testing.T) {
	withConfig(t, nil)
	f := muxtest.New()
	err := killSession(context.Background(), f, newSessionCache(f, nil), "ghost")
	assert.ErrorIs(t, err, mux.ErrPaneNotFound)
}

func TestNewDepsUsesConfig(t *testing.T) {
	withConfig(t, func(c *config.Config) {
		c.CaptureLines = 80
		c.SendAttempts = 7
		c.HistorySize = 12
		c.ClassifyWindow = 20
	})
	deps := newDeps(muxtest.New(), nil, nil)

	assert.Equal(t, 80, deps.Reader.Lines)
	assert.Equal(t, 2*time.Second, deps.Reader.Timeout)
	assert.Equal(t, 7, deps.Dispatcher.Attempts)
	assert.Equal(t, 200*time.Millisecond, deps.Dispatcher.Backoff)
	assert.Equal(t, 20, deps.Classifier.Window)
	assert.Equal(t, time.Hour, deps.Cache.TTL())
	assert.Nil(t, deps.Dispatcher.Sink)

	for i := 0; i < 20; i++ {
		deps.Dispatcher.History.Add(dispatch.Record{PatternID: "p"})
	}
	assert.Equal(t, 12, deps.Dispatcher.History.Len())
}

func TestControllerOptionsFromConfig(t *testing.T) {
	off := false
	withConfig(t, func(c *config.Config) {
		c.AutoRespond = &off
		c.MaxFailures = 9
		c.Overrides = prompt.Overrides{YesNo: "n"}
	})
	opts := controllerOptions()

	assert.False(t, opts.AutoRespond)
	assert.Equal(t, 9, opts.MaxFailures)
	assert.Equal(t, time.Second, opts.PollInterval)
	assert.Equal(t, "n", opts.Overrides.YesNo)
	assert.Empty(t, opts.Target)
}

func TestSubcommandsRegistered(t *testing.T) {
	want := []string{"list", "capture", "classify", "run", "monitor", "health", "advise", "session", "history", "hook", "version"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, have[name], "missing subcommand %q", name)
	}
}
