package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timvw/pane-pilot/internal/model"
	"github.com/timvw/pane-pilot/internal/mux/muxtest"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testPanes() []model.Pane {
	return []model.Pane{
		{Target: "dev:0.0", Session: "dev", Window: 0, Pane: 0},
		{Target: "dev:0.1", Session: "dev", Window: 0, Pane: 1},
		{Target: "ops:1.0", Session: "ops", Window: 1, Pane: 0},
	}
}

func newTestCache(t *testing.T, ttl, grace time.Duration) (*SessionCache, *muxtest.Fake, *fakeClock) {
	t.Helper()
	f := muxtest.New(testPanes()...)
	clock := newClock()
	c := NewSessionCache(f, ttl, grace)
	c.Now = clock.Now
	return c, f, clock
}

func TestGet_OneFetchWithinTTL(t *testing.T) {
	c, f, clock := newTestCache(t, 5*time.Second, DefaultGrace)
	ctx := context.Background()

	first, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)
	clock.Advance(4 * time.Second)
	second, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)

	assert.Equal(t, 1, f.ListCalls(), "two reads within TTL must fetch once")
	assert.Equal(t, first.FetchedAt, second.FetchedAt)
	assert.Len(t, second.Sessions, 2)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Refreshes)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, first.FetchedAt, stats.LastRefresh)
}

func TestGet_RefetchAfterExpiry(t *testing.T) {
	c, f, clock := newTestCache(t, 5*time.Second, DefaultGrace)
	ctx := context.Background()

	_, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	_, err = c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)

	assert.Equal(t, 2, f.ListCalls())
}

func TestGet_RefetchAfterInvalidate(t *testing.T) {
	c, f, _ := newTestCache(t, time.Minute, DefaultGrace)
	ctx := context.Background()

	_, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)

	require.NoError(t, f.NewSession(ctx, "new", ""))
	c.Invalidate(KeyAllSessions)

	snap, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)
	assert.Equal(t, 2, f.ListCalls())
	_, ok := snap.Session("new")
	assert.True(t, ok, "created session must be visible after invalidation")
}

func TestInvalidateAll(t *testing.T) {
	c, f, _ := newTestCache(t, time.Minute, DefaultGrace)
	ctx := context.Background()

	_, _ = c.Get(ctx, KeyAllSessions)
	_, _ = c.Get(ctx, SessionKey("dev"))
	require.Equal(t, 2, c.Stats().Entries)

	c.InvalidateAll()
	assert.Equal(t, 0, c.Stats().Entries)

	_, _ = c.Get(ctx, KeyAllSessions)
	assert.Equal(t, 3, f.ListCalls())
}

func TestGet_SessionKey(t *testing.T) {
	c, _, _ := newTestCache(t, time.Minute, DefaultGrace)

	snap, err := c.Get(context.Background(), SessionKey("ops"))
	require.NoError(t, err)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "ops", snap.Sessions[0].Name)

	missing, err := c.Get(context.Background(), SessionKey("gone"))
	require.NoError(t, err)
	_, ok := missing.Session("gone")
	assert.False(t, ok)
}

func TestGet_UnknownKey(t *testing.T) {
	c, _, _ := newTestCache(t, time.Minute, DefaultGrace)
	_, err := c.Get(context.Background(), "windows")
	assert.Error(t, err)
}

func TestGet_StaleWithinGrace(t *testing.T) {
	c, f, clock := newTestCache(t, 5*time.Second, 30*time.Second)
	ctx := context.Background()

	_, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)

	f.SetListErr(errors.New("tmux: server exited"))
	clock.Advance(20 * time.Second)

	snap, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Len(t, snap.Sessions, 2)
	assert.Equal(t, int64(1), c.Stats().RefreshErrors)
}

func TestGet_RefreshFailedBeyondGrace(t *testing.T) {
	c, f, clock := newTestCache(t, 5*time.Second, 30*time.Second)
	ctx := context.Background()

	_, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)

	cause := errors.New("tmux: server exited")
	f.SetListErr(cause)
	clock.Advance(36 * time.Second)

	_, err = c.Get(ctx, KeyAllSessions)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
	assert.True(t, errors.Is(err, cause))
}

func TestGet_RefreshFailedWithoutSnapshot(t *testing.T) {
	c, f, _ := newTestCache(t, 5*time.Second, 30*time.Second)
	f.SetListErr(errors.New("no server"))

	_, err := c.Get(context.Background(), KeyAllSessions)
	assert.True(t, errors.Is(err, ErrRefreshFailed))
}

func TestGet_ReturnsCopies(t *testing.T) {
	c, _, _ := newTestCache(t, time.Minute, DefaultGrace)
	ctx := context.Background()

	first, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)
	first.Sessions[0].Name = "mutated"
	first.Sessions[0].Windows[0].Panes[0].Target = "mutated"

	second, err := c.Get(ctx, KeyAllSessions)
	require.NoError(t, err)
	assert.Equal(t, "dev", second.Sessions[0].Name)
	assert.Equal(t, "dev:0.0", second.Sessions[0].Windows[0].Panes[0].Target)
}

func TestGet_ZeroTTLAlwaysFetches(t *testing.T) {
	c, f, _ := newTestCache(t, 0, DefaultGrace)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Get(ctx, KeyAllSessions)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, f.ListCalls())
	assert.Equal(t, 0, c.Stats().Entries)
}

// blockingSource holds every fetch until release is closed.
type blockingSource struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingSource) ListTopology(ctx context.Context) ([]model.Session, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	return model.GroupPanes(testPanes()), nil
}

func TestGet_ConcurrentMissesCollapse(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	c := NewSessionCache(src, time.Minute, DefaultGrace)

	const readers = 8
	var wg sync.WaitGroup
	errs := make(chan error, readers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.Get(context.Background(), KeyAllSessions)
		errs <- err
	}()
	<-src.started

	for i := 1; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), KeyAllSessions)
			errs <- err
		}()
	}
	// Give the followers time to join the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(src.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestInvalidate_DuringFetchIsNotStored(t *testing.T) {
	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	c := NewSessionCache(src, time.Minute, DefaultGrace)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Get(context.Background(), KeyAllSessions)
	}()
	<-src.started
	c.Invalidate(KeyAllSessions)
	close(src.release)
	<-done

	assert.Equal(t, 0, c.Stats().Entries, "a fetch started before invalidation must not be stored")
}
