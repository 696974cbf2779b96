package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/timvw/pane-pilot/internal/dispatch"
	"github.com/timvw/pane-pilot/internal/prompt"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(id, session string, at time.Time, errMsg string) dispatch.Record {
	return dispatch.Record{
		ID:        id,
		Time:      at,
		Session:   session,
		Target:    session + ":0.0",
		Kind:      prompt.YesNo,
		PatternID: "yes-no",
		Keys:      "yes\n",
		Snippet:   "Continue? (y/n)",
		Duration:  150 * time.Millisecond,
		Err:       errMsg,
	}
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, session := range []string{"a", "b", "a"} {
		if err := s.Record(ctx, record(fmt.Sprintf("r%d", i), session, base.Add(time.Duration(i)*time.Second), "")); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	all, err := s.Recent(ctx, Query{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].ID != "r0" || all[2].ID != "r2" {
		t.Errorf("expected oldest first, got %s..%s", all[0].ID, all[2].ID)
	}
	got := all[0]
	if got.Kind != prompt.YesNo || got.Keys != "yes\n" || got.Duration != 150*time.Millisecond {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Time.Equal(base) {
		t.Errorf("Time: got %v, want %v", got.Time, base)
	}

	onlyA, err := s.Recent(ctx, Query{Session: "a"})
	if err != nil {
		t.Fatalf("Recent(a): %v", err)
	}
	if len(onlyA) != 2 {
		t.Errorf("expected 2 records for a, got %d", len(onlyA))
	}
}

func TestRecentFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		errMsg := ""
		if i%2 == 1 {
			errMsg = "send keys failed"
		}
		if err := s.Record(ctx, record(fmt.Sprintf("r%d", i), "dev", base.Add(time.Duration(i)*time.Minute), errMsg)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	limited, err := s.Recent(ctx, Query{Limit: 2})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "r3" || limited[1].ID != "r4" {
		t.Errorf("expected newest two [r3 r4], got %v", ids(limited))
	}

	since, err := s.Recent(ctx, Query{Since: base.Add(3 * time.Minute)})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(since) != 2 {
		t.Errorf("expected 2 records since +3m, got %v", ids(since))
	}

	failed, err := s.Recent(ctx, Query{FailedOnly: true})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(failed) != 2 || failed[0].OK() {
		t.Errorf("expected 2 failed records, got %v", ids(failed))
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.Record(ctx, record("r1", "dev", time.Now(), "")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	runID := s1.RunID()
	s1.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	if s2.RunID() == runID {
		t.Error("expected a fresh run id per open")
	}
	n, err := s2.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 record after reopen, got %d", n)
	}
}

func TestConcurrentRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Record(ctx, record(fmt.Sprintf("r%d", i), "dev", time.Now(), "")); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 20 {
		t.Errorf("expected 20 records, got %d", n)
	}
}

func TestSinkReceivesDispatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var sink dispatch.Sink = s
	if err := sink.Record(ctx, record("r1", "dev", time.Now(), "")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, record("r1", "dev", time.Now(), "")); err != nil {
		t.Fatalf("Record (duplicate id): %v", err)
	}
	n, _ := s.Count(ctx)
	if n != 1 {
		t.Errorf("duplicate id should replace, got %d rows", n)
	}
}

func ids(rs []dispatch.Record) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}
