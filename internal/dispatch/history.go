package dispatch

import (
	"sync"
	"time"

	"github.com/timvw/pane-pilot/internal/prompt"
)

// DefaultHistorySize bounds the in-memory response history.
const DefaultHistorySize = 500

// SnippetChars is how much trailing pane text a record keeps.
const SnippetChars = 200

// Record is one dispatch attempt, successful or not.
type Record struct {
	ID        string        `json:"id"`
	Time      time.Time     `json:"time"`
	Session   string        `json:"session"`
	Target    string        `json:"target"`
	Kind      prompt.Kind   `json:"kind"`
	PatternID string        `json:"pattern_id"`
	Keys      string        `json:"keys"`
	Snippet   string        `json:"snippet,omitempty"`
	Duration  time.Duration `json:"duration"`
	// Err is the failure message, empty on success.
	Err string `json:"error,omitempty"`
}

// OK reports whether the dispatch succeeded.
func (r Record) OK() bool { return r.Err == "" }

// History is a bounded ring of dispatch records. Safe for concurrent use.
type History struct {
	mu    sync.Mutex
	buf   []Record
	next  int
	full  bool
	limit int
}

// NewHistory creates a history holding at most size records.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]Record, size), limit: size}
}

// Add appends a record, evicting the oldest when full.
func (h *History) Add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = r
	h.next = (h.next + 1) % h.limit
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of stored records.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return h.limit
	}
	return h.next
}

// Snapshot returns a copy of all records, oldest first.
func (h *History) Snapshot() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Record(nil), h.buf[:h.next]...)
	}
	out := make([]Record, 0, h.limit)
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// ForSession returns the records for one session, oldest first.
func (h *History) ForSession(session string) []Record {
	var out []Record
	for _, r := range h.Snapshot() {
		if r.Session == session {
			out = append(out, r)
		}
	}
	return out
}

// tail returns the last n characters of s, respecting rune boundaries.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
