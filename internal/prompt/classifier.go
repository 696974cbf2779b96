// Package prompt classifies interactive prompts in captured pane text.
//
// Classification is a bounded, rule-based match over an ordered pattern
// table: the first pattern whose matcher fires wins. Only literal framing
// text known to accompany each prompt shape is matched, to keep false
// positives on ordinary command output near zero.
package prompt

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// DefaultWindow is the number of non-empty bottom lines the classifier examines.
const DefaultWindow = 30

// Match is the result of a successful classification.
type Match struct {
	PatternID string `json:"pattern_id"`
	Kind      Kind   `json:"kind"`
	Response  string `json:"response"`
	Snippet   string `json:"snippet"`
	// Fingerprint identifies this prompt occurrence: hex SHA-256 of the
	// pattern id and snippet.
	Fingerprint string `json:"fingerprint"`
	// Options is the number of menu options in the snippet, 0 for non-menus.
	Options int `json:"options,omitempty"`
}

// Classifier evaluates pane text against a pattern table.
type Classifier struct {
	Table *Table
	// Window is how many non-empty bottom lines to examine. Defaults to DefaultWindow.
	Window int
}

// NewClassifier returns a classifier over table with the default window.
func NewClassifier(table *Table) *Classifier {
	return &Classifier{Table: table, Window: DefaultWindow}
}

// Classify returns the first matching pattern, or ok=false when no prompt is
// visible. No match is the common case and is not an error.
func (c *Classifier) Classify(text string) (Match, bool) {
	if c.Table == nil || strings.TrimSpace(text) == "" {
		return Match{}, false
	}
	window := c.Window
	if window <= 0 {
		window = DefaultWindow
	}
	lines := recentLines(text, window)
	if len(lines) == 0 {
		return Match{}, false
	}

	for _, p := range c.Table.patterns {
		snippet, ok := p.Matcher.Match(lines)
		if !ok {
			continue
		}
		return Match{
			PatternID:   p.ID,
			Kind:        p.Kind,
			Response:    p.Response,
			Snippet:     snippet,
			Fingerprint: Fingerprint(p.ID, snippet),
			Options:     countOptions(snippet),
		}, true
	}
	return Match{}, false
}

// Fingerprint hashes a pattern id and matched snippet.
func Fingerprint(patternID, snippet string) string {
	h := sha256.New()
	h.Write([]byte(patternID))
	h.Write([]byte{0})
	h.Write([]byte(snippet))
	return hex.EncodeToString(h.Sum(nil))
}

// ansiRe matches CSI sequences and two-byte escapes.
var ansiRe = regexp.MustCompile(`\x1b(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// StripANSI removes terminal escape sequences and carriage returns.
func StripANSI(s string) string {
	if strings.IndexByte(s, 0x1b) >= 0 {
		s = ansiRe.ReplaceAllString(s, "")
	}
	return strings.ReplaceAll(s, "\r", "")
}

// recentLines returns the last n non-empty lines of text, ANSI-stripped and
// right-trimmed, oldest first.
func recentLines(text string, n int) []string {
	raw := strings.Split(StripANSI(text), "\n")
	out := make([]string, 0, n)
	for i := len(raw) - 1; i >= 0 && len(out) < n; i-- {
		l := strings.TrimRight(raw[i], " \t")
		if strings.TrimSpace(l) == "" {
			continue
		}
		out = append(out, l)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
