package prompt

import (
	"regexp"
	"strings"
)

// Matcher is a text predicate over the recent non-empty lines of a pane.
// Lines are ANSI-stripped and right-trimmed, oldest first. On success the
// matcher returns the snippet of text it matched on; the snippet identifies
// the prompt occurrence.
type Matcher interface {
	Match(lines []string) (snippet string, ok bool)
}

// Substrings matches when every string in All occurs on some line.
// The snippet is the matching lines in screen order.
type Substrings struct {
	All []string
	// Fold makes the comparison case-insensitive.
	Fold bool
	// Tail limits the search to the last Tail lines, so text that has
	// scrolled up under newer output no longer matches. Zero searches all lines.
	Tail int
}

func (m Substrings) Match(lines []string) (string, bool) {
	if len(m.All) == 0 {
		return "", false
	}
	start := 0
	if m.Tail > 0 && len(lines) > m.Tail {
		start = len(lines) - m.Tail
	}
	hit := make([]bool, len(lines))
	for _, want := range m.All {
		found := false
		// Search bottom-up so the most recent occurrence wins.
		for i := len(lines) - 1; i >= start; i-- {
			if m.contains(lines[i], want) {
				hit[i] = true
				found = true
				break
			}
		}
		if !found {
			return "", false
		}
	}
	var parts []string
	for i, ok := range hit {
		if ok {
			parts = append(parts, strings.TrimSpace(lines[i]))
		}
	}
	return strings.Join(parts, "\n"), true
}

func (m Substrings) contains(line, want string) bool {
	if m.Fold {
		return strings.Contains(strings.ToLower(line), strings.ToLower(want))
	}
	return strings.Contains(line, want)
}

// Regex matches a single line against a regular expression.
type Regex struct {
	Re *regexp.Regexp
	// Tail limits the search to the last Tail lines. Zero searches all lines.
	Tail int
}

// MustRegex compiles pattern into a Regex matcher, panicking on error.
// Use for known-good patterns at initialization.
func MustRegex(pattern string, tail int) Regex {
	return Regex{Re: regexp.MustCompile(pattern), Tail: tail}
}

func (m Regex) Match(lines []string) (string, bool) {
	start := 0
	if m.Tail > 0 && len(lines) > m.Tail {
		start = len(lines) - m.Tail
	}
	for i := len(lines) - 1; i >= start; i-- {
		if m.Re.MatchString(lines[i]) {
			return strings.TrimSpace(lines[i]), true
		}
	}
	return "", false
}

// optionRe recognizes a menu option line: "❯ 1. Yes", "1) Yes", "[1] Yes",
// optionally inside a dialog box border ("│ ❯ 1. Yes").
var optionRe = regexp.MustCompile(`^\s*(?:[│┃]\s*)?(?:[❯>›]\s*)?(?:(\d+)[.)]|\[(\d+)\])\s+\S`)

// optionNumber returns the option number on line, or 0 when line is not an option.
func optionNumber(line string) int {
	m := optionRe.FindStringSubmatch(line)
	if m == nil {
		return 0
	}
	s := m[1]
	if s == "" {
		s = m[2]
	}
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// Menu matches a framing question followed by numbered options starting at 1.
//
// The question must appear within the Lookback lines above option 1. Options
// must be numbered consecutively. When Wrapped is false every option sits on
// its own line with no other text between them; when Wrapped is true,
// continuation lines between options are allowed and the whole menu must fit
// in the last Span lines.
type Menu struct {
	Question *regexp.Regexp
	// MinOptions is the minimum number of options. Defaults to 2.
	MinOptions int
	// Lookback is how many lines above option 1 may hold the question. Defaults to 2.
	Lookback int
	Wrapped  bool
	// Span bounds the menu search window for wrapped menus. Defaults to 15.
	Span int
	// Trailing is how many lines may follow the last option, such as a
	// dialog footer. Defaults to 3. A menu followed by more output is
	// considered answered or scrolled away.
	Trailing int
}

func (m Menu) Match(lines []string) (string, bool) {
	minOpts := m.MinOptions
	if minOpts <= 0 {
		minOpts = 2
	}
	lookback := m.Lookback
	if lookback <= 0 {
		lookback = 2
	}
	trailing := m.Trailing
	if trailing <= 0 {
		trailing = 3
	}

	floor := 0
	if m.Wrapped {
		span := m.Span
		if span <= 0 {
			span = 15
		}
		if len(lines) > span {
			floor = len(lines) - span
		}
	}

	// Scan bottom-up for option 1 so the most recent menu wins.
	for first := len(lines) - 1; first >= floor; first-- {
		if optionNumber(lines[first]) != 1 {
			continue
		}

		q := -1
		for i := first - 1; i >= first-lookback && i >= floor; i-- {
			if m.Question.MatchString(lines[i]) {
				q = i
				break
			}
		}
		if q < 0 {
			continue
		}

		end, count := m.collect(lines, first)
		if count < minOpts || len(lines)-end > trailing {
			continue
		}

		parts := make([]string, 0, end-q)
		for _, l := range lines[q:end] {
			parts = append(parts, strings.TrimSpace(l))
		}
		return strings.Join(parts, "\n"), true
	}
	return "", false
}

// collect walks forward from option 1 and returns the index one past the
// last option (or continuation) line and the number of options found.
func (m Menu) collect(lines []string, first int) (end, count int) {
	count = 1
	end = first + 1
	for i := first + 1; i < len(lines); i++ {
		n := optionNumber(lines[i])
		switch {
		case n == count+1:
			count++
			end = i + 1
		case n == 0 && m.Wrapped && isContinuation(lines[i]):
			end = i + 1
		default:
			return end, count
		}
	}
	return end, count
}

// isContinuation reports whether line is an indented wrap of the option above.
func isContinuation(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

// countOptions returns the number of option lines in a snippet.
func countOptions(snippet string) int {
	n := 0
	for _, l := range strings.Split(snippet, "\n") {
		if optionNumber(l) > 0 {
			n++
		}
	}
	return n
}
