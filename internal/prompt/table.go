package prompt

import (
	"fmt"
	"regexp"
)

// Pattern is one rule in the classification table.
type Pattern struct {
	// ID uniquely identifies the pattern within a table.
	ID      string
	Kind    Kind
	Matcher Matcher
	// Response is the literal keystrokes to send; a trailing "\n" means Enter.
	Response string
}

// Table is an ordered, immutable list of patterns. Earlier patterns win.
type Table struct {
	patterns []Pattern
}

// NewTable builds a table from patterns in priority order.
func NewTable(patterns ...Pattern) (*Table, error) {
	seen := make(map[string]bool, len(patterns))
	for i, p := range patterns {
		if p.ID == "" {
			return nil, fmt.Errorf("pattern %d: empty id", i)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("duplicate pattern id %q", p.ID)
		}
		if !p.Kind.Valid() {
			return nil, fmt.Errorf("pattern %q: invalid kind %d", p.ID, int(p.Kind))
		}
		if p.Matcher == nil {
			return nil, fmt.Errorf("pattern %q: nil matcher", p.ID)
		}
		if p.Response == "" {
			return nil, fmt.Errorf("pattern %q: empty response", p.ID)
		}
		seen[p.ID] = true
	}
	return &Table{patterns: append([]Pattern(nil), patterns...)}, nil
}

// Patterns returns a copy of the table's patterns in priority order.
func (t *Table) Patterns() []Pattern {
	return append([]Pattern(nil), t.patterns...)
}

// Len returns the number of patterns.
func (t *Table) Len() int { return len(t.patterns) }

// Default response templates.
const (
	responseFirst = "1\n"
	responseYes   = "yes\n"
	responseY     = "y\n"
)

var (
	// folderTrustQuestion heads the assistant's folder trust dialog. The
	// dialog explains the risk in a few lines before listing options.
	folderTrustQuestion = regexp.MustCompile(`(?i)do you trust the files in this folder`)
	// trustQuestion frames a trust confirmation menu.
	trustQuestion = regexp.MustCompile(`(?i)\btrust\b.*\?\s*$`)
	// selectQuestion frames a generic selection menu.
	selectQuestion = regexp.MustCompile(`(?i)(\bdo you want\b|\bwould you like\b|\bhow would you like\b|\bwhat would you like\b|\bwhat should\b|\bshould i\b|\bshall i\b|\bwhich\b|\bselect\b|\bchoose\b|\bpick\b).*\?\s*$`)
)

// DefaultTable returns the built-in prompt patterns.
func DefaultTable() *Table {
	t, err := NewTable(
		Pattern{
			ID:       "trust-folder",
			Kind:     TrustConfirm,
			Matcher:  Menu{Question: folderTrustQuestion, Lookback: 6},
			Response: responseFirst,
		},
		Pattern{
			ID:       "trust-proceed-bracket",
			Kind:     TrustConfirm,
			Matcher:  Substrings{All: []string{"[1] Yes, proceed", "[2] No, cancel"}, Fold: true, Tail: 4},
			Response: responseFirst,
		},
		Pattern{
			ID:       "trust-menu",
			Kind:     TrustConfirm,
			Matcher:  Menu{Question: trustQuestion},
			Response: responseFirst,
		},
		Pattern{
			ID:       "yes-no-default-yes",
			Kind:     YesNo,
			Matcher:  MustRegex(`\[Y/n\]:?\s*$`, 3),
			Response: responseY,
		},
		Pattern{
			ID:       "yes-no",
			Kind:     YesNo,
			Matcher:  MustRegex(`(?i)(\(y/n\)|\(yes/no\)|\[y/n\]|\[yes/no\]):?\s*$`, 3),
			Response: responseYes,
		},
		Pattern{
			ID:       "select-one-two",
			Kind:     NumberedSelect,
			Matcher:  MustRegex(`\[1/2\]:?\s*$`, 3),
			Response: responseFirst,
		},
		Pattern{
			ID:       "numbered-menu",
			Kind:     NumberedSelect,
			Matcher:  Menu{Question: selectQuestion},
			Response: responseFirst,
		},
		Pattern{
			ID:       "wrapped-menu",
			Kind:     MultilineSelect,
			Matcher:  Menu{Question: selectQuestion, Wrapped: true, Lookback: 3},
			Response: responseFirst,
		},
	)
	if err != nil {
		panic(err)
	}
	return t
}
