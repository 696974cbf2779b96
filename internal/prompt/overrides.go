package prompt

import "strings"

// Overrides are manual responses per prompt shape. An empty field keeps the
// pattern's automatic response. Trust confirmations are never overridden.
type Overrides struct {
	// YesNo replaces the response to yes/no questions (e.g., "n").
	YesNo string `yaml:"yes_no" json:"yes_no,omitempty"`
	// SelectTwo replaces the response to menus with exactly two options.
	SelectTwo string `yaml:"select_two" json:"select_two,omitempty"`
	// SelectMany replaces the response to menus with three or more options.
	SelectMany string `yaml:"select_many" json:"select_many,omitempty"`
}

// IsZero reports whether no override is set.
func (o Overrides) IsZero() bool {
	return o.YesNo == "" && o.SelectTwo == "" && o.SelectMany == ""
}

// Apply returns m with its response replaced when an override covers its shape.
func (o Overrides) Apply(m Match) Match {
	var r string
	switch m.Kind {
	case YesNo:
		r = o.YesNo
	case NumberedSelect, MultilineSelect:
		switch {
		case m.Options == 2:
			r = o.SelectTwo
		case m.Options >= 3:
			r = o.SelectMany
		}
	}
	if r == "" {
		return m
	}
	if !strings.HasSuffix(r, "\n") {
		r += "\n"
	}
	m.Response = r
	return m
}
