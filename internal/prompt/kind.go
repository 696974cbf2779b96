package prompt

import "fmt"

// Kind is the closed set of prompt shapes the classifier recognizes.
type Kind int

const (
	// TrustConfirm is a workspace/folder trust confirmation.
	TrustConfirm Kind = iota + 1
	// YesNo is a bracketed binary question such as "(y/n)".
	YesNo
	// NumberedSelect is a question followed by one option per line.
	NumberedSelect
	// MultilineSelect is a numbered menu whose options wrap across lines.
	MultilineSelect
)

// Kinds lists every kind in declaration order.
var Kinds = []Kind{TrustConfirm, YesNo, NumberedSelect, MultilineSelect}

func (k Kind) String() string {
	switch k {
	case TrustConfirm:
		return "trust_confirm"
	case YesNo:
		return "yes_no"
	case NumberedSelect:
		return "numbered_select"
	case MultilineSelect:
		return "multiline_select"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= TrustConfirm && k <= MultilineSelect
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid prompt kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind returns the kind with the given name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown prompt kind %q", s)
}
