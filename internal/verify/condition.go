package verify

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind identifies a condition.
type Kind string

const (
	KindVisible  Kind = "visible"
	KindText     Kind = "text"
	KindContains Kind = "contains"
	KindCount    Kind = "count"
	KindValue    Kind = "value"
	KindTitle    Kind = "title"
	KindURL      Kind = "url"
)

// Condition is an expected state of the document.
type Condition struct {
	Kind  Kind
	Text  string
	Count int
}

// IsVisible holds when the single matched element is rendered.
func IsVisible() Condition { return Condition{Kind: KindVisible} }

// HasExactText holds when the single matched element's normalized text
// equals s.
func HasExactText(s string) Condition { return Condition{Kind: KindText, Text: s} }

// ContainsText holds when any matched element's normalized text contains s.
func ContainsText(s string) Condition { return Condition{Kind: KindContains, Text: s} }

// HasCount holds when exactly n elements match.
func HasCount(n int) Condition { return Condition{Kind: KindCount, Count: n} }

// HasValue holds when the single matched input's value equals s.
func HasValue(s string) Condition { return Condition{Kind: KindValue, Text: s} }

// HasTitle holds when the document title equals s.
func HasTitle(s string) Condition { return Condition{Kind: KindTitle, Text: s} }

// HasURL holds when the page URL equals s.
func HasURL(s string) Condition { return Condition{Kind: KindURL, Text: s} }

// PageLevel reports whether the condition reads the page rather than a
// located element.
func (c Condition) PageLevel() bool {
	return c.Kind == KindTitle || c.Kind == KindURL
}

// Expected renders the expected value for diagnostics.
func (c Condition) Expected() string {
	switch c.Kind {
	case KindVisible:
		return "visible"
	case KindCount:
		return fmt.Sprint(c.Count)
	default:
		return fmt.Sprintf("%q", c.Text)
	}
}

func (c Condition) String() string {
	if c.Kind == KindVisible {
		return string(c.Kind)
	}
	return string(c.Kind) + " " + c.Expected()
}

// Validate checks the condition is one the engine knows.
func (c Condition) Validate() error {
	switch c.Kind {
	case KindVisible, KindValue:
		return nil
	case KindText, KindContains, KindTitle, KindURL:
		if c.Text == "" {
			return fmt.Errorf("%s needs a non-empty expected value", c.Kind)
		}
		return nil
	case KindCount:
		if c.Count < 0 {
			return fmt.Errorf("count must be >= 0, got %d", c.Count)
		}
		return nil
	default:
		return fmt.Errorf("unknown condition %q", c.Kind)
	}
}

// Normalize collapses runs of whitespace, trims, and applies NFC, so text
// compares the way a user reads it.
func Normalize(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
