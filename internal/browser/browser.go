// Package browser defines the browser primitives todocheck consumes and
// provides chromedp and playwright-go backends for them.
//
// The surface is deliberately narrow: navigation, storage clearing, element
// lookup and the handful of element operations the verification engine needs.
// Everything else about the browser (installation, process lifecycle, profile
// directories) belongs to the backend.
//
// Handles returned by Find are bound to the document as it was when Find ran.
// They are only valid until the next Find on the same page; re-run Find
// instead of keeping them.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SelectorKind identifies the query language of a Selector.
type SelectorKind string

const (
	// CSS selects with a CSS selector (document.querySelectorAll semantics).
	CSS SelectorKind = "css"

	// XPath selects with an XPath 1.0 expression.
	XPath SelectorKind = "xpath"
)

// Selector is a concrete query against the live document.
type Selector struct {
	Kind SelectorKind
	Expr string
}

// CSSSelector returns a CSS selector.
func CSSSelector(expr string) Selector {
	return Selector{Kind: CSS, Expr: expr}
}

// XPathSelector returns an XPath selector.
func XPathSelector(expr string) Selector {
	return Selector{Kind: XPath, Expr: expr}
}

// String renders the selector as kind=expr, the form used in diagnostics.
func (s Selector) String() string {
	return fmt.Sprintf("%s=%s", s.Kind, s.Expr)
}

// Validate checks that the selector has a known kind and a non-empty expression.
func (s Selector) Validate() error {
	if s.Expr == "" {
		return fmt.Errorf("selector expression is empty")
	}
	switch s.Kind {
	case CSS, XPath:
		return nil
	default:
		return fmt.Errorf("unknown selector kind %q", s.Kind)
	}
}

var (
	// ErrDetached is returned when an element handle no longer refers to a
	// node in the current document.
	ErrDetached = errors.New("element is detached from the document")

	// ErrNotInteractable is returned when an element exists but cannot receive
	// input (hidden, disabled, zero-sized).
	ErrNotInteractable = errors.New("element is not interactable")
)

// Element is a handle to one node of the document.
type Element interface {
	// Text returns the node's textContent.
	Text(ctx context.Context) (string, error)

	// Value returns the current value of an input-like element.
	Value(ctx context.Context) (string, error)

	// Visible reports whether the element is rendered with a non-empty box.
	Visible(ctx context.Context) (bool, error)

	// Click performs a user click on the element.
	Click(ctx context.Context) error

	// Fill replaces the element's value as if typed by the user.
	Fill(ctx context.Context, value string) error
}

// Page is a navigable document with an origin-scoped persistent store.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error

	// WaitForLoad blocks until the document has finished loading all
	// resources (readyState "complete").
	WaitForLoad(ctx context.Context) error

	// ClearStorage clears localStorage and sessionStorage for the current origin.
	ClearStorage(ctx context.Context) error

	Title(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)

	// Find returns every element currently matching sel. It does not wait;
	// zero matches is not an error.
	Find(ctx context.Context, sel Selector) ([]Element, error)

	// Screenshot captures the viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Session is a Page with its own storage realm. Sessions never share
// persistent state with each other.
type Session interface {
	Page
	Close() error
}

// Launcher creates isolated sessions.
type Launcher interface {
	NewSession(ctx context.Context) (Session, error)
	Close() error
}

// Driver names accepted by NewLauncher.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Options configures a browser backend.
type Options struct {
	Headless     bool
	WindowWidth  int
	WindowHeight int

	// ExecPath overrides the browser binary (chromedp only).
	ExecPath string

	// SlowMo delays every operation (playwright only).
	SlowMo time.Duration
}

// DefaultOptions returns headless 1280x800 options.
func DefaultOptions() Options {
	return Options{
		Headless:     true,
		WindowWidth:  1280,
		WindowHeight: 800,
	}
}

// NewLauncher returns a launcher for the named driver.
func NewLauncher(driver string, opts Options, logger *slog.Logger) (Launcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch driver {
	case DriverChromedp, "":
		return NewChromeLauncher(opts, logger), nil
	case DriverPlaywright:
		return NewPlaywrightLauncher(opts, logger)
	default:
		return nil, fmt.Errorf("unknown browser driver %q: must be %s or %s", driver, DriverChromedp, DriverPlaywright)
	}
}
