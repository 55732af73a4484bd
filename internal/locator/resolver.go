// Package locator resolves semantic element descriptors against the live
// document.
//
// Resolution is always fresh: a Handle describes the document at the moment
// it was produced and must not be reused by a later step. Task descriptors
// address tasks by creation order through the identity model, never by their
// position in a list.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/todocheck/internal/browser"
	"github.com/roach88/todocheck/internal/identity"
)

// DefaultIDTemplate is the id pattern the to-do app uses for task text nodes.
const DefaultIDTemplate IDTemplate = "text-{n}"

// IDTemplate is an element id pattern containing a single {n} placeholder
// for the task's creation-order id.
type IDTemplate string

// Validate checks that the template has exactly one {n}.
func (t IDTemplate) Validate() error {
	if strings.Count(string(t), "{n}") != 1 {
		return fmt.Errorf("id template %q must contain exactly one {n}", string(t))
	}
	return nil
}

// Expand substitutes id into the template.
func (t IDTemplate) Expand(id int) string {
	return strings.Replace(string(t), "{n}", fmt.Sprint(id), 1)
}

// ErrAmbiguous is returned by Handle.Single when more than one element matched.
var ErrAmbiguous = errors.New("locator matched more than one element")

// NotFoundError reports that a descriptor matched nothing.
type NotFoundError struct {
	Locator  string
	Selector browser.Selector

	// Waited is how long the caller polled before giving up. Zero for a
	// single resolution attempt.
	Waited time.Duration
}

func (e *NotFoundError) Error() string {
	if e.Waited > 0 {
		return fmt.Sprintf("NOT_FOUND: no element matches %s (%s) after %s", e.Locator, e.Selector, e.Waited)
	}
	return fmt.Sprintf("NOT_FOUND: no element matches %s (%s)", e.Locator, e.Selector)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Handle is the result of one resolution.
type Handle struct {
	Descriptor Descriptor
	Selector   browser.Selector
	Elements   []browser.Element
	ResolvedAt time.Time
}

// Count returns the number of matched elements.
func (h *Handle) Count() int {
	return len(h.Elements)
}

// Single returns the only matched element.
func (h *Handle) Single() (browser.Element, error) {
	switch len(h.Elements) {
	case 0:
		return nil, &NotFoundError{Locator: h.Descriptor.String(), Selector: h.Selector}
	case 1:
		return h.Elements[0], nil
	default:
		return nil, fmt.Errorf("%s: %w (%d)", h.Descriptor, ErrAmbiguous, len(h.Elements))
	}
}

// Resolver maps descriptors to selectors and handles.
type Resolver struct {
	// Template builds task element ids. Empty means DefaultIDTemplate.
	Template IDTemplate

	// Identity validates task descriptors against the creates recorded so
	// far. When nil, task N maps straight to id N.
	Identity *identity.Tracker

	now func() time.Time
}

// NewResolver returns a resolver bound to a scenario's identity tracker.
func NewResolver(template IDTemplate, tracker *identity.Tracker) *Resolver {
	return &Resolver{Template: template, Identity: tracker}
}

func (r *Resolver) template() IDTemplate {
	if r.Template == "" {
		return DefaultIDTemplate
	}
	return r.Template
}

func (r *Resolver) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// Selector returns the concrete selector for d.
func (r *Resolver) Selector(d Descriptor) (browser.Selector, error) {
	if err := d.Validate(); err != nil {
		return browser.Selector{}, err
	}

	switch d.Kind() {
	case KindTask:
		id := d.Task
		if r.Identity != nil {
			var err error
			if id, err = r.Identity.IDFor(d.Task); err != nil {
				return browser.Selector{}, err
			}
		}
		return browser.CSSSelector(attrSelector("id", r.template().Expand(id))), nil
	case KindID:
		return browser.CSSSelector(attrSelector("id", d.ID)), nil
	case KindAttr:
		return browser.CSSSelector(attrSelector(d.Attr.Name, d.Attr.Value)), nil
	case KindRole:
		return browser.XPathSelector(roleXPath(d.Role, d.Text)), nil
	case KindCSS:
		return browser.CSSSelector(d.CSS), nil
	default:
		return browser.XPathSelector(d.XPath), nil
	}
}

// ResolveAll returns every element matching d right now. An empty handle is
// not an error.
func (r *Resolver) ResolveAll(ctx context.Context, page browser.Page, d Descriptor) (*Handle, error) {
	sel, err := r.Selector(d)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", d, err)
	}

	elements, err := page.Find(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", d, err)
	}

	if d.Nth != nil {
		if *d.Nth < len(elements) {
			elements = elements[*d.Nth : *d.Nth+1]
		} else {
			elements = nil
		}
	}

	return &Handle{
		Descriptor: d,
		Selector:   sel,
		Elements:   elements,
		ResolvedAt: r.clock(),
	}, nil
}

// Resolve is ResolveAll but fails with *NotFoundError on zero matches.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, d Descriptor) (*Handle, error) {
	h, err := r.ResolveAll(ctx, page, d)
	if err != nil {
		return nil, err
	}
	if h.Count() == 0 {
		return nil, &NotFoundError{Locator: d.String(), Selector: h.Selector}
	}
	return h, nil
}

func attrSelector(name, value string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return fmt.Sprintf(`[%s="%s"]`, name, r.Replace(value))
}

// roleXPath covers explicit ARIA roles and the implicit roles of the tags the
// to-do app renders.
func roleXPath(role, text string) string {
	var match string
	switch role {
	case "button":
		match = `self::button or (self::input and (@type="button" or @type="submit"))`
	case "link":
		match = `self::a[@href]`
	case "textbox":
		match = `(self::input and (not(@type) or @type="text" or @type="search" or @type="email")) or self::textarea`
	case "checkbox":
		match = `self::input[@type="checkbox"]`
	case "heading":
		match = `self::h1 or self::h2 or self::h3 or self::h4 or self::h5 or self::h6`
	case "list":
		match = `self::ul or self::ol`
	case "listitem":
		match = `self::li`
	}

	pred := fmt.Sprintf(`@role=%s`, xpathLiteral(role))
	if match != "" {
		pred = match + " or " + pred
	}

	expr := fmt.Sprintf(`//*[%s]`, pred)
	if text != "" {
		expr += fmt.Sprintf(`[normalize-space()=%s]`, xpathLiteral(text))
	}
	return expr
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}

	parts := strings.Split(s, `"`)
	args := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			args = append(args, `'"'`)
		}
		if p != "" {
			args = append(args, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(args, ", ") + ")"
}
