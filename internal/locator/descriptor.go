package locator

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind names the primary key of a Descriptor.
type Kind string

const (
	KindTask  Kind = "task"
	KindID    Kind = "id"
	KindAttr  Kind = "attr"
	KindRole  Kind = "role"
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
)

// Attr matches an element by one attribute value.
type Attr struct {
	Name  string `yaml:"name" json:"name"`
	Value string `yaml:"value" json:"value"`
}

// Descriptor is a semantic description of one or more elements. Exactly one
// of Task, ID, Attr, Role, CSS or XPath is set. Text refines Role. Nth picks
// one element (0-based) out of the matches.
type Descriptor struct {
	Task  int    `yaml:"task,omitempty" json:"task,omitempty"`
	ID    string `yaml:"id,omitempty" json:"id,omitempty"`
	Attr  *Attr  `yaml:"attr,omitempty" json:"attr,omitempty"`
	Role  string `yaml:"role,omitempty" json:"role,omitempty"`
	Text  string `yaml:"text,omitempty" json:"text,omitempty"`
	CSS   string `yaml:"css,omitempty" json:"css,omitempty"`
	XPath string `yaml:"xpath,omitempty" json:"xpath,omitempty"`
	Nth   *int   `yaml:"nth,omitempty" json:"nth,omitempty"`
}

// Task returns a descriptor for the nth created task.
func Task(n int) Descriptor { return Descriptor{Task: n} }

// ID returns a descriptor for the element with the given id.
func ID(id string) Descriptor { return Descriptor{ID: id} }

// AttrMatch returns a descriptor for elements whose attribute name equals value.
func AttrMatch(name, value string) Descriptor {
	return Descriptor{Attr: &Attr{Name: name, Value: value}}
}

// Role returns a descriptor for elements with an ARIA role and, when text is
// non-empty, that normalized text.
func Role(role, text string) Descriptor { return Descriptor{Role: role, Text: text} }

// CSS returns a structural CSS descriptor.
func CSS(expr string) Descriptor { return Descriptor{CSS: expr} }

// XPath returns a structural XPath descriptor.
func XPath(expr string) Descriptor { return Descriptor{XPath: expr} }

// At returns a copy of d that picks the nth (0-based) match.
func (d Descriptor) At(nth int) Descriptor {
	d.Nth = &nth
	return d
}

var (
	attrNameRe = regexp.MustCompile(`^[A-Za-z_][-A-Za-z0-9_]*$`)
	roleRe     = regexp.MustCompile(`^[a-z]+$`)
)

func (d Descriptor) keys() []Kind {
	var ks []Kind
	if d.Task != 0 {
		ks = append(ks, KindTask)
	}
	if d.ID != "" {
		ks = append(ks, KindID)
	}
	if d.Attr != nil {
		ks = append(ks, KindAttr)
	}
	if d.Role != "" {
		ks = append(ks, KindRole)
	}
	if d.CSS != "" {
		ks = append(ks, KindCSS)
	}
	if d.XPath != "" {
		ks = append(ks, KindXPath)
	}
	return ks
}

// Kind returns the primary key, or "" if d is not valid.
func (d Descriptor) Kind() Kind {
	ks := d.keys()
	if len(ks) != 1 {
		return ""
	}
	return ks[0]
}

// Validate checks that exactly one primary key is set and that its value is
// well formed.
func (d Descriptor) Validate() error {
	ks := d.keys()
	switch len(ks) {
	case 0:
		return fmt.Errorf("locator needs one of task, id, attr, role, css, xpath")
	case 1:
	default:
		names := make([]string, len(ks))
		for i, k := range ks {
			names[i] = string(k)
		}
		return fmt.Errorf("locator sets %s; exactly one is allowed", strings.Join(names, ", "))
	}

	if d.Text != "" && ks[0] != KindRole {
		return fmt.Errorf("text is only valid with role")
	}
	if d.Nth != nil && *d.Nth < 0 {
		return fmt.Errorf("nth must be >= 0, got %d", *d.Nth)
	}

	switch ks[0] {
	case KindTask:
		if d.Task < 1 {
			return fmt.Errorf("task must be >= 1, got %d", d.Task)
		}
	case KindAttr:
		if !attrNameRe.MatchString(d.Attr.Name) {
			return fmt.Errorf("attr name %q is not a valid attribute name", d.Attr.Name)
		}
	case KindRole:
		if !roleRe.MatchString(d.Role) {
			return fmt.Errorf("role %q must be lowercase letters", d.Role)
		}
	}
	return nil
}

// String renders d for diagnostics, e.g. task(2), role(button, "add")[0].
func (d Descriptor) String() string {
	var s string
	switch d.Kind() {
	case KindTask:
		s = fmt.Sprintf("task(%d)", d.Task)
	case KindID:
		s = fmt.Sprintf("id(%s)", d.ID)
	case KindAttr:
		s = fmt.Sprintf("attr(%s=%q)", d.Attr.Name, d.Attr.Value)
	case KindRole:
		if d.Text != "" {
			s = fmt.Sprintf("role(%s, %q)", d.Role, d.Text)
		} else {
			s = fmt.Sprintf("role(%s)", d.Role)
		}
	case KindCSS:
		s = fmt.Sprintf("css(%s)", d.CSS)
	case KindXPath:
		s = fmt.Sprintf("xpath(%s)", d.XPath)
	default:
		s = "invalid"
	}
	if d.Nth != nil {
		s += fmt.Sprintf("[%d]", *d.Nth)
	}
	return s
}
