package harness

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"

	"github.com/roach88/todocheck/internal/identity"
	"github.com/roach88/todocheck/internal/locator"
	"github.com/roach88/todocheck/internal/verify"
)

// Scenario is one ordered behavioural check against the application.
// It always starts from a reset store: either implicitly, or with an
// explicit reset as its first step.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario verifies.
	Description string `yaml:"description"`

	// URL overrides the harness base URL for this scenario.
	URL string `yaml:"url,omitempty"`

	Tags []string `yaml:"tags,omitempty"`

	// Timeout is the default bound for every action and assertion in the
	// scenario. Zero uses the harness defaults.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Steps []Step `yaml:"steps"`

	// Path is the file the scenario was loaded from, if any.
	Path string `yaml:"-"`
}

// Step actions.
const (
	ActionReset    = "reset"
	ActionNavigate = "navigate"
	ActionFill     = "fill"
	ActionClick    = "click"
	ActionAssert   = "assert"
)

// Identity effects a click can declare.
const (
	EffectCreate = "create"
	EffectToggle = "toggle"
	EffectDelete = "delete"
)

// Tabs the application exposes.
const (
	TabAddItem   = "add-item"
	TabTodo      = "todo"
	TabCompleted = "completed"
)

// Step is a single user action or assertion.
type Step struct {
	Action string `yaml:"action"`

	// Name is an optional label shown in reports.
	Name string `yaml:"name,omitempty"`

	// Tab is the destination of a navigate step.
	Tab string `yaml:"tab,omitempty"`

	// Target locates the element to act on or assert against.
	Target *locator.Descriptor `yaml:"target,omitempty"`

	// Value is the text typed by a fill step.
	Value string `yaml:"value,omitempty"`

	// Effect is the identity change a click causes.
	Effect string `yaml:"effect,omitempty"`

	// Task names the created task a toggle or delete applies to when the
	// target does not.
	Task int `yaml:"task,omitempty"`

	Expect *Expectation `yaml:"expect,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// EffectTask returns the task a toggle or delete applies to.
func (s Step) EffectTask() int {
	if s.Task > 0 {
		return s.Task
	}
	if s.Target != nil {
		return s.Target.Task
	}
	return 0
}

// Label is how reports refer to the step.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch {
	case s.Action == ActionNavigate:
		return "navigate " + s.Tab
	case s.Target != nil:
		return s.Action + " " + s.Target.String()
	}
	return s.Action
}

// BaseURLToken is replaced with the scenario's entry URL in url expectations.
const BaseURLToken = "{base_url}"

// Expectation is the condition an assert step checks. Exactly one field is
// set.
type Expectation struct {
	Visible  *bool   `yaml:"visible,omitempty"`
	Text     *string `yaml:"text,omitempty"`
	Contains *string `yaml:"contains,omitempty"`
	Count    *int    `yaml:"count,omitempty"`
	Value    *string `yaml:"value,omitempty"`
	Title    *string `yaml:"title,omitempty"`
	URL      *string `yaml:"url,omitempty"`
}

func (e *Expectation) set() []string {
	var keys []string
	if e.Visible != nil {
		keys = append(keys, "visible")
	}
	if e.Text != nil {
		keys = append(keys, "text")
	}
	if e.Contains != nil {
		keys = append(keys, "contains")
	}
	if e.Count != nil {
		keys = append(keys, "count")
	}
	if e.Value != nil {
		keys = append(keys, "value")
	}
	if e.Title != nil {
		keys = append(keys, "title")
	}
	if e.URL != nil {
		keys = append(keys, "url")
	}
	return keys
}

// Condition converts the expectation into an assertion condition. baseURL
// replaces BaseURLToken in url expectations.
func (e *Expectation) Condition(baseURL string) (verify.Condition, error) {
	keys := e.set()
	if len(keys) != 1 {
		return verify.Condition{}, fmt.Errorf("expect needs exactly one condition, got %d", len(keys))
	}

	var c verify.Condition
	switch keys[0] {
	case "visible":
		if !*e.Visible {
			return verify.Condition{}, errors.New("visible: false is not supported; use count: 0")
		}
		c = verify.IsVisible()
	case "text":
		c = verify.HasExactText(*e.Text)
	case "contains":
		c = verify.ContainsText(*e.Contains)
	case "count":
		c = verify.HasCount(*e.Count)
	case "value":
		c = verify.HasValue(*e.Value)
	case "title":
		c = verify.HasTitle(*e.Title)
	case "url":
		c = verify.HasURL(strings.ReplaceAll(*e.URL, BaseURLToken, baseURL))
	}
	return c, c.Validate()
}

//go:embed schema.cue
var schemaSource string

// SchemaError is a scenario file that does not match the scenario schema.
type SchemaError struct {
	Message string
	Pos     token.Pos
}

func (e *SchemaError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: schema: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return "schema: " + e.Message
}

// checkSchema validates raw YAML against the #Scenario definition.
func checkSchema(path string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile scenario schema: %w", err)
	}

	file, err := cueyaml.Extract(path, data)
	if err != nil {
		return formatCUEError(path, err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return formatCUEError(path, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Scenario")).Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(path, err)
	}
	return nil
}

// formatCUEError keeps the first CUE error, positioned in the scenario file
// when CUE reports a position there.
func formatCUEError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	msg := strings.TrimSpace(first.Error())
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more errors)", msg, len(errs)-1)
	}

	positions := cueerrors.Positions(first)
	for _, pos := range positions {
		if pos.Filename() == path {
			return &SchemaError{Message: msg, Pos: pos}
		}
	}
	if len(positions) > 0 {
		return &SchemaError{Message: msg, Pos: positions[0]}
	}
	return &SchemaError{Message: msg}
}

// LoadScenario reads, schema-checks and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields, or references a task before it is created.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	sc, err := ParseScenario(path, data)
	if err != nil {
		return nil, err
	}
	sc.Path = path
	return sc, nil
}

// ParseScenario parses scenario YAML. name is used in error positions.
func ParseScenario(name string, data []byte) (*Scenario, error) {
	if err := checkSchema(name, data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// Validate checks a scenario built in code the same way LoadScenario checks
// one read from disk.
func (s *Scenario) Validate() error {
	return validateScenario(s)
}

// validateScenario checks the rules the schema cannot express.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps must not be empty")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	return dryRunIdentity(s, true)
}

func validateStep(i int, step Step) error {
	if step.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if step.Target != nil {
		if err := step.Target.Validate(); err != nil {
			return fmt.Errorf("target: %w", err)
		}
	}
	if step.Tab != "" && step.Action != ActionNavigate {
		return fmt.Errorf("tab is only valid on navigate")
	}
	if step.Value != "" && step.Action != ActionFill {
		return fmt.Errorf("value is only valid on fill")
	}
	if step.Effect != "" && step.Action != ActionClick {
		return fmt.Errorf("effect is only valid on click")
	}
	if step.Expect != nil && step.Action != ActionAssert {
		return fmt.Errorf("expect is only valid on assert")
	}
	if step.Task != 0 && step.Effect != EffectToggle && step.Effect != EffectDelete {
		return fmt.Errorf("task is only valid with a toggle or delete effect")
	}

	switch step.Action {
	case ActionReset:
		if i != 0 {
			return fmt.Errorf("reset is only allowed as the first step")
		}
		if step.Target != nil {
			return fmt.Errorf("reset takes no target")
		}
	case ActionNavigate:
		switch step.Tab {
		case TabAddItem, TabTodo, TabCompleted:
		case "":
			return fmt.Errorf("navigate: tab is required")
		default:
			return fmt.Errorf("navigate: unknown tab %q", step.Tab)
		}
		if step.Target != nil {
			return fmt.Errorf("navigate takes a tab, not a target")
		}
	case ActionFill:
		if step.Target == nil {
			return fmt.Errorf("fill: target is required")
		}
	case ActionClick:
		if step.Target == nil {
			return fmt.Errorf("click: target is required")
		}
		switch step.Effect {
		case "", EffectCreate:
		case EffectToggle, EffectDelete:
			if step.EffectTask() == 0 {
				return fmt.Errorf("click: %s needs task or a task target", step.Effect)
			}
		default:
			return fmt.Errorf("click: unknown effect %q", step.Effect)
		}
	case ActionAssert:
		if step.Expect == nil {
			return fmt.Errorf("assert: expect is required")
		}
		cond, err := step.Expect.Condition(BaseURLToken)
		if err != nil {
			return fmt.Errorf("assert: %w", err)
		}
		switch {
		case cond.PageLevel() && step.Target != nil:
			return fmt.Errorf("assert: %s is page-level and takes no target", cond.Kind)
		case !cond.PageLevel() && step.Target == nil:
			return fmt.Errorf("assert: %s needs a target", cond.Kind)
		}
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}

// CheckToggles replays the scenario's identity effects under a profile's
// toggle rule. Loading allows moving a completed task back, so a scenario
// that relies on it only fails here, or at run time.
func (s *Scenario) CheckToggles(allowUncomplete bool) error {
	return dryRunIdentity(s, allowUncomplete)
}

// dryRunIdentity replays the identity effects so that a step addressing task
// N before N creates is rejected before any browser work.
func dryRunIdentity(s *Scenario, allowUncomplete bool) error {
	tracker := identity.New(allowUncomplete)
	for i, step := range s.Steps {
		if step.Target != nil && step.Target.Task > 0 {
			if _, err := tracker.IDFor(step.Target.Task); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}

		var err error
		switch step.Effect {
		case EffectCreate:
			tracker.RecordCreate(step.Value)
		case EffectToggle:
			err = tracker.RecordToggle(step.EffectTask())
		case EffectDelete:
			err = tracker.RecordDelete(step.EffectTask())
		}
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	return nil
}
